package computer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/me/firebridge/pkg/model"
)

// WorkerOptions are the user choices for GenerateWorker.
type WorkerOptions struct {
	ProcessCount int
	Name         string
	Categories   []string

	// DefaultUsername is the owner of jobs on computers without a username.
	DefaultUsername string
}

// GenerateWorker derives the worker definition that serves jobs submitted
// to c. Only computers scheduled through the queue have workers.
func GenerateWorker(c Computer, opts WorkerOptions) (model.WorkerSpec, error) {
	if c.Scheduler != SchedulerName {
		return model.WorkerSpec{}, fmt.Errorf("can only generate a worker for computers using the %q scheduler, %s uses %q",
			SchedulerName, c.Label, c.Scheduler)
	}
	if opts.ProcessCount < 1 {
		return model.WorkerSpec{}, fmt.Errorf("process count must be positive, got %d", opts.ProcessCount)
	}
	username := c.Owner(opts.DefaultUsername)
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("Worker on %s for %s with process count: %d", c.HostID, username, opts.ProcessCount)
	}
	spec := model.WorkerSpec{
		Name:         name,
		Category:     opts.Categories,
		HostID:       c.HostID,
		Username:     username,
		ProcessCount: opts.ProcessCount,
	}
	spec.Normalize()
	return spec, nil
}

// WriteWorkerFile stores spec as YAML.
func WriteWorkerFile(path string, spec model.WorkerSpec) error {
	data, err := yaml.Marshal(&spec)
	if err != nil {
		return fmt.Errorf("encode worker: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write worker file: %w", err)
	}
	return nil
}

// LoadWorkerFile reads a worker definition written by WriteWorkerFile.
func LoadWorkerFile(path string) (model.WorkerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.WorkerSpec{}, fmt.Errorf("read worker file: %w", err)
	}
	var spec model.WorkerSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return model.WorkerSpec{}, fmt.Errorf("parse worker file %s: %w", path, err)
	}
	if spec.HostID == "" || spec.ProcessCount < 1 {
		return model.WorkerSpec{}, fmt.Errorf("worker file %s: computer_id and process_count are required", path)
	}
	spec.Normalize()
	return spec, nil
}
