package model

// DefaultUsername is used when a computer's transport has no configured user.
const DefaultUsername = "fireuser"

// NoCategory is the category label that selects jobs without any category.
const NoCategory = "__none__"

// WorkerSpec is the persisted definition of a worker, as written by
// generate-worker and read back by the worker launcher.
type WorkerSpec struct {
	Name         string            `json:"name" yaml:"name"`
	Category     []string          `json:"category,omitempty" yaml:"category,omitempty"`
	Query        map[string]any    `json:"query,omitempty" yaml:"query,omitempty"`
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	HostID       string            `json:"computer_id" yaml:"computer_id"`
	Username     string            `json:"username" yaml:"username"`
	ProcessCount int               `json:"process_count" yaml:"process_count"`
}

// Normalize fills defaults left empty in a loaded spec.
func (w *WorkerSpec) Normalize() {
	if w.Username == "" {
		w.Username = DefaultUsername
	}
	if w.Query == nil {
		w.Query = map[string]any{}
	}
}
