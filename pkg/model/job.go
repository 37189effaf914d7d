package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ReservedCategory marks jobs created by the bridge. Generic workers exclude
// it and bridge workers require it, so the two pools never overlap.
const ReservedCategory = "FIREBRIDGE_RESERVED_CATEGORY"

// DocumentSchemaVersion is written into every job document the bridge creates.
const DocumentSchemaVersion = 1

// Dotted paths into the job document, shared by the store and the query builders.
const (
	FieldID              = "fw_id"
	FieldName            = "name"
	FieldState           = "state"
	FieldCategory        = "spec._category"
	FieldPriority        = "spec._priority"
	FieldLaunchDir       = "spec._launch_dir"
	FieldFWorker         = "spec._fworker"
	FieldGenericWalltime = "spec._walltime_seconds"
	FieldHostID          = "spec._job_info.host_id"
	FieldUsername        = "spec._job_info.username"
	FieldRemoteWorkDir   = "spec._job_info.remote_work_dir"
	FieldProcessCount    = "spec._job_info.process_count"
	FieldWallClock       = "spec._job_info.wall_clock_seconds"
)

// SubmissionOptions is the structured content of a submission script's directives.
type SubmissionOptions struct {
	JobName          string `json:"job_name"`
	StdoutPath       string `json:"stdout_path"`
	StderrPath       string `json:"stderr_path"`
	ProcessCount     int    `json:"process_count"`
	WallClockSeconds int    `json:"wall_clock_seconds"`
	Priority         int    `json:"priority"`
}

// Resources is the resource block used for worker matching.
type Resources struct {
	ProcessCount     int `json:"process_count"`
	WallClockSeconds int `json:"wall_clock_seconds"`
}

// Launch records one execution of a job by a worker.
type Launch struct {
	ID        string     `json:"launch_id"`
	Worker    string     `json:"worker"`
	Host      string     `json:"host"`
	StartedOn time.Time  `json:"started_on"`
	EndedOn   *time.Time `json:"ended_on,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// JobRecord is the typed form of a queue-engine job document. Records with a
// HostID are bridge-managed; records without one are generic queue jobs.
type JobRecord struct {
	ID            int64     `json:"fw_id"`
	Name          string    `json:"name"`
	State         FireState `json:"state"`
	HostID        string    `json:"host_id,omitempty"`
	Owner         string    `json:"owner,omitempty"`
	RemoteWorkDir string    `json:"remote_work_dir,omitempty"`
	SubmitScript  string    `json:"submit_script,omitempty"`
	Resources     Resources `json:"resources"`
	Category      string    `json:"category,omitempty"`
	Priority      int       `json:"priority"`
	LaunchDir     string    `json:"launch_dir,omitempty"`
	FWorker       string    `json:"fworker,omitempty"`
	Script        string    `json:"script"`
	Shell         string    `json:"shell"`
	CreatedOn     time.Time `json:"created_on"`
	UpdatedOn     time.Time `json:"updated_on"`
	Launch        *Launch   `json:"launch,omitempty"`
}

// IDString returns the opaque id handed to the workflow manager.
func (r *JobRecord) IDString() string {
	return strconv.FormatInt(r.ID, 10)
}

// IsBridgeManaged returns true if the record was created by the bridge.
func (r *JobRecord) IsBridgeManaged() bool {
	return r.Category == ReservedCategory
}

// ToDocument converts the record to the loosely-typed wire form stored by the
// queue engine.
func (r *JobRecord) ToDocument() map[string]any {
	spec := map[string]any{
		"_schema":     DocumentSchemaVersion,
		"_priority":   r.Priority,
		"_launch_dir": r.LaunchDir,
		"_tasks": []any{
			map[string]any{"script": r.Script, "shell_exe": r.Shell},
		},
	}
	if r.Category != "" {
		spec["_category"] = r.Category
	}
	if r.FWorker != "" {
		spec["_fworker"] = r.FWorker
	}
	if r.HostID != "" {
		spec["_job_info"] = map[string]any{
			"host_id":            r.HostID,
			"username":           r.Owner,
			"remote_work_dir":    r.RemoteWorkDir,
			"submit_script":      r.SubmitScript,
			"process_count":      r.Resources.ProcessCount,
			"wall_clock_seconds": r.Resources.WallClockSeconds,
		}
	} else if r.Resources.WallClockSeconds > 0 {
		spec["_walltime_seconds"] = r.Resources.WallClockSeconds
	}

	doc := map[string]any{
		"fw_id":      r.ID,
		"name":       r.Name,
		"state":      string(r.State),
		"created_on": r.CreatedOn.UTC().Format(time.RFC3339Nano),
		"updated_on": r.UpdatedOn.UTC().Format(time.RFC3339Nano),
		"spec":       spec,
	}
	if r.Launch != nil {
		doc["launch"] = launchToMap(r.Launch)
	}
	return doc
}

// RecordFromDocument converts a wire-form document back into a JobRecord.
func RecordFromDocument(doc map[string]any) (*JobRecord, error) {
	id, ok := AsInt64(doc["fw_id"])
	if !ok {
		return nil, fmt.Errorf("document has no valid fw_id: %v", doc["fw_id"])
	}
	spec, _ := doc["spec"].(map[string]any)
	if spec == nil {
		return nil, fmt.Errorf("document %d has no spec", id)
	}
	if v, ok := AsInt64(spec["_schema"]); ok && v > DocumentSchemaVersion {
		return nil, fmt.Errorf("document %d has unsupported schema version %d", id, v)
	}

	r := &JobRecord{
		ID:        id,
		Name:      asString(doc["name"]),
		State:     FireState(asString(doc["state"])),
		Category:  asString(spec["_category"]),
		LaunchDir: asString(spec["_launch_dir"]),
		FWorker:   asString(spec["_fworker"]),
	}
	if p, ok := AsInt64(spec["_priority"]); ok {
		r.Priority = int(p)
	}
	if tasks, ok := spec["_tasks"].([]any); ok && len(tasks) > 0 {
		if task, ok := tasks[0].(map[string]any); ok {
			r.Script = asString(task["script"])
			r.Shell = asString(task["shell_exe"])
		}
	}
	if info, ok := spec["_job_info"].(map[string]any); ok {
		r.HostID = asString(info["host_id"])
		r.Owner = asString(info["username"])
		r.RemoteWorkDir = asString(info["remote_work_dir"])
		r.SubmitScript = asString(info["submit_script"])
		if n, ok := AsInt64(info["process_count"]); ok {
			r.Resources.ProcessCount = int(n)
		}
		if n, ok := AsInt64(info["wall_clock_seconds"]); ok {
			r.Resources.WallClockSeconds = int(n)
		}
	} else if n, ok := AsInt64(spec["_walltime_seconds"]); ok {
		r.Resources.WallClockSeconds = int(n)
	}
	r.CreatedOn, _ = time.Parse(time.RFC3339Nano, asString(doc["created_on"]))
	r.UpdatedOn, _ = time.Parse(time.RFC3339Nano, asString(doc["updated_on"]))

	if l, ok := doc["launch"].(map[string]any); ok {
		r.Launch = launchFromMap(l)
	}
	return r, nil
}

func launchToMap(l *Launch) map[string]any {
	m := map[string]any{
		"launch_id":  l.ID,
		"worker":     l.Worker,
		"host":       l.Host,
		"started_on": l.StartedOn.UTC().Format(time.RFC3339Nano),
	}
	if l.EndedOn != nil {
		m["ended_on"] = l.EndedOn.UTC().Format(time.RFC3339Nano)
	}
	if l.ExitCode != nil {
		m["exit_code"] = *l.ExitCode
	}
	if l.Error != "" {
		m["error"] = l.Error
	}
	return m
}

func launchFromMap(m map[string]any) *Launch {
	l := &Launch{
		ID:     asString(m["launch_id"]),
		Worker: asString(m["worker"]),
		Host:   asString(m["host"]),
		Error:  asString(m["error"]),
	}
	l.StartedOn, _ = time.Parse(time.RFC3339Nano, asString(m["started_on"]))
	if s := asString(m["ended_on"]); s != "" {
		t, _ := time.Parse(time.RFC3339Nano, s)
		l.EndedOn = &t
	}
	if n, ok := AsInt64(m["exit_code"]); ok {
		code := int(n)
		l.ExitCode = &code
	}
	return l
}

// AsInt64 converts the numeric types that appear in decoded documents.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// JobInfo is what the list operation reports for each job.
type JobInfo struct {
	JobID          string    `json:"job_id"`
	State          JobState  `json:"state"`
	NativeState    FireState `json:"native_state"`
	Title          string    `json:"title"`
	QueueName      string    `json:"queue_name,omitempty"`
	SubmissionTime time.Time `json:"submission_time"`
}
