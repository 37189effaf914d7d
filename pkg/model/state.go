package model

// FireState is the queue engine's native state of a job document.
type FireState string

const (
	FireStatePaused    FireState = "PAUSED"
	FireStateWaiting   FireState = "WAITING"
	FireStateReady     FireState = "READY"
	FireStateReserved  FireState = "RESERVED"
	FireStateRunning   FireState = "RUNNING"
	FireStateCompleted FireState = "COMPLETED"
	FireStateArchived  FireState = "ARCHIVED"
	FireStateDefused   FireState = "DEFUSED"
	FireStateFizzled   FireState = "FIZZLED"
)

// String returns the string representation of the native state.
func (s FireState) String() string {
	return string(s)
}

// IsFinished returns true for states that the list operation filters out.
func (s FireState) IsFinished() bool {
	return s == FireStateCompleted || s == FireStateArchived
}

// CanDefuse returns true if the queue engine accepts a defuse request in this state.
// Defusing a defused job is a no-op that succeeds, so retries are safe.
// Running jobs are stopped through the stop file instead.
func (s FireState) CanDefuse() bool {
	switch s {
	case FireStatePaused, FireStateWaiting, FireStateReady, FireStateReserved, FireStateFizzled, FireStateDefused:
		return true
	}
	return false
}

// ValidFireTransitions defines the transitions the queue engine performs.
var ValidFireTransitions = map[FireState][]FireState{
	FireStatePaused:    {FireStateReady, FireStateDefused},
	FireStateWaiting:   {FireStateReady, FireStateDefused},
	FireStateReady:     {FireStateReserved, FireStateRunning, FireStateDefused, FireStatePaused},
	FireStateReserved:  {FireStateRunning, FireStateReady, FireStateDefused},
	FireStateRunning:   {FireStateCompleted, FireStateFizzled},
	FireStateFizzled:   {FireStateReady, FireStateDefused},
	FireStateDefused:   {FireStateReady},
	FireStateCompleted: {FireStateArchived},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s FireState) CanTransitionTo(next FireState) bool {
	for _, allowed := range ValidFireTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobState is the workflow manager's view of a job.
type JobState string

const (
	JobStateQueuedHeld   JobState = "queued_held"
	JobStateQueued       JobState = "queued"
	JobStateRunning      JobState = "running"
	JobStateDone         JobState = "done"
	JobStateSuspended    JobState = "suspended"
	JobStateUndetermined JobState = "undetermined"
)

// String returns the string representation of the job state.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job will not change state on its own.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateDone, JobStateSuspended, JobStateUndetermined:
		return true
	}
	return false
}

// fireToJobState is the fixed translation table. FIZZLED maps to undetermined.
var fireToJobState = map[FireState]JobState{
	FireStatePaused:    JobStateQueuedHeld,
	FireStateWaiting:   JobStateQueued,
	FireStateReady:     JobStateQueued,
	FireStateReserved:  JobStateQueued,
	FireStateRunning:   JobStateRunning,
	FireStateCompleted: JobStateDone,
	FireStateArchived:  JobStateUndetermined,
	FireStateDefused:   JobStateSuspended,
	FireStateFizzled:   JobStateUndetermined,
}

// TranslateFireState maps a native state onto a JobState. The second return
// value is false when the native state has no entry in the table, in which
// case the result is JobStateUndetermined.
func TranslateFireState(s FireState) (JobState, bool) {
	js, ok := fireToJobState[s]
	if !ok {
		return JobStateUndetermined, false
	}
	return js, true
}
