package domain

import "time"

// JobType is the closed set of analysis-queue job types. Each type maps
// to the fixed priority ordering spec.md §4.5 mandates: lower Priority()
// is dequeued first, and the literal ordering
// user-triggered < fork < initial < reanalysis < connection
// is encoded directly in Priority()'s switch below rather than left to
// be inferred from declaration order.
type JobType string

const (
	JobUserTriggered JobType = "user-triggered"
	JobFork          JobType = "fork"
	JobInitial       JobType = "initial"
	JobReanalysis    JobType = "reanalysis"
	JobConnection    JobType = "connection"
)

// Priority returns the fixed priority integer for a job type; lower
// sorts earlier. FIFO within equal priority is broken by enqueue time
// then job id at the store layer.
func (t JobType) Priority() int {
	switch t {
	case JobUserTriggered:
		return 0
	case JobFork:
		return 1
	case JobInitial:
		return 2
	case JobReanalysis:
		return 3
	case JobConnection:
		return 4
	default:
		return 100
	}
}

// JobStatus is the closed job lifecycle state, per spec.md §4.5's state
// machine: pending -> running -> {completed | failed | pending}.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a queued unit of analysis work.
type Job struct {
	ID       string
	Type     JobType
	Priority int

	SessionFile string
	Segment     *Segment // nil for jobs that target a whole session, not yet a known segment
	Computer    string   // resolved source-machine tag, carried independently of Segment since the queue's persisted row reconstructs a minimal Segment
	Context     map[string]interface{}

	Status     JobStatus
	RetryCount int
	MaxRetries int

	WorkerID    string
	LeaseExpiry time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time

	LastError    string
	ResultNodeID string
}

// NewJob builds a pending job with the type's fixed priority and the
// given retry budget, ready for Queue.Enqueue. Computer is taken from
// segment when one is given, so callers that already resolved a
// segment's source-machine tag never have to set it twice.
func NewJob(jobType JobType, sessionFile string, segment *Segment, ctx map[string]interface{}, maxRetries int) Job {
	var computer string
	if segment != nil {
		computer = segment.Computer
	}
	return Job{
		Type:        jobType,
		Priority:    jobType.Priority(),
		SessionFile: sessionFile,
		Segment:     segment,
		Computer:    computer,
		Context:     ctx,
		Status:      JobPending,
		MaxRetries:  maxRetries,
	}
}
