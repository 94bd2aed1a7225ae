package jobentity

type Status string

const (
	PendingStatus     Status = "pending"
	DownloadingStatus Status = "downloading"
	ProcessingStatus  Status = "processing"
	CompletedStatus   Status = "completed"
	FailedStatus      Status = "failed"
	CancelledStatus   Status = "cancelled"
)

// Terminal statuses are absorbing - once a job reaches one,
// no further mutation is permitted.
func (s Status) Terminal() bool {
	switch s {
	case CompletedStatus, FailedStatus, CancelledStatus:
		return true
	default:
		return false
	}
}

// Job is a snapshot of one separation request. Stems is only populated
// for completed jobs, Error only for failed jobs - never both.
type Job struct {
	ID       string
	Status   Status
	Progress float64
	Stems    []string
	Error    string
}

func (j Job) Clone() Job {
	clone := j
	if j.Stems != nil {
		clone.Stems = make([]string, len(j.Stems))
		copy(clone.Stems, j.Stems)
	}

	return clone
}
