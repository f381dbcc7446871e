package domain

// RunStatus moves pending -> running -> completed|failed and never back.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransition reports whether a run may move from s to next.
// pending may fail directly when the launch is rejected.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning || next == RunFailed
	case RunRunning:
		return next == RunCompleted || next == RunFailed
	}
	return false
}

type ProfileStatus string

const (
	ProfileNotGenerated ProfileStatus = "not_generated"
	ProfileDraftReady   ProfileStatus = "draft_ready"
	ProfileSent         ProfileStatus = "sent"
	ProfileFailed       ProfileStatus = "failed"
)

func (s ProfileStatus) Valid() bool {
	switch s {
	case ProfileNotGenerated, ProfileDraftReady, ProfileSent, ProfileFailed:
		return true
	}
	return false
}

// QueueStatus moves pending -> sending -> sent|failed.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSending QueueStatus = "sending"
	QueueSent    QueueStatus = "sent"
	QueueFailed  QueueStatus = "failed"
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueSending, QueueSent, QueueFailed:
		return true
	}
	return false
}

func (s QueueStatus) Terminal() bool {
	return s == QueueSent || s == QueueFailed
}

func (s QueueStatus) CanTransition(next QueueStatus) bool {
	switch s {
	case QueuePending:
		return next == QueueSending || next == QueueFailed
	case QueueSending:
		return next == QueueSent || next == QueueFailed
	}
	return false
}
