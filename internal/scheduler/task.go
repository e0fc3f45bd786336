package scheduler

import (
	"context"
	"time"
)

// FetchFunc produces the payload for one background fetch attempt. It must
// honor ctx; attempts that outlive their deadline are abandoned.
type FetchFunc func(ctx context.Context) (any, error)

// taskState tracks a task through pending → running → {retrying → pending,
// terminal}. Terminal outcomes leave the task tables entirely and exist only
// as a Result.
type taskState int

const (
	statePending taskState = iota
	stateRunning
	stateRetrying
)

// task is one unit of background work, unique per submission.
type task struct {
	id          string
	key         string
	fn          FetchFunc
	priority    int
	retriesLeft int
	timeout     time.Duration

	// seq breaks priority ties FIFO; it is reassigned on each requeue.
	seq     uint64
	attempt int
	state   taskState
}

// Result is the terminal outcome of a fetch task. Exactly one Result exists
// per completed task; a task mid-retry has none yet.
type Result struct {
	RequestID   string        `json:"request_id"`
	Key         string        `json:"key"`
	Success     bool          `json:"success"`
	Data        any           `json:"data,omitempty"`
	Err         string        `json:"error,omitempty"`
	FetchTime   time.Duration `json:"fetch_time"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Statistics is a snapshot of scheduler activity since process start.
type Statistics struct {
	Submitted        uint64        `json:"submitted"`
	Deduplicated     uint64        `json:"deduplicated"`
	Succeeded        uint64        `json:"succeeded"`
	Failed           uint64        `json:"failed"`
	Retried          uint64        `json:"retried"`
	AverageFetchTime time.Duration `json:"average_fetch_time"`
	QueueDepth       int           `json:"queue_depth"`
	Running          int           `json:"running"`
}
