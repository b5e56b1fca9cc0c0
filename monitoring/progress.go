package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar reports how many accesses of a trace have been replayed.
type ProgressBar struct {
	lock sync.Mutex

	id        string
	name      string
	startTime time.Time
	total     uint64
	finished  uint64
}

// ID returns the unique ID of the bar.
func (b *ProgressBar) ID() string {
	return b.id
}

// SetFinished sets the number of accesses replayed so far.
func (b *ProgressBar) SetFinished(finished uint64) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.finished = finished
}

type progressBarRsp struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	StartTime      time.Time `json:"start_time"`
	Total          uint64    `json:"total"`
	Finished       uint64    `json:"finished"`
	AccessesPerSec float64   `json:"accesses_per_sec"`
}

func (b *ProgressBar) status(now time.Time) progressBarRsp {
	b.lock.Lock()
	defer b.lock.Unlock()

	rsp := progressBarRsp{
		ID:        b.id,
		Name:      b.name,
		StartTime: b.startTime,
		Total:     b.total,
		Finished:  b.finished,
	}

	elapsed := now.Sub(b.startTime).Seconds()
	if elapsed > 0 {
		rsp.AccessesPerSec = float64(b.finished) / elapsed
	}

	return rsp
}
