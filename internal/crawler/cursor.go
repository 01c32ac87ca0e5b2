package crawler

import (
	"sync"
	"sync/atomic"
)

// State is the orchestrator's lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateStopping
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// StopReason explains why a run left RUNNING.
type StopReason string

const (
	StopNone        StopReason = ""
	StopCutoff      StopReason = "cutoff"
	StopQuota       StopReason = "quota"
	StopNoMoreLinks StopReason = "no_more_links"
	StopMaxPages    StopReason = "max_pages"
	StopCanceled    StopReason = "canceled"
)

// Cursor is the run-scoped crawl state shared by every download task of one run.
// A fresh Cursor is created per Run, so concurrent runs never share counters.
type Cursor struct {
	state      atomic.Int32
	page       atomic.Int64
	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	withheld   atomic.Int64
	// claimed counts quota slots held by in-flight and finished downloads.
	claimed atomic.Int64
	quota   int64

	mu     sync.Mutex
	reason StopReason
}

// NewCursor returns a RUNNING cursor. quota <= 0 disables the download quota.
func NewCursor(quota int) *Cursor {
	return &Cursor{quota: int64(quota)}
}

// State returns the current lifecycle state.
func (c *Cursor) State() State { return State(c.state.Load()) }

// Stopping reports whether new work must not be scheduled.
func (c *Cursor) Stopping() bool { return c.State() != StateRunning }

// Stop moves RUNNING to STOPPING. The first reason wins; later calls return false.
func (c *Cursor) Stop(reason StopReason) bool {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return false
	}
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	return true
}

// Finish moves the cursor to DONE, recording reason if none was set yet.
func (c *Cursor) Finish(reason StopReason) {
	c.Stop(reason)
	c.state.Store(int32(StateDone))
}

// Reason returns why the run stopped.
func (c *Cursor) Reason() StopReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// SetPage records the page being processed.
func (c *Cursor) SetPage(n int) { c.page.Store(int64(n)) }

// Page returns the page being processed.
func (c *Cursor) Page() int { return int(c.page.Load()) }

// Reserve claims one quota slot before a fetch. It reports false once every slot is
// held, so concurrent tasks of one page never fetch past the quota.
func (c *Cursor) Reserve() bool {
	if c.quota <= 0 {
		return true
	}
	for {
		n := c.claimed.Load()
		if n >= c.quota {
			return false
		}
		if c.claimed.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release returns a slot claimed by a download that did not complete.
func (c *Cursor) Release() {
	if c.quota > 0 {
		c.claimed.Add(-1)
	}
}

// RecordDownload counts a successful download and trips the quota when reached.
func (c *Cursor) RecordDownload() int64 {
	n := c.downloaded.Add(1)
	if c.quota > 0 && n >= c.quota {
		c.Stop(StopQuota)
	}
	return n
}

// RecordSkip counts a document that was already stored.
func (c *Cursor) RecordSkip() { c.skipped.Add(1) }

// RecordFailure counts a download that failed.
func (c *Cursor) RecordFailure() { c.failed.Add(1) }

// RecordWithheld counts a task that found the quota exhausted before fetching.
func (c *Cursor) RecordWithheld() { c.withheld.Add(1) }

// Downloaded returns the number of successful downloads so far.
func (c *Cursor) Downloaded() int { return int(c.downloaded.Load()) }

// Skipped returns the number of already-stored documents so far.
func (c *Cursor) Skipped() int { return int(c.skipped.Load()) }

// Failed returns the number of failed downloads so far.
func (c *Cursor) Failed() int { return int(c.failed.Load()) }

// Withheld returns the number of tasks that did not fetch because of the quota.
func (c *Cursor) Withheld() int { return int(c.withheld.Load()) }
