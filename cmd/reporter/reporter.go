// Package reporter owns the progress record of one comparison run. The engine publishes
// immutable snapshots; observers pull the latest or subscribe to a coalescing stream.
package reporter

import (
	"errors"
	"sync"
	"time"
)

// Stage is the run state machine position
type Stage string

const (
	StageIdle           Stage = "idle"
	StageQueued         Stage = "queued"
	StageCounting       Stage = "counting"
	StageSplitting      Stage = "splitting"
	StageInserting      Stage = "inserting"
	StageBucketComplete Stage = "bucket-complete"
	StageFinalizing     Stage = "finalizing"
	StageCompleted      Stage = "completed"
	StageCancelled      Stage = "cancelled"
	StageFailed         Stage = "failed"
	StagePartial        Stage = "partial"
)

// Terminal reports whether no further snapshots follow this stage
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageCancelled, StageFailed, StagePartial:
		return true
	}
	return false
}

// StopMode is the kind of stop requested by an observer
type StopMode int

const (
	StopNone StopMode = iota
	StopCancel
	StopFinishEarly
)

func (m StopMode) String() string {
	switch m {
	case StopCancel:
		return "cancel"
	case StopFinishEarly:
		return "finish-early"
	default:
		return "none"
	}
}

var ErrFinishEarlyUnsupported = errors.New("finish early is only supported by partitioned algorithms")

// BucketRef identifies the bucket a run is working on
type BucketRef struct {
	Modulus int64  `json:"modulus"`
	Index   int64  `json:"bucket"`
	Depth   int    `json:"depth"`
	Start   uint64 `json:"start,omitempty"`
	End     uint64 `json:"end,omitempty"`
	CountA  int64  `json:"countA"`
	CountB  int64  `json:"countB"`
}

// Progress is one immutable snapshot of a run
type Progress struct {
	RunID                string     `json:"runId"`
	Stage                Stage      `json:"stage"`
	TotalBuckets         int        `json:"totalBuckets"`
	CompletedBuckets     int        `json:"completedBuckets"`
	ProcessedRows        int64      `json:"processedRows"`
	DiffRows             int64      `json:"diffRows"`
	CurrentBucket        *BucketRef `json:"currentBucket"`
	LastBucket           *BucketRef `json:"lastBucket,omitempty"`
	CancelRequested      bool       `json:"cancelRequested"`
	FinishEarlyRequested bool       `json:"finishEarlyRequested"`
	SupportsFinishEarly  bool       `json:"supportsFinishEarly"`
	StartedAt            time.Time  `json:"startedAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	Error                string     `json:"error,omitempty"`
}

// Percent returns completed buckets as a 0..100 share of the known total
func (p Progress) Percent() float64 {
	if p.TotalBuckets == 0 {
		return 0
	}
	return float64(p.CompletedBuckets) / float64(p.TotalBuckets) * 100
}

// Reporter fans snapshots out to subscribers and holds the stop signal
type Reporter struct {
	mu       sync.Mutex
	current  Progress
	subs     map[*Subscription]struct{}
	finished bool

	mode     StopMode
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a reporter holding an initial snapshot
func New(initial Progress) *Reporter {
	if initial.Stage == "" {
		initial.Stage = StageIdle
	}
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = time.Now()
	}
	return &Reporter{
		current: initial,
		subs:    make(map[*Subscription]struct{}),
		stop:    make(chan struct{}),
	}
}

// Current returns the latest snapshot
func (r *Reporter) Current() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Publish replaces the current snapshot. Only the engine calls it. Request flags are
// owned by the reporter and override whatever the caller set. Snapshots published after
// a terminal one are ignored.
func (r *Reporter) Publish(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	p.CancelRequested = r.mode == StopCancel
	p.FinishEarlyRequested = r.mode == StopFinishEarly
	r.current = p
	r.broadcastLocked()

	if p.Stage.Terminal() {
		r.finished = true
		for sub := range r.subs {
			sub.closeLocked()
		}
		r.subs = make(map[*Subscription]struct{})
	}
}

// RequestCancel asks the run to stop as soon as possible. Cancel wins over a pending
// finish-early request.
func (r *Reporter) RequestCancel() {
	r.request(StopCancel)
}

// RequestFinishEarly asks the run to stop at the next bucket boundary and keep what it
// has accumulated.
func (r *Reporter) RequestFinishEarly() error {
	r.mu.Lock()
	supported := r.current.SupportsFinishEarly
	r.mu.Unlock()

	if !supported {
		return ErrFinishEarlyUnsupported
	}
	r.request(StopFinishEarly)
	return nil
}

func (r *Reporter) request(mode StopMode) {
	r.mu.Lock()
	if r.finished || r.mode == StopCancel || r.mode == mode {
		r.mu.Unlock()
		return
	}
	r.mode = mode
	r.current.CancelRequested = mode == StopCancel
	r.current.FinishEarlyRequested = mode == StopFinishEarly
	r.current.UpdatedAt = time.Now()
	r.broadcastLocked()
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stop) })
}

// Signal is closed once any stop has been requested
func (r *Reporter) Signal() <-chan struct{} {
	return r.stop
}

// StopMode returns the requested stop, if any
func (r *Reporter) StopMode() StopMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Subscribe returns a stream of snapshots starting with the current one. A slow reader
// loses intermediate snapshots but always receives the latest, and the channel is closed
// after the terminal snapshot.
func (r *Reporter) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{ch: make(chan Progress, buffer), r: r}

	r.mu.Lock()
	defer r.mu.Unlock()
	sub.sendLocked(r.current)
	if r.finished {
		sub.closeLocked()
		return sub
	}
	r.subs[sub] = struct{}{}
	return sub
}

// SubscribeFunc calls fn for each snapshot on its own goroutine until the terminal
// snapshot or until the returned stop function is called.
func (r *Reporter) SubscribeFunc(fn func(Progress)) (stop func()) {
	sub := r.Subscribe(16)
	go func() {
		for p := range sub.C() {
			fn(p)
		}
	}()
	return sub.Close
}

func (r *Reporter) broadcastLocked() {
	for sub := range r.subs {
		sub.sendLocked(r.current)
	}
}

// Subscription is a coalescing snapshot stream
type Subscription struct {
	ch     chan Progress
	r      *Reporter
	closed bool
}

func (s *Subscription) C() <-chan Progress {
	return s.ch
}

// Close detaches the subscription and closes its channel
func (s *Subscription) Close() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	delete(s.r.subs, s)
	s.closeLocked()
}

func (s *Subscription) sendLocked(p Progress) {
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- p:
			return
		default:
			// drop the oldest pending snapshot
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
