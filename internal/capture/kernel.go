package capture

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"
)

// State is the kernel's lifecycle position. One trial owns the kernel from
// BeginTrial to Stop or Abort.
type State int

const (
	StateIdle State = iota
	StateArming
	StateRecording
	StatePaused
	StateFinalising
)

// ErrBusy is returned when BeginTrial is called while a trial is active.
var ErrBusy = errors.New("capture kernel is busy")

// Canonical artifact names, matching the server's measurement options with
// whitespace stripped.
const (
	fileMouseMovement  = "MouseMovement.csv"
	fileMouseClicks    = "MouseClicks.csv"
	fileMouseScrolls   = "MouseScrolls.csv"
	fileKeyboardInputs = "KeyboardInputs.csv"
)

var (
	mouseHeader    = []string{"Time", "running_time", "x", "y"}
	keyboardHeader = []string{"Time", "running_time", "keys"}
)

// Options configures a Kernel.
type Options struct {
	Source EventSource
	// MoveThreshold is the Euclidean pixel distance a mouse move must exceed
	// to be sampled.
	MoveThreshold float64
	BatchRows     int
}

// TrialOptions selects what one trial records and where.
type TrialOptions struct {
	Dir string
	// Duration in seconds; nil means untimed. Rows beyond the duration are
	// trimmed at write time.
	Duration       *float64
	MouseMovement  bool
	MouseClicks    bool
	MouseScrolls   bool
	KeyboardInputs bool
}

// Report summarises a finished trial.
type Report struct {
	Files []string
	// Partial is set when a write failure forced rows into supplemental
	// files.
	Partial bool
	// MovePoints holds the sampled mouse-movement coordinates for heatmap
	// generation, in capture order.
	MovePoints []Point
}

// Point is one sampled screen coordinate.
type Point struct {
	X int
	Y int
}

// Kernel records the OS input signals selected for one trial. It owns its
// event source for the duration of the trial; all sampling and filtering
// happens on a single consumer goroutine, which keeps every CSV in capture
// order.
type Kernel struct {
	source    EventSource
	threshold float64
	batchRows int

	mu         sync.Mutex
	state      State
	t0         time.Time
	paused     time.Duration
	pauseStart time.Time

	writers    map[EventKind]*batchWriter
	prevX      int
	prevY      int
	movePoints []Point

	done chan struct{}
}

func NewKernel(opts Options) *Kernel {
	threshold := opts.MoveThreshold
	if threshold <= 0 {
		threshold = 10
	}
	return &Kernel{
		source:    opts.Source,
		threshold: threshold,
		batchRows: opts.BatchRows,
		state:     StateIdle,
	}
}

// State returns the kernel's current lifecycle state.
func (k *Kernel) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// BeginTrial arms the kernel and starts consuming input events. Returns
// ErrBusy unless the kernel is idle.
func (k *Kernel) BeginTrial(opts TrialOptions) error {
	k.mu.Lock()
	if k.state != StateIdle {
		k.mu.Unlock()
		return ErrBusy
	}
	k.state = StateArming

	k.writers = make(map[EventKind]*batchWriter)
	if opts.MouseMovement {
		k.writers[EventMouseMove] = newBatchWriter(
			filepath.Join(opts.Dir, fileMouseMovement), mouseHeader, k.batchRows, opts.Duration)
	}
	if opts.MouseClicks {
		k.writers[EventMouseClick] = newBatchWriter(
			filepath.Join(opts.Dir, fileMouseClicks), mouseHeader, k.batchRows, opts.Duration)
	}
	if opts.MouseScrolls {
		k.writers[EventMouseScroll] = newBatchWriter(
			filepath.Join(opts.Dir, fileMouseScrolls), mouseHeader, k.batchRows, opts.Duration)
	}
	if opts.KeyboardInputs {
		k.writers[EventKeyDown] = newBatchWriter(
			filepath.Join(opts.Dir, fileKeyboardInputs), keyboardHeader, k.batchRows, opts.Duration)
	}

	k.t0 = time.Now()
	k.paused = 0
	k.prevX, k.prevY = 0, 0
	k.movePoints = nil
	k.done = make(chan struct{})
	k.mu.Unlock()

	events, err := k.source.Start()
	if err != nil {
		k.mu.Lock()
		k.state = StateIdle
		k.writers = nil
		close(k.done)
		k.mu.Unlock()
		return fmt.Errorf("failed to start event source: %w", err)
	}

	k.mu.Lock()
	k.state = StateRecording
	k.mu.Unlock()

	go k.consume(events)
	return nil
}

func (k *Kernel) consume(events <-chan Event) {
	defer close(k.done)
	for ev := range events {
		k.handle(ev)
	}
}

func (k *Kernel) handle(ev Event) {
	k.mu.Lock()
	defer k.mu.Unlock()

	// Paused trials drop events rather than buffering them.
	if k.state != StateRecording {
		return
	}

	w, ok := k.writers[ev.Kind]
	if !ok {
		return
	}

	if ev.Kind == EventMouseMove {
		if euclidean(ev.X, ev.Y, k.prevX, k.prevY) <= k.threshold {
			return
		}
		k.prevX, k.prevY = ev.X, ev.Y
		k.movePoints = append(k.movePoints, Point{X: ev.X, Y: ev.Y})
	}

	running := (time.Since(k.t0) - k.paused).Seconds()
	r := row{
		Time:    ev.Time.Format("15:04:05"),
		Running: running,
	}
	switch ev.Kind {
	case EventKeyDown:
		r.Fields = []string{ev.Key}
	default:
		r.Fields = []string{fmt.Sprint(ev.X), fmt.Sprint(ev.Y)}
	}
	w.Append(r)
}

// Pause suspends sampling. Time spent paused does not advance running_time.
func (k *Kernel) Pause() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateRecording {
		return
	}
	k.state = StatePaused
	k.pauseStart = time.Now()
}

// Resume continues a paused trial.
func (k *Kernel) Resume() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StatePaused {
		return
	}
	k.paused += time.Since(k.pauseStart)
	k.state = StateRecording
}

// Stop ends the trial, waits for the consumer to drain, flushes every
// writer and returns the trial report. Idempotent; calling Stop on an idle
// kernel returns an empty report.
func (k *Kernel) Stop() (*Report, error) {
	k.mu.Lock()
	if k.state == StateIdle {
		k.mu.Unlock()
		return &Report{}, nil
	}
	k.state = StateFinalising
	done := k.done
	k.mu.Unlock()

	k.source.Stop()
	<-done

	return k.finalize(true)
}

// Abort ends the trial without waiting for a clean drain; buffered rows
// that have not hit disk are discarded. Idempotent.
func (k *Kernel) Abort() {
	k.mu.Lock()
	if k.state == StateIdle {
		k.mu.Unlock()
		return
	}
	k.state = StateFinalising
	done := k.done
	k.mu.Unlock()

	k.source.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	k.finalize(false) //nolint:errcheck
}

func (k *Kernel) finalize(flush bool) (*Report, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	report := &Report{MovePoints: k.movePoints}
	var errs []error
	for _, w := range k.writers {
		if flush {
			if err := w.Finish(); err != nil {
				errs = append(errs, err)
			}
			report.Files = append(report.Files, w.targetPath())
		}
		if w.Partial() {
			report.Partial = true
		}
	}

	k.writers = nil
	k.movePoints = nil
	k.state = StateIdle

	return report, errors.Join(errs...)
}

func euclidean(x1, y1, x2, y2 int) float64 {
	dx := float64(x1 - x2)
	dy := float64(y1 - y2)
	return math.Sqrt(dx*dx + dy*dy)
}
