package capture

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeSource feeds scripted events to the kernel.
type fakeSource struct {
	mu sync.Mutex
	ch chan Event
}

func newFakeSource() *fakeSource {
	return &fakeSource{}
}

func (s *fakeSource) Start() (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch = make(chan Event, 64)
	return s.ch, nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}

func (s *fakeSource) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch <- ev
}

// drain waits for the consumer goroutine to pick up everything emitted so
// far. The channel is buffered, so an empty channel means the kernel has
// seen (or is handling) every event.
func (s *fakeSource) drain() {
	for {
		s.mu.Lock()
		n := len(s.ch)
		s.mu.Unlock()
		if n == 0 {
			// Give the in-flight handler a moment to finish.
			time.Sleep(10 * time.Millisecond)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestKernelRecordsSelectedMeasurements(t *testing.T) {
	dir := t.TempDir()
	source := newFakeSource()
	k := NewKernel(Options{Source: source, MoveThreshold: 10})

	err := k.BeginTrial(TrialOptions{
		Dir:            dir,
		MouseMovement:  true,
		MouseClicks:    true,
		KeyboardInputs: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	source.emit(Event{Kind: EventMouseMove, Time: now, X: 100, Y: 100})
	source.emit(Event{Kind: EventMouseClick, Time: now, X: 100, Y: 100})
	source.emit(Event{Kind: EventKeyDown, Time: now, Key: "a"})
	// Scrolls were not requested, this event must vanish.
	source.emit(Event{Kind: EventMouseScroll, Time: now, X: 100, Y: 100})

	report, err := k.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Files) != 3 {
		t.Fatalf("Report lists %d files, want 3: %v", len(report.Files), report.Files)
	}

	moves := readCSV(t, filepath.Join(dir, "MouseMovement.csv"))
	if len(moves) != 2 {
		t.Fatalf("MouseMovement has %d rows, want header + 1", len(moves))
	}
	if moves[1][2] != "100" || moves[1][3] != "100" {
		t.Errorf("Move row = %v", moves[1])
	}

	keys := readCSV(t, filepath.Join(dir, "KeyboardInputs.csv"))
	if len(keys) != 2 || keys[1][2] != "a" {
		t.Errorf("KeyboardInputs rows = %v", keys)
	}

	if _, err := os.Stat(filepath.Join(dir, "MouseScrolls.csv")); !os.IsNotExist(err) {
		t.Error("Unrequested measurement produced a file")
	}

	if len(report.MovePoints) != 1 || report.MovePoints[0] != (Point{X: 100, Y: 100}) {
		t.Errorf("MovePoints = %v", report.MovePoints)
	}
}

func TestKernelMovementThreshold(t *testing.T) {
	dir := t.TempDir()
	source := newFakeSource()
	k := NewKernel(Options{Source: source, MoveThreshold: 10})

	if err := k.BeginTrial(TrialOptions{Dir: dir, MouseMovement: true}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	source.emit(Event{Kind: EventMouseMove, Time: now, X: 100, Y: 100})
	// Within 10px of the last sample, filtered out.
	source.emit(Event{Kind: EventMouseMove, Time: now, X: 104, Y: 103})
	// Far enough from (100,100) to sample again.
	source.emit(Event{Kind: EventMouseMove, Time: now, X: 200, Y: 200})

	report, err := k.Stop()
	if err != nil {
		t.Fatal(err)
	}

	rows := readCSV(t, filepath.Join(dir, "MouseMovement.csv"))
	if len(rows) != 3 {
		t.Fatalf("Got %d rows, want header + 2 sampled moves", len(rows))
	}
	if len(report.MovePoints) != 2 {
		t.Errorf("MovePoints = %v, want 2 samples", report.MovePoints)
	}
}

func TestKernelPauseDropsEvents(t *testing.T) {
	dir := t.TempDir()
	source := newFakeSource()
	k := NewKernel(Options{Source: source})

	if err := k.BeginTrial(TrialOptions{Dir: dir, MouseClicks: true}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	source.emit(Event{Kind: EventMouseClick, Time: now, X: 1, Y: 1})
	source.drain()

	k.Pause()
	source.emit(Event{Kind: EventMouseClick, Time: now, X: 2, Y: 2})
	source.drain()

	k.Resume()
	source.emit(Event{Kind: EventMouseClick, Time: now, X: 3, Y: 3})

	if _, err := k.Stop(); err != nil {
		t.Fatal(err)
	}

	rows := readCSV(t, filepath.Join(dir, "MouseClicks.csv"))
	if len(rows) != 3 {
		t.Fatalf("Got %d rows, want header + 2 (paused click dropped)", len(rows))
	}
	if rows[1][2] != "1" || rows[2][2] != "3" {
		t.Errorf("Rows = %v", rows[1:])
	}
}

func TestKernelBusyAndIdempotentStop(t *testing.T) {
	dir := t.TempDir()
	source := newFakeSource()
	k := NewKernel(Options{Source: source})

	if err := k.BeginTrial(TrialOptions{Dir: dir, MouseClicks: true}); err != nil {
		t.Fatal(err)
	}
	if err := k.BeginTrial(TrialOptions{Dir: dir}); err != ErrBusy {
		t.Errorf("Second BeginTrial returned %v, want ErrBusy", err)
	}

	if _, err := k.Stop(); err != nil {
		t.Fatal(err)
	}
	report, err := k.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Files) != 0 {
		t.Errorf("Idle Stop reported files: %v", report.Files)
	}

	// The kernel is reusable after a clean stop.
	if err := k.BeginTrial(TrialOptions{Dir: t.TempDir(), MouseClicks: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestKernelAbortDiscardsBufferedRows(t *testing.T) {
	dir := t.TempDir()
	source := newFakeSource()
	k := NewKernel(Options{Source: source})

	if err := k.BeginTrial(TrialOptions{Dir: dir, MouseClicks: true}); err != nil {
		t.Fatal(err)
	}
	source.emit(Event{Kind: EventMouseClick, Time: time.Now(), X: 1, Y: 1})
	source.drain()

	k.Abort()

	if _, err := os.Stat(filepath.Join(dir, "MouseClicks.csv")); !os.IsNotExist(err) {
		t.Error("Abort flushed buffered rows to disk")
	}
	if k.State() != StateIdle {
		t.Errorf("State after Abort = %v, want StateIdle", k.State())
	}
}
