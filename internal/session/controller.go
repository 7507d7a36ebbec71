package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"fulcrum/internal/capture"
	"fulcrum/internal/heatmap"
	"fulcrum/internal/recording"
)

// Measurement option names as they appear in study definitions.
const (
	MeasureMouseMovement   = "Mouse Movement"
	MeasureMouseClicks     = "Mouse Clicks"
	MeasureMouseScrolls    = "Mouse Scrolls"
	MeasureKeyboardInputs  = "Keyboard Inputs"
	MeasureScreenRecording = "Screen Recording"
	MeasureHeatMap         = "Heat Map"
)

const recordingFileName = "ScreenRecording.mp4"

// State names broadcast to status subscribers.
const (
	StateIdle         = "idle"
	StateRunning      = "running"
	StatePaused       = "paused"
	StateAwaitingNext = "awaiting_next"
	StateFinished     = "finished"
)

// Status is the snapshot published to websocket subscribers after every
// state change and countdown tick.
type Status struct {
	State      string   `json:"state"`
	SessionID  uint     `json:"session_id,omitempty"`
	TrialIndex int      `json:"trial_index,omitempty"`
	TrialCount int      `json:"trial_count,omitempty"`
	TaskName   string   `json:"task_name,omitempty"`
	FactorName string   `json:"factor_name,omitempty"`
	Timed      bool     `json:"timed"`
	Remaining  *float64 `json:"remaining_seconds,omitempty"`
}

var (
	ErrNoSession      = errors.New("no session in progress")
	ErrTrialTimed     = errors.New("trial still counting down")
	ErrSessionRunning = errors.New("session already in progress")
)

// Controller drives a session through its ordered trial list. It owns the
// capture kernel and the screen recorder, stamps trial start times into the
// descriptor, and packages results when the session ends.
type Controller struct {
	root     string
	kernel   *capture.Kernel
	recorder *recording.Recorder
	hub      *Hub

	reqs chan func()

	desc      *Descriptor
	trialIdx  int
	state     string
	capturing bool
	remaining float64
	timed     bool
	ticker    *time.Ticker

	resultJSON []byte
	zipPath    string
}

func NewController(root string, kernel *capture.Kernel, recorder *recording.Recorder, hub *Hub) *Controller {
	c := &Controller{
		root:     root,
		kernel:   kernel,
		recorder: recorder,
		hub:      hub,
		reqs:     make(chan func()),
		state:    StateIdle,
	}
	go c.loop()
	return c
}

// loop serializes all state transitions and countdown ticks on one
// goroutine.
func (c *Controller) loop() {
	var tick <-chan time.Time
	for {
		if c.ticker != nil {
			tick = c.ticker.C
		} else {
			tick = nil
		}
		select {
		case fn := <-c.reqs:
			fn()
		case <-tick:
			c.onTick()
		}
	}
}

// call runs fn on the controller goroutine and waits for it.
func (c *Controller) call(fn func() error) error {
	errc := make(chan error, 1)
	c.reqs <- func() { errc <- fn() }
	return <-errc
}

// Start begins a session from a parsed descriptor. Any leftovers from an
// earlier run of the same session are retired first.
func (c *Controller) Start(desc *Descriptor) error {
	return c.call(func() error {
		if c.state != StateIdle && c.state != StateFinished {
			return ErrSessionRunning
		}
		if err := RetireStale(c.root, desc.ParticipantSessID); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(c.root, SessionDirName(desc.ParticipantSessID)), 0o755); err != nil {
			return err
		}
		c.desc = desc
		c.desc.SessionStartTime = time.Now().Format(time.RFC3339)
		c.trialIdx = 0
		c.resultJSON = nil
		c.zipPath = ""
		return c.beginTrial()
	})
}

// NextTrial advances to the next trial. On a timed trial it is rejected
// until the countdown has elapsed; after the last trial it finishes the
// session.
func (c *Controller) NextTrial() error {
	return c.call(func() error {
		switch c.state {
		case StateRunning, StatePaused:
			if c.timed {
				return ErrTrialTimed
			}
			if err := c.finishCapture(); err != nil {
				log.Printf("Error finalizing trial: %v", err)
			}
		case StateAwaitingNext:
		default:
			return ErrNoSession
		}
		c.trialIdx++
		if c.trialIdx >= len(c.desc.Trials) {
			return c.finishSession()
		}
		return c.beginTrial()
	})
}

// Pause suspends capture and the countdown. Events arriving while paused
// are discarded.
func (c *Controller) Pause() error {
	return c.call(func() error {
		if c.state != StateRunning {
			return ErrNoSession
		}
		c.kernel.Pause()
		if c.ticker != nil {
			c.ticker.Stop()
			c.ticker = nil
		}
		c.setState(StatePaused)
		return nil
	})
}

// Resume restarts capture and the countdown after a pause.
func (c *Controller) Resume() error {
	return c.call(func() error {
		if c.state != StatePaused {
			return ErrNoSession
		}
		c.kernel.Resume()
		if c.timed {
			c.ticker = time.NewTicker(time.Second)
		}
		c.setState(StateRunning)
		return nil
	})
}

// Quit ends the session early. The current trial is stopped and flushed,
// and everything captured so far is packaged.
func (c *Controller) Quit() error {
	return c.call(func() error {
		switch c.state {
		case StateRunning, StatePaused, StateAwaitingNext:
		default:
			return ErrNoSession
		}
		if c.capturing {
			if err := c.finishCapture(); err != nil {
				log.Printf("Error finalizing trial: %v", err)
			}
		}
		return c.finishSession()
	})
}

// Shutdown handles an external stop request. Before a session has started,
// or after one has finished, there is nothing to do; mid-session it behaves
// like Quit so no captured data is lost.
func (c *Controller) Shutdown() error {
	return c.call(func() error {
		switch c.state {
		case StateIdle, StateFinished:
			return nil
		default:
			if c.capturing {
				if err := c.finishCapture(); err != nil {
					log.Printf("Error finalizing trial: %v", err)
				}
			}
			return c.finishSession()
		}
	})
}

// Results returns the result JSON and archive path of the finished session.
func (c *Controller) Results() (resultJSON []byte, zipPath string, err error) {
	err = c.call(func() error {
		if c.state != StateFinished || c.resultJSON == nil {
			return ErrNoSession
		}
		resultJSON = c.resultJSON
		zipPath = c.zipPath
		return nil
	})
	return resultJSON, zipPath, err
}

// Running reports whether a session is in progress.
func (c *Controller) Running() bool {
	running := false
	c.call(func() error {
		running = c.state == StateRunning || c.state == StatePaused || c.state == StateAwaitingNext
		return nil
	})
	return running
}

// beginTrial runs on the controller goroutine.
func (c *Controller) beginTrial() error {
	trial := &c.desc.Trials[c.trialIdx]
	task := c.desc.Task(*trial)
	factor := c.desc.Factor(*trial)

	dir := filepath.Join(c.root, SessionDirName(c.desc.ParticipantSessID),
		TrialDirName(task.TaskName, factor.FactorName, c.trialOrdinal(*trial)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	opts := capture.TrialOptions{
		Dir:            dir,
		MouseMovement:  task.HasMeasurement(MeasureMouseMovement) || task.HasMeasurement(MeasureHeatMap),
		MouseClicks:    task.HasMeasurement(MeasureMouseClicks),
		MouseScrolls:   task.HasMeasurement(MeasureMouseScrolls),
		KeyboardInputs: task.HasMeasurement(MeasureKeyboardInputs),
	}
	c.timed = task.TaskDuration.Seconds != nil
	if c.timed {
		c.remaining = *task.TaskDuration.Seconds
		opts.Duration = task.TaskDuration.Seconds
	}

	if err := c.kernel.BeginTrial(opts); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}
	if task.HasMeasurement(MeasureScreenRecording) {
		if err := c.recorder.Start(filepath.Join(dir, recordingFileName)); err != nil {
			log.Printf("Error starting screen recording: %v", err)
		}
	}

	trial.StartedAt = time.Now().Format(time.RFC3339)
	c.capturing = true
	if c.timed {
		c.ticker = time.NewTicker(time.Second)
	}
	c.setState(StateRunning)
	return nil
}

// trialOrdinal numbers repeats of the same task and factor pairing within
// the session, starting at 1.
func (c *Controller) trialOrdinal(trial TrialRef) int {
	n := 1
	for i := 0; i < c.trialIdx; i++ {
		prev := c.desc.Trials[i]
		if prev.TaskID == trial.TaskID && prev.FactorID == trial.FactorID {
			n++
		}
	}
	return n
}

func (c *Controller) onTick() {
	if c.state != StateRunning || !c.timed {
		return
	}
	c.remaining--
	if c.remaining > 0 {
		c.publish()
		return
	}
	// Time is up. Capture stops now, but the trial stays on screen until
	// the participant moves on.
	c.remaining = 0
	if err := c.finishCapture(); err != nil {
		log.Printf("Error finalizing trial: %v", err)
	}
	c.setState(StateAwaitingNext)
}

// finishCapture stops the kernel and recorder for the current trial and
// renders the heatmap if the task asked for one.
func (c *Controller) finishCapture() error {
	if !c.capturing {
		return nil
	}
	c.capturing = false
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}

	var errs []error
	report, err := c.kernel.Stop()
	if err != nil {
		errs = append(errs, err)
	}
	if c.recorder.IsRunning() {
		if err := c.recorder.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("screen recording: %w", err))
		}
	}

	trial := c.desc.Trials[c.trialIdx]
	task := c.desc.Task(trial)
	factor := c.desc.Factor(trial)
	if task.HasMeasurement(MeasureHeatMap) {
		dir := filepath.Join(c.root, SessionDirName(c.desc.ParticipantSessID),
			TrialDirName(task.TaskName, factor.FactorName, c.trialOrdinal(trial)))
		points := make([]image.Point, len(report.MovePoints))
		for i, p := range report.MovePoints {
			points[i] = image.Point{X: p.X, Y: p.Y}
		}
		if err := heatmap.Generate(dir, points); err != nil {
			errs = append(errs, fmt.Errorf("heatmap: %w", err))
		}
	}
	return errors.Join(errs...)
}

// finishSession packages the session directory and snapshots the result
// JSON. Runs on the controller goroutine.
func (c *Controller) finishSession() error {
	result, err := json.MarshalIndent(c.desc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	zipPath, err := Package(c.root, c.desc.ParticipantSessID)
	if err != nil {
		return fmt.Errorf("packaging session: %w", err)
	}
	c.resultJSON = result
	c.zipPath = zipPath
	c.setState(StateFinished)
	return nil
}

func (c *Controller) setState(state string) {
	c.state = state
	c.publish()
}

func (c *Controller) publish() {
	if c.hub == nil {
		return
	}
	status := Status{
		State: c.state,
		Timed: c.timed,
	}
	if c.desc != nil && c.trialIdx < len(c.desc.Trials) {
		trial := c.desc.Trials[c.trialIdx]
		status.SessionID = c.desc.ParticipantSessID
		status.TrialIndex = c.trialIdx + 1
		status.TrialCount = len(c.desc.Trials)
		status.TaskName = c.desc.Task(trial).TaskName
		status.FactorName = c.desc.Factor(trial).FactorName
		if c.timed {
			remaining := c.remaining
			status.Remaining = &remaining
		}
	}
	c.hub.Publish(status)
}
