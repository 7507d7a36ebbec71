package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fulcrum/internal/capture"
	"fulcrum/internal/recording"
)

// stubSource satisfies the capture event source without touching OS hooks.
type stubSource struct {
	mu sync.Mutex
	ch chan capture.Event
}

func (s *stubSource) Start() (<-chan capture.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch = make(chan capture.Event, 16)
	return s.ch, nil
}

func (s *stubSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}

func testController(t *testing.T) (*Controller, string) {
	t.Helper()
	root := t.TempDir()
	kernel := capture.NewKernel(capture.Options{Source: &stubSource{}})
	recorder := recording.NewRecorder(15, "ffmpeg")
	return NewController(root, kernel, recorder, nil), root
}

func testDescriptor(sessionID uint, trials int, duration string) *Descriptor {
	refs := make([]string, 0, trials)
	for i := 0; i < trials; i++ {
		refs = append(refs, `{"taskID": 1, "factorID": 2}`)
	}
	body := fmt.Sprintf(`{
	  "participantSessId": %d,
	  "tasks": {"1": {"taskName": "Search", "taskDuration": %s, "measurementOptions": ["Mouse Clicks"]}},
	  "factors": {"2": {"factorName": "Quiet"}},
	  "trials": [%s]
	}`, sessionID, duration, joinComma(refs))
	desc, err := ParseDescriptor([]byte(body))
	if err != nil {
		panic(err)
	}
	return desc
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func TestControllerRunsUntimedSession(t *testing.T) {
	c, root := testController(t)

	if c.Running() {
		t.Fatal("Controller running before Start")
	}
	if err := c.Start(testDescriptor(11, 2, `"None"`)); err != nil {
		t.Fatal(err)
	}
	if !c.Running() {
		t.Fatal("Controller not running after Start")
	}

	trialDir := filepath.Join(root, "Session_11", "Search_Quiet_trial_1")
	if _, err := os.Stat(trialDir); err != nil {
		t.Fatalf("Trial directory missing: %v", err)
	}

	if err := c.NextTrial(); err != nil {
		t.Fatal(err)
	}
	// The same task and factor pairing repeats, so the second trial gets
	// ordinal 2.
	if _, err := os.Stat(filepath.Join(root, "Session_11", "Search_Quiet_trial_2")); err != nil {
		t.Fatalf("Second trial directory missing: %v", err)
	}

	if err := c.NextTrial(); err != nil {
		t.Fatal(err)
	}
	if c.Running() {
		t.Error("Controller still running after the last trial")
	}

	resultJSON, zipPath, err := c.Results()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(zipPath); err != nil {
		t.Errorf("Result archive missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Session_11")); !os.IsNotExist(err) {
		t.Error("Session directory survived packaging")
	}

	var echo Descriptor
	if err := json.Unmarshal(resultJSON, &echo); err != nil {
		t.Fatal(err)
	}
	if echo.SessionStartTime == "" {
		t.Error("Result JSON missing sessionStartTime")
	}
	for i, trial := range echo.Trials {
		if trial.StartedAt == "" {
			t.Errorf("Trial %d missing startedAt", i+1)
		}
	}
}

func TestControllerTimedTrialGatesNext(t *testing.T) {
	c, _ := testController(t)

	// 0.02 minutes is a 1.2 second countdown.
	if err := c.Start(testDescriptor(12, 1, `"0.02"`)); err != nil {
		t.Fatal(err)
	}

	if err := c.NextTrial(); !errors.Is(err, ErrTrialTimed) {
		t.Fatalf("NextTrial before countdown = %v, want ErrTrialTimed", err)
	}

	// Once the countdown elapses the gate opens and the session finishes.
	deadline := time.Now().Add(10 * time.Second)
	for {
		err := c.NextTrial()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTrialTimed) {
			t.Fatal(err)
		}
		if time.Now().After(deadline) {
			t.Fatal("Countdown never elapsed")
		}
		time.Sleep(100 * time.Millisecond)
	}

	if _, _, err := c.Results(); err != nil {
		t.Fatalf("Results after timed session: %v", err)
	}
}

func TestControllerQuitPackagesPartialSession(t *testing.T) {
	c, root := testController(t)

	if err := c.Start(testDescriptor(13, 3, `"None"`)); err != nil {
		t.Fatal(err)
	}
	if err := c.NextTrial(); err != nil {
		t.Fatal(err)
	}
	if err := c.Quit(); err != nil {
		t.Fatal(err)
	}

	_, zipPath, err := c.Results()
	if err != nil {
		t.Fatal(err)
	}
	names := zipNames(t, zipPath)
	if !names["Session_13/Search_Quiet_trial_1/MouseClicks.csv"] {
		t.Errorf("First trial artifact missing: %v", names)
	}
	if _, err := os.Stat(filepath.Join(root, "Session_13")); !os.IsNotExist(err) {
		t.Error("Session directory survived quit")
	}

	if err := c.Quit(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Quit after quit = %v, want ErrNoSession", err)
	}
}

func TestControllerShutdownCases(t *testing.T) {
	// Shutdown before any session is a no-op.
	c, _ := testController(t)
	if err := c.Shutdown(); err != nil {
		t.Fatal(err)
	}

	// Shutdown mid-session packages what exists.
	c, _ = testController(t)
	if err := c.Start(testDescriptor(14, 2, `"None"`)); err != nil {
		t.Fatal(err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Results(); err != nil {
		t.Fatalf("Results after mid-session shutdown: %v", err)
	}

	// Shutdown after a finished session changes nothing.
	if err := c.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestControllerPauseResume(t *testing.T) {
	c, _ := testController(t)
	if err := c.Start(testDescriptor(15, 1, `"None"`)); err != nil {
		t.Fatal(err)
	}

	if err := c.Resume(); err == nil {
		t.Error("Resume without pause should fail")
	}
	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := c.Pause(); err == nil {
		t.Error("Double pause should fail")
	}
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := c.Quit(); err != nil {
		t.Fatal(err)
	}
}

func TestControllerRejectsConcurrentSession(t *testing.T) {
	c, _ := testController(t)
	if err := c.Start(testDescriptor(16, 1, `"None"`)); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(testDescriptor(17, 1, `"None"`)); !errors.Is(err, ErrSessionRunning) {
		t.Errorf("Second Start = %v, want ErrSessionRunning", err)
	}
	if err := c.Quit(); err != nil {
		t.Fatal(err)
	}

	// A finished controller accepts a fresh session.
	if err := c.Start(testDescriptor(18, 1, `"None"`)); err != nil {
		t.Fatal(err)
	}
	if err := c.Quit(); err != nil {
		t.Fatal(err)
	}
}
