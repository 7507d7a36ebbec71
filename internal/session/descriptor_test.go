package session

import (
	"encoding/json"
	"strings"
	"testing"
)

const descriptorJSON = `{
  "participantSessId": 42,
  "study_id": 7,
  "tasks": {
    "1": {
      "taskName": "Web Search",
      "taskDirections": "Find the answer",
      "taskDuration": "2",
      "measurementOptions": ["Mouse Movement", "Keyboard Inputs"]
    },
    "2": {
      "taskName": "Reading",
      "taskDirections": "Read the passage",
      "taskDuration": "None",
      "measurementOptions": ["Mouse Clicks"]
    }
  },
  "factors": {
    "3": {"factorName": "Music", "factorDescription": "With background music"}
  },
  "trials": [
    {"taskID": 1, "factorID": 3},
    {"taskID": 2, "factorID": 3}
  ]
}`

func TestParseDescriptor(t *testing.T) {
	desc, err := ParseDescriptor([]byte(descriptorJSON))
	if err != nil {
		t.Fatal(err)
	}
	if desc.ParticipantSessID != 42 {
		t.Errorf("ParticipantSessID = %d, want 42", desc.ParticipantSessID)
	}
	if len(desc.Trials) != 2 {
		t.Fatalf("len(Trials) = %d, want 2", len(desc.Trials))
	}

	timed := desc.Task(desc.Trials[0])
	if timed.TaskDuration.Seconds == nil || *timed.TaskDuration.Seconds != 120 {
		t.Errorf("Timed task duration = %v, want 120s", timed.TaskDuration.Seconds)
	}
	untimed := desc.Task(desc.Trials[1])
	if untimed.TaskDuration.Seconds != nil {
		t.Errorf("Untimed task duration = %v, want nil", *untimed.TaskDuration.Seconds)
	}
	if !timed.HasMeasurement(MeasureKeyboardInputs) {
		t.Error("HasMeasurement missed Keyboard Inputs")
	}
	if timed.HasMeasurement(MeasureScreenRecording) {
		t.Error("HasMeasurement invented Screen Recording")
	}
	if desc.Factor(desc.Trials[0]).FactorName != "Music" {
		t.Errorf("FactorName = %q", desc.Factor(desc.Trials[0]).FactorName)
	}
}

func TestParseDescriptorRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"participantSessId": `},
		{"missing session id", `{"tasks":{},"factors":{},"trials":[{"taskID":1,"factorID":1}]}`},
		{"no trials", `{"participantSessId":1,"tasks":{},"factors":{},"trials":[]}`},
		{"unknown task", `{"participantSessId":1,"tasks":{},"factors":{"1":{"factorName":"f"}},"trials":[{"taskID":9,"factorID":1}]}`},
		{"unknown factor", `{"participantSessId":1,"tasks":{"1":{"taskName":"t"}},"factors":{},"trials":[{"taskID":1,"factorID":9}]}`},
	}
	for _, tc := range cases {
		if _, err := ParseDescriptor([]byte(tc.body)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestTaskDurationForms(t *testing.T) {
	var d TaskDuration
	if err := json.Unmarshal([]byte(`3`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Seconds == nil || *d.Seconds != 180 {
		t.Errorf("numeric minutes: Seconds = %v, want 180", d.Seconds)
	}

	if err := json.Unmarshal([]byte(`"none"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Seconds != nil {
		t.Errorf(`"none": Seconds = %v, want nil`, *d.Seconds)
	}

	if err := json.Unmarshal([]byte(`null`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Seconds != nil {
		t.Errorf("null: Seconds = %v, want nil", *d.Seconds)
	}

	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("Expected error for non-numeric duration string")
	}
}

// Result JSON must echo the descriptor's own fields untouched, only adding
// the timing stamps.
func TestDescriptorRoundTripPreservesFields(t *testing.T) {
	desc, err := ParseDescriptor([]byte(descriptorJSON))
	if err != nil {
		t.Fatal(err)
	}
	desc.SessionStartTime = "2026-03-01T10:00:00Z"
	desc.Trials[0].StartedAt = "2026-03-01T10:00:05Z"

	out, err := json.Marshal(desc)
	if err != nil {
		t.Fatal(err)
	}

	var echo map[string]any
	if err := json.Unmarshal(out, &echo); err != nil {
		t.Fatal(err)
	}
	tasks := echo["tasks"].(map[string]any)
	timed := tasks["1"].(map[string]any)
	// The raw descriptor value, a string of minutes, survives re-encoding.
	if timed["taskDuration"] != "2" {
		t.Errorf("taskDuration re-encoded as %v, want the original \"2\"", timed["taskDuration"])
	}
	untimed := tasks["2"].(map[string]any)
	if untimed["taskDuration"] != "None" {
		t.Errorf("taskDuration re-encoded as %v, want the original \"None\"", untimed["taskDuration"])
	}

	if !strings.Contains(string(out), `"sessionStartTime":"2026-03-01T10:00:00Z"`) {
		t.Error("sessionStartTime missing from result JSON")
	}
	trials := echo["trials"].([]any)
	first := trials[0].(map[string]any)
	if first["startedAt"] != "2026-03-01T10:00:05Z" {
		t.Errorf("startedAt = %v", first["startedAt"])
	}
	second := trials[1].(map[string]any)
	if _, present := second["startedAt"]; present {
		t.Error("Unstarted trial gained a startedAt stamp")
	}
	if _, present := echo["measurementOptionIds"]; present {
		t.Error("Absent measurementOptionIds should stay absent in result JSON")
	}
}

func TestDescriptorMeasurementOptionIDs(t *testing.T) {
	body := strings.Replace(descriptorJSON, `"study_id": 7,`,
		`"study_id": 7, "measurementOptionIds": {"Mouse Movement": 12, "Keyboard Inputs": 13},`, 1)
	desc, err := ParseDescriptor([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if desc.MeasurementOptionIDs["Mouse Movement"] != 12 {
		t.Errorf("MeasurementOptionIDs = %v", desc.MeasurementOptionIDs)
	}

	out, err := json.Marshal(desc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"measurementOptionIds"`) {
		t.Error("measurementOptionIds dropped from result JSON")
	}
}
