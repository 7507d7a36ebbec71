package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TaskDuration accepts minutes as a number or numeric string, with "None"
// (or null) meaning untimed. The raw value is kept so result JSON echoes the
// descriptor byte-for-byte.
type TaskDuration struct {
	raw     json.RawMessage
	Seconds *float64
}

func (d *TaskDuration) UnmarshalJSON(data []byte) error {
	d.raw = append(d.raw[:0], data...)
	d.Seconds = nil

	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" || strings.EqualFold(s, "none") {
			return nil
		}
		minutes, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid task duration %q", s)
		}
		seconds := minutes * 60
		d.Seconds = &seconds
		return nil
	}

	var minutes float64
	if err := json.Unmarshal(data, &minutes); err != nil {
		return fmt.Errorf("invalid task duration: %w", err)
	}
	seconds := minutes * 60
	d.Seconds = &seconds
	return nil
}

func (d TaskDuration) MarshalJSON() ([]byte, error) {
	if len(d.raw) == 0 {
		return []byte("null"), nil
	}
	return d.raw, nil
}

// TaskSpec is one task definition inside a session descriptor.
type TaskSpec struct {
	TaskName           string       `json:"taskName"`
	TaskDirections     string       `json:"taskDirections"`
	TaskDuration       TaskDuration `json:"taskDuration"`
	MeasurementOptions []string     `json:"measurementOptions"`
}

// HasMeasurement reports whether the task records the named signal.
func (t TaskSpec) HasMeasurement(name string) bool {
	for _, m := range t.MeasurementOptions {
		if m == name {
			return true
		}
	}
	return false
}

// FactorSpec is one factor definition inside a session descriptor.
type FactorSpec struct {
	FactorName        string `json:"factorName"`
	FactorDescription string `json:"factorDescription"`
}

// TrialRef is one entry of the ordered trial list. StartedAt is empty on
// input and stamped by the controller when the trial begins.
type TrialRef struct {
	TaskID    uint   `json:"taskID"`
	FactorID  uint   `json:"factorID"`
	StartedAt string `json:"startedAt,omitempty"`
}

// Descriptor is the session input sent by the authoring client. The result
// JSON is the descriptor echoed back with SessionStartTime and the trials'
// StartedAt stamps added.
type Descriptor struct {
	ParticipantSessID uint                  `json:"participantSessId"`
	StudyID           uint                  `json:"study_id,omitempty"`
	Tasks             map[string]TaskSpec   `json:"tasks"`
	Factors           map[string]FactorSpec `json:"factors"`
	Trials            []TrialRef            `json:"trials"`
	SessionStartTime  string                `json:"sessionStartTime,omitempty"`

	// MeasurementOptionIDs maps measurement names to their server-side ids.
	// Optional; without it per-measurement re-upload is unavailable.
	MeasurementOptionIDs map[string]uint `json:"measurementOptionIds,omitempty"`
}

// ParseDescriptor decodes and validates a session descriptor: the trial list
// must be non-empty and every trial must reference a defined task and
// factor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("malformed descriptor: %w", err)
	}
	if desc.ParticipantSessID == 0 {
		return nil, fmt.Errorf("descriptor missing participantSessId")
	}
	if len(desc.Trials) == 0 {
		return nil, fmt.Errorf("descriptor has no trials")
	}
	for i, trial := range desc.Trials {
		if _, ok := desc.Tasks[strconv.FormatUint(uint64(trial.TaskID), 10)]; !ok {
			return nil, fmt.Errorf("trial %d references unknown task %d", i+1, trial.TaskID)
		}
		if _, ok := desc.Factors[strconv.FormatUint(uint64(trial.FactorID), 10)]; !ok {
			return nil, fmt.Errorf("trial %d references unknown factor %d", i+1, trial.FactorID)
		}
	}
	return &desc, nil
}

// Task returns the task a trial references.
func (d *Descriptor) Task(trial TrialRef) TaskSpec {
	return d.Tasks[strconv.FormatUint(uint64(trial.TaskID), 10)]
}

// Factor returns the factor a trial references.
func (d *Descriptor) Factor(trial TrialRef) FactorSpec {
	return d.Factors[strconv.FormatUint(uint64(trial.FactorID), 10)]
}
