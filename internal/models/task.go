package models

// Task duration is stored in seconds; nil means untimed.
type Task struct {
	ID         uint     `gorm:"primaryKey;column:task_id" json:"task_id"`
	StudyID    uint     `gorm:"not null;index" json:"study_id"`
	Name       string   `gorm:"not null;type:varchar(255)" json:"task_name"`
	Directions string   `gorm:"type:text" json:"task_directions"`
	Duration   *float64 `json:"duration"`

	Study        Study               `gorm:"foreignKey:StudyID" json:"study,omitempty"`
	Measurements []MeasurementOption `gorm:"many2many:task_measurement;joinForeignKey:TaskID;joinReferences:MeasurementOptionID" json:"measurements,omitempty"`
}

func (Task) TableName() string {
	return "task"
}

// MeasurementOption is the static enumeration of signals the capture kernel
// knows how to record. Seeded at migration time.
type MeasurementOption struct {
	ID   uint   `gorm:"primaryKey;column:measurement_option_id" json:"measurement_option_id"`
	Name string `gorm:"uniqueIndex;not null;type:varchar(100)" json:"measurement_option_name"`
}

func (MeasurementOption) TableName() string {
	return "measurement_option"
}

// Canonical measurement option names. These match the descriptor strings the
// authoring client sends and the filename segments the tracker writes.
const (
	MeasurementMouseMovement   = "Mouse Movement"
	MeasurementMouseClicks     = "Mouse Clicks"
	MeasurementMouseScrolls    = "Mouse Scrolls"
	MeasurementKeyboardInputs  = "Keyboard Inputs"
	MeasurementScreenRecording = "Screen Recording"
	MeasurementHeatMap         = "Heat Map"
)

// AllMeasurementOptions lists the seeded enumeration in id order.
var AllMeasurementOptions = []string{
	MeasurementMouseMovement,
	MeasurementMouseScrolls,
	MeasurementMouseClicks,
	MeasurementKeyboardInputs,
	MeasurementScreenRecording,
	MeasurementHeatMap,
}
