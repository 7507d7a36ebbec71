package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate runs database migrations and seeds the measurement option
// enumeration.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Study{},
		&DeletedStudy{},
		&StudyUserRole{},
		&Task{},
		&Factor{},
		&MeasurementOption{},
		&Participant{},
		&ParticipantEthnicity{},
		&ParticipantSession{},
		&Trial{},
		&SessionDataInstance{},
		&ConsentForm{},
		&ConsentAck{},
		&SurveyForm{},
		&SurveyResult{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// Seed the static measurement options. Inserts are idempotent on the
	// unique name index.
	for _, name := range AllMeasurementOptions {
		var opt MeasurementOption
		err := db.Where("name = ?", name).First(&opt).Error
		if err == gorm.ErrRecordNotFound {
			if err := db.Create(&MeasurementOption{Name: name}).Error; err != nil {
				return fmt.Errorf("seed measurement option %q: %w", name, err)
			}
		} else if err != nil {
			return fmt.Errorf("seed measurement option %q: %w", name, err)
		}
	}

	return nil
}
