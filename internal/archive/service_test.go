package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fulcrum/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db       *gorm.DB
	study    *models.Study
	sessions []*models.ParticipantSession
	trials   []*models.Trial
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	// In-memory SQLite gives every pooled connection its own database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := models.Migrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

// seedFixture builds one study with two sessions of one trial each, every
// trial carrying one mouse-movement CSV on disk.
func seedFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	dir := t.TempDir()

	study := &models.Study{Name: "Focus Study", DesignType: models.DesignWithin}
	if err := db.Create(study).Error; err != nil {
		t.Fatal(err)
	}
	task := &models.Task{StudyID: study.ID, Name: "Search"}
	factor := &models.Factor{StudyID: study.ID, Name: "Music"}
	if err := db.Create(task).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(factor).Error; err != nil {
		t.Fatal(err)
	}
	var opt models.MeasurementOption
	if err := db.First(&opt, "name = ?", models.MeasurementMouseMovement).Error; err != nil {
		t.Fatal(err)
	}

	f := &fixture{db: db, study: study}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 2; i++ {
		session := &models.ParticipantSession{
			StudyID:       study.ID,
			IsValid:       true,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			ParticipantID: 1,
		}
		if err := db.Create(session).Error; err != nil {
			t.Fatal(err)
		}
		trial := &models.Trial{
			ParticipantSessionID: session.ID,
			TaskID:               task.ID,
			FactorID:             factor.ID,
			StartedAt:            session.CreatedAt,
		}
		if err := db.Create(trial).Error; err != nil {
			t.Fatal(err)
		}

		csvPath := filepath.Join(dir, string(rune('a'+i))+".csv")
		content := "Time,running_time,x,y\n10:00:01,0.50,1,2\n10:00:02,1.00,3,4\n"
		if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		instance := &models.SessionDataInstance{
			TrialID:              trial.ID,
			ParticipantSessionID: session.ID,
			TaskID:               task.ID,
			FactorID:             factor.ID,
			MeasurementOptionID:  opt.ID,
			ResultsPath:          csvPath,
		}
		if err := db.Create(instance).Error; err != nil {
			t.Fatal(err)
		}
		f.sessions = append(f.sessions, session)
		f.trials = append(f.trials, trial)
	}
	return f
}

func TestStudyExportOrdinals(t *testing.T) {
	f := seedFixture(t)
	svc := NewService(f.db)

	export, err := svc.Study(context.Background(), f.study.ID)
	if err != nil {
		t.Fatal(err)
	}
	if export.Filename != "FocusStudy.zip" {
		t.Errorf("Filename = %q", export.Filename)
	}
	if len(export.Records) != 2 {
		t.Fatalf("record count = %d, want 2", len(export.Records))
	}

	names := make(map[string]bool)
	for _, r := range export.Records {
		names[r.ArcName()] = true
	}
	// Sessions are ordered by creation, so the exports land in 1_ and 2_.
	for _, want := range []string{
		"FocusStudy/1_participant_session/Search_Music_trial_1/MouseMovement.csv",
		"FocusStudy/2_participant_session/Search_Music_trial_1/MouseMovement.csv",
	} {
		if !names[want] {
			t.Errorf("missing record path %q in %v", want, names)
		}
	}
}

func TestScopedExports(t *testing.T) {
	f := seedFixture(t)
	svc := NewService(f.db)
	ctx := context.Background()

	export, err := svc.Session(ctx, f.sessions[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if export.Filename != "2_participant_session.zip" {
		t.Errorf("session Filename = %q", export.Filename)
	}
	if len(export.Records) != 1 || export.Records[0].SessionOrdinal != 2 {
		t.Errorf("session export records = %+v", export.Records)
	}

	export, err = svc.Trial(ctx, f.trials[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if export.Filename != "Search_Music_trial_1.zip" {
		t.Errorf("trial Filename = %q", export.Filename)
	}

	var instance models.SessionDataInstance
	if err := f.db.First(&instance).Error; err != nil {
		t.Fatal(err)
	}
	export, err = svc.OneInstance(ctx, instance.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(export.Records) != 1 || export.Records[0].InstanceID != instance.ID {
		t.Errorf("instance export records = %+v", export.Records)
	}

	if _, err := svc.OneInstance(ctx, 9999); err == nil {
		t.Error("expected error for unknown instance")
	}
}

func TestStreamStudy(t *testing.T) {
	f := seedFixture(t)
	svc := NewService(f.db)

	var buf bytes.Buffer
	if err := svc.StreamStudy(context.Background(), f.study.ID, &buf, 1); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// Two artifacts with two data rows each.
	if len(lines) != 4 {
		t.Fatalf("stream emitted %d lines, want 4: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", line, err)
		}
		if row["task_name"] != "Search" || row["factor_name"] != "Music" {
			t.Errorf("row context = %v", row)
		}
		if _, ok := row["running_time"]; !ok {
			t.Errorf("row missing header-keyed field: %v", row)
		}
	}
}
