package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Record joins one SessionDataInstance with the metadata needed to place its
// artifact in an export tree.
type Record struct {
	InstanceID      uint
	SessionID       uint
	TrialID         uint
	StudyName       string
	TaskName        string
	FactorName      string
	MeasurementName string
	ResultsPath     string

	// Ordinals are 1-based: sessions ordered by created_at ascending within
	// the study, trials by started_at ascending within the session.
	SessionOrdinal int
	TrialOrdinal   int
}

// SurveyRecord is a pre/post survey artifact placed alongside a session's
// trial folders.
type SurveyRecord struct {
	SessionID      uint
	SessionOrdinal int
	StudyName      string
	FormType       string
	FilePath       string
}

// ArcName returns the deterministic archive path for a record:
//
//	<StudyName>/<n>_participant_session/<Task>_<Factor>_trial_<k>/<Measurement>.<ext>
func (r Record) ArcName() string {
	ext := filepath.Ext(r.ResultsPath)
	if ext == "" {
		ext = ".csv"
	}
	return path.Join(
		stripSpace(r.StudyName),
		fmt.Sprintf("%d_participant_session", r.SessionOrdinal),
		fmt.Sprintf("%s_%s_trial_%d", stripSpace(r.TaskName), stripSpace(r.FactorName), r.TrialOrdinal),
		stripSpace(r.MeasurementName)+ext,
	)
}

// ArcName returns the archive path for a survey artifact:
//
//	<StudyName>/<n>_participant_session/<form_type>_survey/<form_type>_survey_results.json
func (r SurveyRecord) ArcName() string {
	return path.Join(
		stripSpace(r.StudyName),
		fmt.Sprintf("%d_participant_session", r.SessionOrdinal),
		fmt.Sprintf("%s_survey", r.FormType),
		fmt.Sprintf("%s_survey_results%s", r.FormType, filepath.Ext(r.FilePath)),
	)
}

// WriteZip streams an export for the given records into w. The emitted tree
// is deterministic: entries are sorted, timestamps zeroed, and compression
// fixed, so equal inputs produce byte-identical archives.
//
// Missing or unreadable artifacts never abort the export: CSVs are replaced
// by a placeholder holding only the measurement's canonical header; binary
// and unknown artifacts are skipped and logged.
func WriteZip(w io.Writer, records []Record, surveys []SurveyRecord) error {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ArcName() < sorted[j].ArcName()
	})

	sortedSurveys := make([]SurveyRecord, len(surveys))
	copy(sortedSurveys, surveys)
	sort.Slice(sortedSurveys, func(i, j int) bool {
		return sortedSurveys[i].ArcName() < sortedSurveys[j].ArcName()
	})

	zw := zip.NewWriter(w)

	for _, record := range sorted {
		if err := writeArtifact(zw, record); err != nil {
			return err
		}
	}

	for _, survey := range sortedSurveys {
		if err := writeFileEntry(zw, survey.ArcName(), survey.FilePath); err != nil {
			log.Printf("archive: skipping survey %s: %v", survey.FilePath, err)
		}
	}

	return zw.Close()
}

func writeArtifact(zw *zip.Writer, record Record) error {
	err := writeFileEntry(zw, record.ArcName(), record.ResultsPath)
	if err == nil {
		return nil
	}

	ext := strings.ToLower(filepath.Ext(record.ResultsPath))
	if ext == ".csv" || ext == "" {
		// Keep the tree shape intact for downstream tooling: a header-only
		// placeholder stands in for the lost data.
		header, ok := CanonicalHeader(record.MeasurementName)
		if !ok {
			log.Printf("archive: skipping %s (no canonical schema): %v", record.ResultsPath, err)
			return nil
		}
		log.Printf("archive: synthesizing placeholder for %s: %v", record.ResultsPath, err)
		entry, zerr := zw.CreateHeader(&zip.FileHeader{Name: record.ArcName(), Method: zip.Deflate})
		if zerr != nil {
			return fmt.Errorf("failed to create placeholder entry: %w", zerr)
		}
		if _, werr := io.WriteString(entry, header+"\n"); werr != nil {
			return fmt.Errorf("failed to write placeholder: %w", werr)
		}
		return nil
	}

	log.Printf("archive: skipping %s: %v", record.ResultsPath, err)
	return nil
}

// writeFileEntry copies one on-disk file into the archive under arcname with
// a zeroed header so output stays deterministic. The file is read in full
// before the entry is created: a zip entry cannot be rolled back, so a read
// failure after CreateHeader would leave a truncated entry that the caller's
// placeholder would then duplicate.
func writeFileEntry(zw *zip.Writer, arcname, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	entry, err := zw.CreateHeader(&zip.FileHeader{Name: arcname, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("failed to copy artifact into zip: %w", err)
	}
	return nil
}
