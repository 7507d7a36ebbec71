package archive

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// DefaultChunkRows is how many rows are buffered before a streamed export is
// flushed to the client.
const DefaultChunkRows = 500

// StreamStudy writes every CSV artifact of a study to w as newline-delimited
// JSON. Each line carries the trial context plus the row keyed by the
// measurement's canonical header, so consumers can filter without holding the
// archive tree in memory. Non-CSV artifacts are skipped.
func (s *Service) StreamStudy(ctx context.Context, studyID uint, w io.Writer, chunkRows int) error {
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}

	export, err := s.Study(ctx, studyID)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	pending := 0

	for _, record := range export.Records {
		if !strings.HasSuffix(record.ResultsPath, ".csv") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := streamInstance(enc, record)
		if err != nil {
			return err
		}
		pending += n
		if pending >= chunkRows {
			if err := bw.Flush(); err != nil {
				return fmt.Errorf("failed to flush stream: %w", err)
			}
			pending = 0
		}
	}

	return bw.Flush()
}

func streamInstance(enc *json.Encoder, record Record) (int, error) {
	f, err := os.Open(record.ResultsPath)
	if err != nil {
		log.Printf("stream: skipping unreadable artifact %s: %v", record.ResultsPath, err)
		return 0, nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return 0, nil
		}
		log.Printf("stream: skipping malformed artifact %s: %v", record.ResultsPath, err)
		return 0, nil
	}

	rows := 0
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("stream: truncating malformed artifact %s: %v", record.ResultsPath, err)
			break
		}

		line := map[string]any{
			"session_data_instance_id": record.InstanceID,
			"participant_session_id":   record.SessionID,
			"trial_id":                 record.TrialID,
			"task_name":                record.TaskName,
			"factor_name":              record.FactorName,
			"measurement_option_name":  record.MeasurementName,
		}
		for i, name := range header {
			if i < len(fields) {
				line[name] = fields[i]
			}
		}
		if err := enc.Encode(line); err != nil {
			return rows, fmt.Errorf("failed to encode stream row: %w", err)
		}
		rows++
	}
	return rows, nil
}
