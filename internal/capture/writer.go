package capture

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

// row is one sample: wall-clock time, running seconds, then the
// measurement's own fields.
type row struct {
	Time    string
	Running float64
	Fields  []string
}

// batchWriter buffers rows and appends them to a CSV in fixed-size batches
// so long trials don't pay a write per sample. The header is written when
// the file is first created. Rows whose running time exceeds the task
// duration are dropped at write time; trackers keep producing briefly after
// the end-of-task signal.
type batchWriter struct {
	path      string
	header    []string
	batchRows int
	cutoff    *float64
	buf       []row
	// supplemental is set after a write failure, all later flushes go to a
	// sibling file so partial data survives a full disk.
	supplemental bool
}

func newBatchWriter(path string, header []string, batchRows int, cutoff *float64) *batchWriter {
	if batchRows <= 0 {
		batchRows = 250
	}
	return &batchWriter{
		path:      path,
		header:    header,
		batchRows: batchRows,
		cutoff:    cutoff,
	}
}

// Append buffers one row, flushing when the batch fills.
func (w *batchWriter) Append(r row) {
	w.buf = append(w.buf, r)
	if len(w.buf) >= w.batchRows {
		if err := w.flush(); err != nil {
			log.Printf("batch flush failed for %s: %v", w.path, err)
		}
	}
}

// Finish writes the remaining rows. The file is created even when no rows
// were recorded so every requested measurement has an artifact.
func (w *batchWriter) Finish() error {
	return w.flush()
}

// Partial reports whether any rows were diverted to the supplemental file.
func (w *batchWriter) Partial() bool {
	return w.supplemental
}

func (w *batchWriter) flush() error {
	rows := w.buf
	w.buf = w.buf[:0]
	if w.cutoff != nil {
		kept := rows[:0]
		for _, r := range rows {
			if r.Running <= *w.cutoff {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	if err := w.writeTo(w.targetPath(), rows); err != nil {
		if w.supplemental {
			return err
		}
		// Primary volume may be full, divert what we have.
		w.supplemental = true
		if suppErr := w.writeTo(w.targetPath(), rows); suppErr != nil {
			return fmt.Errorf("supplemental write failed after %v: %w", err, suppErr)
		}
		return err
	}
	return nil
}

func (w *batchWriter) targetPath() string {
	if w.supplemental {
		ext := filepath.Ext(w.path)
		return w.path[:len(w.path)-len(ext)] + "_supplemental" + ext
	}
	return w.path
}

func (w *batchWriter) writeTo(path string, rows []row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create trial directory: %w", err)
	}

	_, statErr := os.Stat(path)
	needHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needHeader {
		if err := cw.Write(w.header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for _, r := range rows {
		record := make([]string, 0, 2+len(r.Fields))
		record = append(record, r.Time, strconv.FormatFloat(r.Running, 'f', 2, 64))
		record = append(record, r.Fields...)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return f.Sync()
}
