package capture

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestBatchWriterFlushesAtBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MouseClicks.csv")
	w := newBatchWriter(path, mouseHeader, 2, nil)

	w.Append(row{Time: "10:00:00", Running: 0.10, Fields: []string{"1", "2"}})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("File written before the batch filled")
	}

	w.Append(row{Time: "10:00:01", Running: 0.20, Fields: []string{"3", "4"}})
	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("Got %d rows after batch flush, want header + 2", len(rows))
	}

	w.Append(row{Time: "10:00:02", Running: 0.30, Fields: []string{"5", "6"}})
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	rows = readCSV(t, path)
	if len(rows) != 4 {
		t.Fatalf("Got %d rows after Finish, want header + 3", len(rows))
	}
	if rows[0][0] != "Time" || rows[0][2] != "x" {
		t.Errorf("Header = %v, want %v", rows[0], mouseHeader)
	}
	if rows[3][1] != "0.30" {
		t.Errorf("running_time = %q, want two decimal places", rows[3][1])
	}
}

func TestBatchWriterEmptyTrialStillWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "KeyboardInputs.csv")
	w := newBatchWriter(path, keyboardHeader, 250, nil)

	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}
	rows := readCSV(t, path)
	if len(rows) != 1 {
		t.Fatalf("Got %d rows, want header only", len(rows))
	}
}

func TestBatchWriterTrimsPastDuration(t *testing.T) {
	cutoff := 5.0
	path := filepath.Join(t.TempDir(), "MouseMovement.csv")
	w := newBatchWriter(path, mouseHeader, 2, &cutoff)

	// The first batch is entirely inside the duration, the second straddles
	// it. Trimming happens on every flush, not only at the end.
	w.Append(row{Time: "10:00:01", Running: 1.00, Fields: []string{"1", "1"}})
	w.Append(row{Time: "10:00:02", Running: 2.00, Fields: []string{"2", "2"}})
	w.Append(row{Time: "10:00:05", Running: 5.00, Fields: []string{"3", "3"}})
	w.Append(row{Time: "10:00:06", Running: 6.10, Fields: []string{"4", "4"}})
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	rows := readCSV(t, path)
	if len(rows) != 4 {
		t.Fatalf("Got %d rows, want header + 3 within the duration", len(rows))
	}
	for _, r := range rows[1:] {
		if r[1] == "6.10" {
			t.Error("Row past the task duration survived")
		}
	}
	// The boundary row is inclusive.
	if rows[3][1] != "5.00" {
		t.Errorf("Last row running_time = %q, want 5.00", rows[3][1])
	}
}

func TestBatchWriterSupplementalTarget(t *testing.T) {
	w := newBatchWriter("/data/trial/MouseClicks.csv", mouseHeader, 250, nil)
	if got := w.targetPath(); got != "/data/trial/MouseClicks.csv" {
		t.Errorf("targetPath = %q", got)
	}
	w.supplemental = true
	if got := w.targetPath(); got != "/data/trial/MouseClicks_supplemental.csv" {
		t.Errorf("supplemental targetPath = %q", got)
	}
}
