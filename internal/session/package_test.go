package session

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func zipNames(t *testing.T, path string) map[string]bool {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	return names
}

func TestPackageZipsAndRemovesSessionTree(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, SessionDirName(5))
	// One populated trial and one that never recorded anything.
	trialA := filepath.Join(dir, TrialDirName("Search", "Music", 1))
	trialB := filepath.Join(dir, TrialDirName("Reading", "Music", 1))
	if err := os.MkdirAll(trialA, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(trialB, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(trialA, "MouseMovement.csv"), []byte("Time,running_time,x,y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	zipPath, err := Package(root, 5)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(zipPath) != "session_results_5.zip" {
		t.Errorf("Archive name = %s", filepath.Base(zipPath))
	}

	names := zipNames(t, zipPath)
	if !names["Session_5/Search_Music_trial_1/MouseMovement.csv"] {
		t.Errorf("Artifact entry missing: %v", names)
	}
	// Empty trial directories stay visible in the archive.
	if !names["Session_5/Reading_Music_trial_1/"] {
		t.Errorf("Empty trial directory entry missing: %v", names)
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Session directory survived packaging")
	}
}

func TestPackageMissingSessionDir(t *testing.T) {
	if _, err := Package(t.TempDir(), 9); err == nil {
		t.Error("Expected error for absent session directory")
	}
}

func TestRetireStaleRenamesLeftovers(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, SessionDirName(3))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ResultZipName(3)), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := RetireStale(root, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "Session_3_invalid_1")); err != nil {
		t.Errorf("Stale directory not retired: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "session_results_3_invalid_1.zip")); err != nil {
		t.Errorf("Stale archive not retired: %v", err)
	}

	// A second leftover from another rerun gets the next suffix.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := RetireStale(root, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "Session_3_invalid_2")); err != nil {
		t.Errorf("Second stale directory not retired: %v", err)
	}

	// Nothing stale is a no-op.
	if err := RetireStale(root, 3); err != nil {
		t.Fatal(err)
	}
}
