package session

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SessionDirName returns the on-disk directory for a session's trial
// artifacts.
func SessionDirName(sessionID uint) string {
	return fmt.Sprintf("Session_%d", sessionID)
}

// ResultZipName returns the name of the packaged session archive.
func ResultZipName(sessionID uint) string {
	return fmt.Sprintf("session_results_%d.zip", sessionID)
}

// TrialDirName returns the per-trial directory name under the session
// directory.
func TrialDirName(taskName, factorName string, ordinal int) string {
	return fmt.Sprintf("%s_%s_trial_%d", taskName, factorName, ordinal)
}

// RetireStale renames any leftover session directory or result zip from an
// earlier run of the same session to an _invalid_<n> sibling, so the new run
// starts clean without discarding old data.
func RetireStale(root string, sessionID uint) error {
	for _, name := range []string{SessionDirName(sessionID), ResultZipName(sessionID)} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.Rename(path, nextInvalidName(path)); err != nil {
			return fmt.Errorf("retiring %s: %w", name, err)
		}
	}
	return nil
}

func nextInvalidName(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_invalid_%d%s", base, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Package zips the session directory into session_results_<id>.zip next to
// it, preserving empty trial directories, and removes the directory on
// success. On failure the directory is left in place.
func Package(root string, sessionID uint) (string, error) {
	dir := filepath.Join(root, SessionDirName(sessionID))
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("session directory: %w", err)
	}

	zipPath := filepath.Join(root, ResultZipName(sessionID))
	if err := zipTree(dir, zipPath); err != nil {
		os.Remove(zipPath)
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("removing session directory: %w", err)
	}
	return zipPath, nil
}

func zipTree(dir, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	base := filepath.Base(dir)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		arcName := filepath.ToSlash(filepath.Join(base, rel))

		if d.IsDir() {
			// Directory entries keep empty trial directories visible in
			// the archive.
			_, err := zw.Create(arcName + "/")
			return err
		}

		w, err := zw.Create(arcName)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, src)
		src.Close()
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("archiving %s: %w", base, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return f.Sync()
}
