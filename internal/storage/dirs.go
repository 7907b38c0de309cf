// Package storage handles local session/recording directories and uploads
// of training artifacts to S3.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

const (
	sessionsDirName   = "sessions"
	recordingsDirName = "recordings"
)

// sessionTimestamp matches the session folder naming used across the
// SorterBot services; the Cloud side keys its object store on it.
const sessionTimestamp = "02_01_2006__15_04_05"

// NextSessionDir creates and returns a fresh session folder named
// sess_{timestamp} under the data directory.
func NextSessionDir(dataDir string, now time.Time) (string, error) {
	dir := filepath.Join(dataDir, sessionsDirName, "sess_"+now.Format(sessionTimestamp))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session folder: %w", err)
	}
	return dir, nil
}

// NextRecordingDir returns the folder for the next training video. Folders
// are named with increasing integers; the highest existing folder is reused
// when it is still empty, otherwise the next number is created.
func NextRecordingDir(dataDir string) (string, error) {
	recordings := filepath.Join(dataDir, recordingsDirName)

	entries, err := os.ReadDir(recordings)
	if os.IsNotExist(err) {
		first := filepath.Join(recordings, "1")
		if err := os.MkdirAll(first, 0o755); err != nil {
			return "", fmt.Errorf("failed to create recordings folder: %w", err)
		}
		return first, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to list recordings folder: %w", err)
	}

	highest := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(entry.Name()); err == nil && n > highest {
			highest = n
		}
	}

	if highest == 0 {
		first := filepath.Join(recordings, "1")
		if err := os.MkdirAll(first, 0o755); err != nil {
			return "", fmt.Errorf("failed to create recordings folder: %w", err)
		}
		return first, nil
	}

	last := filepath.Join(recordings, strconv.Itoa(highest))
	contents, err := os.ReadDir(last)
	if err != nil {
		return "", fmt.Errorf("failed to inspect recordings folder: %w", err)
	}
	if len(contents) == 0 {
		return last, nil
	}

	next := filepath.Join(recordings, strconv.Itoa(highest+1))
	if err := os.MkdirAll(next, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recordings folder: %w", err)
	}
	return next, nil
}

// RecordingDirs lists the recording folders in natural numeric order.
func RecordingDirs(dataDir string) ([]string, error) {
	recordings := filepath.Join(dataDir, recordingsDirName)
	entries, err := os.ReadDir(recordings)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var nums []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(entry.Name()); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	dirs := make([]string, 0, len(nums))
	for _, n := range nums {
		dirs = append(dirs, filepath.Join(recordings, strconv.Itoa(n)))
	}
	return dirs, nil
}
