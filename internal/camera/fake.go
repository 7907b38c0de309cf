package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Fake is a Camera for tests. TakePicture writes a small placeholder file so
// upload paths have real bytes to read.
type Fake struct {
	mu         sync.Mutex
	recording  bool
	Pictures   []string
	Recordings []string

	// Err, when set, is returned from every call.
	Err error
}

// NewFake returns an idle fake camera.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) TakePicture(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	content := []byte("fake-jpeg:" + filepath.Base(path))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return err
	}
	f.Pictures = append(f.Pictures, path)
	return nil
}

func (f *Fake) StartRecording(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.recording {
		return fmt.Errorf("recording already in progress")
	}
	if err := os.WriteFile(path, []byte("fake-h264"), 0o644); err != nil {
		return err
	}
	f.recording = true
	f.Recordings = append(f.Recordings, path)
	return nil
}

func (f *Fake) StopRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return fmt.Errorf("no recording in progress")
	}
	f.recording = false
	return nil
}

func (f *Fake) Recording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}
