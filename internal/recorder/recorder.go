// Package recorder saves utterance audio as WAV files for later inspection.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/MrWong99/voxlate/pkg/audio/wavfile"
)

// Option configures a [Recorder].
type Option func(*Recorder)

// WithFs replaces the filesystem. Tests use afero.NewMemMapFs.
func WithFs(fs afero.Fs) Option {
	return func(r *Recorder) { r.fs = fs }
}

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder writes one WAV file per utterance into a directory. It is safe
// for concurrent use.
type Recorder struct {
	dir string
	fs  afero.Fs
	now func() time.Time

	mu    sync.Mutex
	saved int
}

// New returns a Recorder writing into dir, creating it if needed.
func New(dir string, opts ...Option) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("recorder: directory must not be empty")
	}
	r := &Recorder{dir: dir, fs: afero.NewOsFs(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", dir, err)
	}
	return r, nil
}

// Save writes pcm as a 16-bit mono WAV and returns its path. An empty id is
// replaced with a random one.
func (r *Recorder) Save(id string, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", errors.New("recorder: no samples")
	}
	if id == "" {
		id = uuid.NewString()
	}
	name := fmt.Sprintf("%s-%s.wav", r.now().UTC().Format("20060102T150405.000Z"), id)
	path := filepath.Join(r.dir, name)

	f, err := r.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("recorder: create %s: %w", path, err)
	}
	if err := wavfile.Encode(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		_ = r.fs.Remove(path)
		return "", fmt.Errorf("recorder: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("recorder: close %s: %w", path, err)
	}

	r.mu.Lock()
	r.saved++
	r.mu.Unlock()
	return path, nil
}

// Saved returns the number of files written.
func (r *Recorder) Saved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved
}

// Dir returns the output directory.
func (r *Recorder) Dir() string { return r.dir }
