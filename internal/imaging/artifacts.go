package imaging

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// ArtifactSink receives intermediate images produced while processing. Stage
// names a processing step ("contrasted", "contours", "analyzed", ...), name is
// the source image's file name.
type ArtifactSink interface {
	Save(stage, name string, img image.Image) error
}

// DirSink writes artifacts to Root/<stage>/<name>.
//
// The encoder is chosen from the file extension. Names whose extension has no
// encoder are written as PNG with ".png" appended.
type DirSink struct {
	Root string
}

// Save writes img, creating the stage directory as needed.
func (s DirSink) Save(stage, name string, img image.Image) error {
	if s.Root == "" {
		return errors.New("artifact directory not configured")
	}
	if stage == "" || strings.ContainsAny(stage, `/\`) {
		return fmt.Errorf("invalid artifact stage: %q", stage)
	}

	name = filepath.Base(name)
	if _, err := imaging.FormatFromFilename(name); err != nil {
		name += ".png"
	}

	dir := filepath.Join(s.Root, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// Path returns where Save stores an artifact.
func (s DirSink) Path(stage, name string) string {
	name = filepath.Base(name)
	if _, err := imaging.FormatFromFilename(name); err != nil {
		name += ".png"
	}
	return filepath.Join(s.Root, stage, name)
}

// MemorySink keeps artifacts in memory, keyed by stage then name.
type MemorySink struct {
	mu     sync.Mutex
	images map[string]map[string]image.Image
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{images: make(map[string]map[string]image.Image)}
}

// Save stores img, replacing any earlier artifact with the same stage and name.
func (s *MemorySink) Save(stage, name string, img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.images[stage] == nil {
		s.images[stage] = make(map[string]image.Image)
	}
	s.images[stage][name] = img
	return nil
}

// Get returns a stored artifact.
func (s *MemorySink) Get(stage, name string) (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.images[stage][name]
	return img, ok
}

// Count returns the number of artifacts stored for stage.
func (s *MemorySink) Count(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images[stage])
}
