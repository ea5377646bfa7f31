package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// scratch is the private working directory of one delivery.
type scratch struct {
	dir string
}

func newScratch(base string, jobID uuid.UUID) (*scratch, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(base, "job-"+jobID.String()+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &scratch{dir: dir}, nil
}

func (s *scratch) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *scratch) Cleanup() error {
	return os.RemoveAll(s.dir)
}
