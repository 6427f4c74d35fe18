package export

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// FileSink writes the export artifacts into a local directory.
type FileSink struct {
	dir    string
	logger *log.Logger
}

// NewFileSink creates a FileSink writing into dir.
func NewFileSink(dir string, logger *log.Logger) *FileSink {
	if logger == nil {
		logger = log.New(os.Stdout, "export ", log.LstdFlags)
	}
	return &FileSink{dir: dir, logger: logger}
}

func (s *FileSink) Name() string { return "file" }

// Dir returns the output directory.
func (s *FileSink) Dir() string { return s.dir }

func (s *FileSink) Export(ctx context.Context, ds Dataset) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	artifacts, err := Artifacts(ds)
	if err != nil {
		return err
	}

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(s.dir, a.Name)
		if err := writeFileAtomic(path, a.Body); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	s.logger.Printf("Saved %d places and %d low-rated places to %s", len(ds.All), len(ds.LowRated), s.dir)
	return nil
}

// writeFileAtomic replaces path only once the new content is fully written.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
