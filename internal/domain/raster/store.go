package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store loads and persists grids by path. It is the only view the pipeline
// has of the raster ingestion tooling.
type Store interface {
	Load(ctx context.Context, path string) (*Grid, error)
	Save(ctx context.Context, path string, g *Grid) error
}

// WindowLoader is implemented by stores that can read part of a grid
// without materialising the rest.
type WindowLoader interface {
	LoadWindow(ctx context.Context, path string, e Extent) (*Grid, error)
}

// LoadWindow reads the cells at path that overlap e, using the store's
// windowed reader when it has one.
func LoadWindow(ctx context.Context, s Store, path string, e Extent) (*Grid, error) {
	if wl, ok := s.(WindowLoader); ok {
		return wl.LoadWindow(ctx, path, e)
	}
	g, err := s.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return g.Window(e)
}

// FileStore reads and writes ESRI ASCII grids on the local filesystem.
// Relative paths resolve against Root.
type FileStore struct {
	Root string
}

// NewFileStore returns a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

func (s *FileStore) resolve(path string) string {
	if filepath.IsAbs(path) || s.Root == "" {
		return path
	}
	return filepath.Join(s.Root, path)
}

// Load reads the grid stored at path.
func (s *FileStore) Load(ctx context.Context, path string) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	g, err := ReadASCII(f)
	if err != nil {
		return nil, fmt.Errorf("read raster %s: %w", path, err)
	}
	return g, nil
}

// LoadWindow streams the grid at path and keeps only the cells overlapping e.
func (s *FileStore) LoadWindow(ctx context.Context, path string, e Extent) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	g, err := ReadASCIIWindow(f, e)
	if err != nil {
		return nil, fmt.Errorf("read raster %s: %w", path, err)
	}
	return g, nil
}

// Save writes g to path, creating parent directories. The file is written
// to a temporary name first so readers never observe a partial grid.
func (s *FileStore) Save(ctx context.Context, path string, g *Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create raster dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".raster-*.asc")
	if err != nil {
		return fmt.Errorf("create raster: %w", err)
	}
	if err := WriteASCII(tmp, g); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write raster %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close raster %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename raster %s: %w", path, err)
	}
	return nil
}
