package service_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/okian/runout/internal/config"
	"github.com/okian/runout/internal/domain/raster"
	"github.com/okian/runout/internal/domain/stage"
	"github.com/okian/runout/internal/engine"
	"github.com/okian/runout/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

// fakeEngine writes a 2x2 coarse footprint and uniform fine flow.
type fakeEngine struct {
	mu    sync.Mutex
	store *raster.FileStore
	fail  stage.Kind
	calls int
	delay time.Duration
}

func (f *fakeEngine) Run(ctx context.Context, req engine.Request) (engine.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}
	if req.Stage.Kind() == f.fail {
		return engine.Result{}, &engine.ExitError{Stage: string(f.fail), Code: 1, Stderr: "boom\n"}
	}

	var heights *raster.Grid
	if req.Stage.Kind() == stage.Coarse {
		heights = coarseHeights()
	} else {
		dem, err := f.store.Load(ctx, req.Elevation)
		if err != nil {
			return engine.Result{}, err
		}
		heights = dem.Like()
		for r := 0; r < dem.Rows(); r++ {
			for c := 0; c < dem.Cols(); c++ {
				if dem.Valid(r, c) {
					heights.Set(r, c, 0.3)
				}
			}
		}
	}
	out := engine.MaxHeightPath(req.WorkDir, req.Stage.Prefix())
	if err := f.store.Save(ctx, out, heights); err != nil {
		return engine.Result{}, err
	}
	return engine.Result{MaxHeight: out}, nil
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func coarseHeights() *raster.Grid {
	g, err := raster.New(geom.Point{}, 10, 10, 10, raster.DefaultNoData)
	if err != nil {
		panic(err)
	}
	for _, rc := range [][2]int{{4, 4}, {4, 5}, {5, 4}, {5, 5}} {
		g.Set(rc[0], rc[1], 1.2)
	}
	return g
}

func grid(cs float64, n int, v float64) *raster.Grid {
	g, err := raster.New(geom.Point{}, cs, n, n, raster.DefaultNoData)
	if err != nil {
		panic(err)
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			g.Set(r, c, v+float64(r))
		}
	}
	return g
}

// testConfig writes inputs into a temp dir and returns a config using them.
func testConfig(t *testing.T) (*config.Config, *fakeEngine) {
	t.Helper()
	dir := t.TempDir()
	store := raster.NewFileStore("")
	ctx := context.Background()
	if err := store.Save(ctx, filepath.Join(dir, "coarse.asc"), grid(10, 10, 900)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, filepath.Join(dir, "fine.asc"), grid(2, 50, 900)); err != nil {
		t.Fatal(err)
	}
	hg := "time discharge velocity\n0 10 2\n50 20 2\n100 15 2\n"
	if err := os.WriteFile(filepath.Join(dir, "hydro.txt"), []byte(hg), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.New()
	cfg.WorkDir = filepath.Join(dir, "runs")
	cfg.Inputs.CoarseDEM = filepath.Join(dir, "coarse.asc")
	cfg.Inputs.FineDEM = filepath.Join(dir, "fine.asc")
	cfg.Inputs.Hydrograph = filepath.Join(dir, "hydro.txt")
	cfg.Footprint.Radius = 1
	return cfg, &fakeEngine{store: store}
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
