package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/okian/runout/internal/adapters/repository"
	"github.com/okian/runout/internal/config"
	"github.com/okian/runout/internal/domain/raster"
	"github.com/okian/runout/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// copyEngine copies its elevation input to the max height output, so every
// valid cell of the input counts as flow.
const copyEngine = `for a in "$@"; do
  case "$a" in
    prefix=*) p="${a#prefix=}" ;;
    elevation=*) e="${a#elevation=}" ;;
  esac
done
echo "$ENGINE_MARK" > "${p}_mark.txt"
mkdir -p "${p}_results/${p}_ascii"
cp "$e" "${p}_results/${p}_ascii/${p}_hflow_max.asc"
`

func init() {
	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

func demGrid(cs float64, n int) *raster.Grid {
	g, err := raster.New(geom.Point{}, cs, n, n, raster.DefaultNoData)
	if err != nil {
		panic(err)
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			g.Set(r, c, 900+float64(r))
		}
	}
	return g
}

// writeFixture lays out inputs, the engine script and a config file in a
// temp dir and returns the config path and the dir.
func writeFixture(t *testing.T, ledger bool) (string, string) {
	t.Helper()
	dir := t.TempDir()
	store := raster.NewFileStore("")
	ctx := context.Background()
	if err := store.Save(ctx, filepath.Join(dir, "coarse.asc"), demGrid(10, 10)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, filepath.Join(dir, "fine.asc"), demGrid(2, 50)); err != nil {
		t.Fatal(err)
	}
	hg := "time discharge velocity\n0 10 2\n50 20 2\n100 15 2\n"
	if err := os.WriteFile(filepath.Join(dir, "hydro.txt"), []byte(hg), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "engine.sh"), []byte(copyEngine), 0o600); err != nil {
		t.Fatal(err)
	}

	ledgerPath := ""
	if ledger {
		ledgerPath = filepath.Join(dir, "ledger.db")
	}
	yaml := fmt.Sprintf(`log_level: error
work_dir: %[1]s/runs
ledger_path: "%[2]s"
sweep_parallelism: 2
engine:
  binary: /bin/sh
  args: ["%[1]s/engine.sh"]
  env: ["ENGINE_MARK=from-config"]
inputs:
  coarse_dem: %[1]s/coarse.asc
  fine_dem: %[1]s/fine.asc
  hydrograph: %[1]s/hydro.txt
footprint:
  radius: 1
`, dir, ledgerPath)
	path := filepath.Join(dir, "runout.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, dir
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	convey.Convey("Given a config with a SQLite ledger and a copying engine", t, func() {
		cfgPath, dir := writeFixture(t, true)

		convey.Convey("When running one instance", func() {
			out, err := execute("--config", cfgPath, "run", "--run-id", "cli-1", "--multiplier", "2")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the outcome is printed", func() {
				convey.So(out, convey.ShouldContainSubstring, "cli-1")
				convey.So(out, convey.ShouldContainSubstring, "done")
				convey.So(out, convey.ShouldContainSubstring, "debris_flow")
			})

			convey.Convey("Then both stages wrote into the run directory", func() {
				_, statErr := os.Stat(filepath.Join(dir, "runs", "cli-1", "fine_results", "fine_ascii", "fine_hflow_max.asc"))
				convey.So(statErr, convey.ShouldBeNil)
			})

			convey.Convey("Then the engine received the configured environment", func() {
				mark, readErr := os.ReadFile(filepath.Join(dir, "runs", "cli-1", "fine_mark.txt"))
				convey.So(readErr, convey.ShouldBeNil)
				convey.So(string(mark), convey.ShouldEqual, "from-config\n")
			})

			convey.Convey("Then the ledger holds the finished run", func() {
				ledger, err := repository.NewSQLiteStore(context.Background(), filepath.Join(dir, "ledger.db"))
				convey.So(err, convey.ShouldBeNil)
				defer ledger.Close()

				run, err := ledger.Get(context.Background(), "cli-1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(run.State, convey.ShouldEqual, "done")
				convey.So(run.Multiplier, convey.ShouldEqual, 2.0)
				convey.So(run.EngineCalls, convey.ShouldEqual, 2)
				convey.So(run.ScaledVolume, convey.ShouldAlmostEqual, 2*run.Volume, 1e-9)
			})
		})

		convey.Convey("When the class is unknown", func() {
			_, err := execute("--config", cfgPath, "run", "--class", "lava")

			convey.Convey("Then the command fails before any engine call", func() {
				convey.So(err, convey.ShouldNotBeNil)
				_, statErr := os.Stat(filepath.Join(dir, "runs"))
				convey.So(os.IsNotExist(statErr), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a missing config file", t, func() {
		_, err := execute("--config", filepath.Join(t.TempDir(), "missing.yaml"), "run")
		convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
	})
}

func TestSweepCommand(t *testing.T) {
	convey.Convey("Given a config with an in-memory ledger", t, func() {
		cfgPath, dir := writeFixture(t, false)

		convey.Convey("When sweeping two classes and two multipliers", func() {
			out, err := execute("--config", cfgPath, "sweep",
				"--class", "debris_flow,streamflow", "--multiplier", "1,3")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then four instances ran in separate directories", func() {
				entries, readErr := os.ReadDir(filepath.Join(dir, "runs"))
				convey.So(readErr, convey.ShouldBeNil)
				convey.So(entries, convey.ShouldHaveLength, 4)
				convey.So(out, convey.ShouldContainSubstring, "streamflow")
				convey.So(bytes.Count([]byte(out), []byte("done")), convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When one class is unknown", func() {
			_, err := execute("--config", cfgPath, "sweep", "--class", "debris_flow,lava")

			convey.Convey("Then nothing runs", func() {
				convey.So(err, convey.ShouldNotBeNil)
				_, statErr := os.Stat(filepath.Join(dir, "runs"))
				convey.So(os.IsNotExist(statErr), convey.ShouldBeTrue)
			})
		})
	})
}

func TestScaleCommand(t *testing.T) {
	convey.Convey("Given a hydrograph file", t, func() {
		dir := t.TempDir()
		src := filepath.Join(dir, "in.txt")
		dst := filepath.Join(dir, "out", "scaled.txt")
		convey.So(os.WriteFile(src, []byte("time q v\n10 2 1\n20 4 1\nbad row\n"), 0o600), convey.ShouldBeNil)
		t.Setenv(config.EnvConfig, "")

		convey.Convey("When scaling by three", func() {
			out, err := execute("scale", src, dst, "-m", "3")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then volumes and skipped rows are reported", func() {
				convey.So(out, convey.ShouldContainSubstring, "rows\t2\n")
				convey.So(out, convey.ShouldContainSubstring, "skipped\t1\n")
				convey.So(out, convey.ShouldContainSubstring, "volume\t40\n")
				convey.So(out, convey.ShouldContainSubstring, "scaled_volume\t120\n")
			})

			convey.Convey("Then the scaled file is written", func() {
				data, readErr := os.ReadFile(dst)
				convey.So(readErr, convey.ShouldBeNil)
				convey.So(string(data), convey.ShouldStartWith, "time q v\n")
			})
		})

		convey.Convey("When the multiplier is not positive", func() {
			_, err := execute("scale", src, dst, "-m", "0")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When an argument is missing", func() {
			_, err := execute("scale", src)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestServe(t *testing.T) {
	convey.Convey("Given a service on a loopback listener", t, func() {
		cfgPath, _ := writeFixture(t, false)
		cfg, err := config.LoadFile(cfgPath)
		convey.So(err, convey.ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		svc, ledger, err := newService(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		defer ledger.Close()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		convey.So(err, convey.ShouldBeNil)
		base := "http://" + ln.Addr().String()

		done := make(chan error, 1)
		go func() { done <- serve(ctx, svc, ln, cfg.MaxRunsLimit) }()

		convey.Convey("Then the API answers until the context is cancelled", func() {
			client := &http.Client{Timeout: 2 * time.Second}
			var status int
			for i := 0; i < 50; i++ {
				resp, err := client.Get(base + "/healthz")
				if err == nil {
					status = resp.StatusCode
					resp.Body.Close()
					if status == http.StatusOK {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
			}
			convey.So(status, convey.ShouldEqual, http.StatusOK)

			resp, err := client.Get(base + "/metrics")
			convey.So(err, convey.ShouldBeNil)
			resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			cancel()
			select {
			case err := <-done:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(5 * time.Second):
				t.Fatal("serve did not return after cancel")
			}
			convey.So(svc.Ready(), convey.ShouldBeFalse)
		})
	})
}
