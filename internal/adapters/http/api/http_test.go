package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/runout/internal/adapters/http/api"
	"github.com/okian/runout/internal/adapters/mq/queue"
	"github.com/okian/runout/internal/adapters/repository"
	service "github.com/okian/runout/internal/app"
	"github.com/okian/runout/internal/domain/raster"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDeps struct {
	mu       sync.Mutex
	runs     map[string]repository.Run
	ready    bool
	rejectAs error
	listErr  error
}

func newMockDeps() *mockDeps {
	return &mockDeps{runs: make(map[string]repository.Run), ready: true}
}

func (m *mockDeps) Submit(_ context.Context, req service.Request) (repository.Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return repository.Run{}, false, service.ErrNotStarted
	}
	if m.rejectAs != nil {
		return repository.Run{}, false, m.rejectAs
	}
	if req.Class == "lava" {
		return repository.Run{}, false, fmt.Errorf("%w: unknown class", service.ErrInvalidRequest)
	}
	if r, ok := m.runs[req.RunID]; ok {
		return r, false, nil
	}
	if req.RunID == "" {
		req.RunID = fmt.Sprintf("gen-%d", len(m.runs))
	}
	r := repository.Run{
		ID: req.RunID, State: service.StateQueued, Class: req.Class, Multiplier: req.Multiplier,
		SubmittedAt: time.Unix(int64(len(m.runs)), 0).UTC(),
	}
	m.runs[r.ID] = r
	return r, true, nil
}

func (m *mockDeps) Get(_ context.Context, id string) (repository.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return repository.Run{}, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return r, nil
}

func (m *mockDeps) List(_ context.Context, limit int) ([]repository.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]repository.Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockDeps) GetStats(context.Context) (service.Stats, error) {
	return service.Stats{Started: m.ready, Workers: 2, Runs: map[string]int{"done": 1}}, nil
}

func (m *mockDeps) Ready() bool { return m.ready }

func setup(deps *mockDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, 5).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestSubmitRun(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newMockDeps()
		mux := setup(deps)

		Convey("When a new run is posted", func() {
			w := do(mux, http.MethodPost, "/runs", `{"run_id":"r1","class":"debris_flow","multiplier":2}`)

			Convey("Then it is accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var body map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body["id"], ShouldEqual, "r1")
				So(body["state"], ShouldEqual, "queued")
				So(body["multiplier"], ShouldEqual, 2.0)
			})

			Convey("And when the same run id is posted again", func() {
				again := do(mux, http.MethodPost, "/runs", `{"run_id":"r1","class":"streamflow"}`)

				Convey("Then the existing run is returned as a duplicate", func() {
					So(again.Code, ShouldEqual, http.StatusOK)
					var body map[string]any
					So(json.Unmarshal(again.Body.Bytes(), &body), ShouldBeNil)
					So(body["duplicate"], ShouldEqual, true)
					So(body["class"], ShouldEqual, "debris_flow")
				})
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(mux, http.MethodPost, "/runs", `{`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body has unknown fields", func() {
			w := do(mux, http.MethodPost, "/runs", `{"priority":"high"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the class is invalid", func() {
			w := do(mux, http.MethodPost, "/runs", `{"class":"lava"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(w.Body.String(), ShouldContainSubstring, "bad_request")
		})

		Convey("When the queue is full", func() {
			deps.rejectAs = fmt.Errorf("%w: %w", service.ErrRejected, queue.ErrFull)
			w := do(mux, http.MethodPost, "/runs", `{}`)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(w.Body.String(), ShouldContainSubstring, "backpressure")
		})

		Convey("When the service is stopped", func() {
			deps.ready = false
			w := do(mux, http.MethodPost, "/runs", `{}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When the method is not allowed", func() {
			w := do(mux, http.MethodDelete, "/runs", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestReadRuns(t *testing.T) {
	Convey("Given a server with recorded runs", t, func() {
		deps := newMockDeps()
		deps.runs["done-1"] = repository.Run{
			ID: "done-1", State: "done", EngineCalls: 2, ClippedCells: 300,
			Extent: raster.NewExtent(30, 30, 70, 70),
		}
		deps.runs["failed-1"] = repository.Run{ID: "failed-1", State: "failed", Error: "clip stage: coverage gap"}
		mux := setup(deps)

		Convey("When fetching one run", func() {
			w := do(mux, http.MethodGet, "/runs/done-1", "")

			Convey("Then its record is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body["state"], ShouldEqual, "done")
				So(body["clipped_cells"], ShouldEqual, 300.0)
				So(body["extent"], ShouldResemble, []any{30.0, 30.0, 70.0, 70.0})
			})
		})

		Convey("When fetching a failed run", func() {
			w := do(mux, http.MethodGet, "/runs/failed-1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "coverage gap")
			So(w.Body.String(), ShouldNotContainSubstring, "extent")
		})

		Convey("When fetching an unknown run", func() {
			w := do(mux, http.MethodGet, "/runs/nope", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When listing runs", func() {
			w := do(mux, http.MethodGet, "/runs?limit=5", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var body []map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(len(body), ShouldEqual, 2)
		})

		Convey("When the limit is invalid or too large", func() {
			So(do(mux, http.MethodGet, "/runs?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/runs?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
			w := do(mux, http.MethodGet, "/runs?limit=6", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(w.Body.String(), ShouldContainSubstring, "limit_exceeded")
		})

		Convey("When the ledger fails", func() {
			deps.listErr = errors.New("disk I/O error")
			w := do(mux, http.MethodGet, "/runs", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestHealthStatsMetrics(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newMockDeps()
		mux := setup(deps)

		Convey("Then healthz reports ok while running", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"ok"`)
		})

		Convey("Then healthz reports unavailable once stopped", func() {
			deps.ready = false
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Then stats are served as JSON", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var body map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body["workers"], ShouldEqual, 2.0)
		})

		Convey("Then metrics are exposed in Prometheus format", func() {
			_ = do(mux, http.MethodGet, "/healthz", "")
			w := do(mux, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "requests_total")
		})
	})
}
