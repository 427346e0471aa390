package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

// counterValue sums every sample of the named counter family.
func counterValue(registry *prometheus.Registry, name string) float64 {
	families, err := registry.Gather()
	if err != nil {
		return -1
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("pipeline"),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered on that registry", func() {
				So(manager, ShouldNotBeNil)
				manager.workflowOutcomes.WithLabelValues(OutcomeDone).Inc()
				manager.workflowOutcomes.WithLabelValues(OutcomeDone).Inc()
				So(counterValue(registry, "test_pipeline_runs_total"), ShouldEqual, 2)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording a known outcome", func() {
			before := counterValue(GetRegistry(), "runout_workflow_runs_total")
			err := RecordWorkflowOutcome(OutcomeFailed)

			Convey("Then the counter increases", func() {
				So(err, ShouldBeNil)
				So(counterValue(GetRegistry(), "runout_workflow_runs_total")-before, ShouldEqual, 1)
			})
		})

		Convey("When recording an unknown outcome", func() {
			err := RecordWorkflowOutcome("partial")

			Convey("Then it is rejected", func() {
				So(errors.Is(err, ErrUnknownOutcome), ShouldBeTrue)
			})
		})

		Convey("When recording pipeline observations", func() {
			before := counterValue(GetRegistry(), "runout_workflow_hydrograph_rows_skipped_total")
			So(func() {
				RecordHydrograph(10, 2, 3000)
				ObserveFootprint(4, 20, 320)
				ObserveStageDuration("coarse", 12.5)
				RecordEngineInvocation("coarse", "ok")
				RecordWorkflowFailure("footprint", "footprint_empty")
				UpdateQueueSize(3)
				UpdateQueueCapacity(10)
				RecordQueueRejected()
				UpdateWorkerCount(2)
				WorkerBusy(1)
				WorkerBusy(-1)
				RecordRunSubmitted()
				RecordRunDuplicate()
				RecordScheduledSweep()
				RecordHTTPRequest("runs", "POST", "202", 1.5)
			}, ShouldNotPanic)

			Convey("Then skipped rows are counted", func() {
				So(counterValue(GetRegistry(), "runout_workflow_hydrograph_rows_skipped_total")-before, ShouldEqual, 2)
			})
		})
	})
}
