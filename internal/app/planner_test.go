package service_test

import (
	"errors"
	"path/filepath"
	"testing"

	service "github.com/okian/runout/internal/app"
	"github.com/okian/runout/internal/domain/flowclass"
	"github.com/okian/runout/internal/domain/stage"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPlanner(t *testing.T) {
	Convey("Given a planner over the default flow settings", t, func() {
		cfg, _ := testConfig(t)
		p := service.NewPlanner(cfg)

		Convey("When planning without class or multiplier", func() {
			plan, label, err := p.Plan(service.Request{RunID: "r1"})

			Convey("Then the configured class and multiplier apply", func() {
				So(err, ShouldBeNil)
				So(label, ShouldEqual, "debris_flow")
				So(plan.Multiplier, ShouldEqual, 1.0)
				So(plan.Coarse.Class(), ShouldEqual, flowclass.DebrisFlow)
				So(plan.Fine.Kind(), ShouldEqual, stage.Fine)
				So(plan.WorkDir, ShouldEqual, filepath.Join(cfg.WorkDir, "r1"))
			})
		})

		Convey("When planning a numbered class", func() {
			_, label, err := p.Plan(service.Request{RunID: "r2", Class: "2", Multiplier: 0.5})
			So(err, ShouldBeNil)
			So(label, ShouldEqual, "hyperconcentrated")
		})

		Convey("When the class is unknown", func() {
			_, _, err := p.Plan(service.Request{RunID: "r3", Class: "lava"})

			Convey("Then planning fails without a fallback", func() {
				So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
				So(errors.Is(err, flowclass.ErrInvalidFlowClass), ShouldBeTrue)
			})
		})

		Convey("When the run id would escape the work dir", func() {
			_, _, err := p.Plan(service.Request{RunID: "../r4"})
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})

		Convey("When the multiplier is negative", func() {
			_, _, err := p.Plan(service.Request{RunID: "r5", Multiplier: -1})
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})
	})

	Convey("Given a three-phase configuration", t, func() {
		cfg, _ := testConfig(t)
		cfg.Flow.Phases = stage.ThreePhase
		plan, label, err := service.NewPlanner(cfg).Plan(service.Request{RunID: "tp", Class: "ignored"})

		So(err, ShouldBeNil)
		So(label, ShouldEqual, service.ThreePhaseLabel)
		So(plan.Fine.Densities(), ShouldResemble, []float64{2700, 1800, 1000})
	})
}

func TestSweepRequests(t *testing.T) {
	Convey("Given a sweep of two classes and two multipliers", t, func() {
		cfg, _ := testConfig(t)
		spec := service.SweepSpec{Classes: []string{"1", "4", "4"}, Multipliers: []float64{0.5, 2}}
		reqs := spec.Requests(*cfg)

		Convey("Then the cartesian product is expanded without duplicates", func() {
			So(len(reqs), ShouldEqual, 4)
			ids := make(map[string]bool)
			for _, r := range reqs {
				ids[r.RunID] = true
			}
			So(len(ids), ShouldEqual, 4)
		})
	})

	Convey("Given an empty sweep", t, func() {
		cfg, _ := testConfig(t)
		reqs := service.SweepSpec{}.Requests(*cfg)
		So(len(reqs), ShouldEqual, 1)
		So(reqs[0].Multiplier, ShouldEqual, cfg.Flow.Multiplier)
	})

	Convey("Given a three-phase sweep", t, func() {
		cfg, _ := testConfig(t)
		cfg.Flow.Phases = stage.ThreePhase
		reqs := service.SweepSpec{Classes: []string{"1", "2"}, Multipliers: []float64{1, 2, 3}}.Requests(*cfg)
		So(len(reqs), ShouldEqual, 3)
	})
}
