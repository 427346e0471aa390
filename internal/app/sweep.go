package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/okian/runout/internal/adapters/mq/queue"
	"github.com/okian/runout/internal/adapters/repository"
	"github.com/okian/runout/internal/config"
	"github.com/okian/runout/internal/domain/stage"
	"github.com/okian/runout/internal/workflow"
	"github.com/okian/runout/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// SweepSpec is a parameter sweep: every class paired with every multiplier.
type SweepSpec struct {
	Classes     []string
	Multipliers []float64
}

// SweepFromConfig returns the sweep section of cfg.
func SweepFromConfig(cfg *config.Config) SweepSpec {
	return SweepSpec{Classes: cfg.Sweep.Classes, Multipliers: cfg.Sweep.Multipliers}
}

// Requests expands the sweep into one request per combination, each with a
// fresh run id. Empty lists use the configured class and multiplier;
// three-phase configs ignore classes.
func (s SweepSpec) Requests(cfg config.Config) []Request {
	classes := s.Classes
	if len(classes) == 0 || cfg.Flow.Phases != stage.SinglePhase {
		classes = []string{""}
	}
	multipliers := s.Multipliers
	if len(multipliers) == 0 {
		multipliers = []float64{cfg.Flow.Multiplier}
	}

	seen := make(map[Request]bool)
	out := make([]Request, 0, len(classes)*len(multipliers))
	for _, c := range classes {
		for _, m := range multipliers {
			key := Request{Class: c, Multiplier: m}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Request{RunID: uuid.NewString(), Class: c, Multiplier: m})
		}
	}
	return out
}

// checkNew refuses run ids the ledger already holds.
func (s *Service) checkNew(ctx context.Context, jobs []queue.Job) error {
	for _, job := range jobs {
		_, err := s.ledger.Get(ctx, job.RunID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrDuplicateRun, job.RunID)
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
	}
	return nil
}

// Outcome is the result of one sweep instance.
type Outcome struct {
	Request Request
	Class   string
	Report  workflow.Report
	Err     error
}

// Sweep runs every combination of spec and waits for all of them. Every
// request is planned before any engine call, so an unknown class fails the
// whole sweep up front. Instance failures are returned per outcome and do
// not stop the other instances.
func (s *Service) Sweep(ctx context.Context, spec SweepSpec) ([]Outcome, error) {
	return s.runAll(ctx, spec.Requests(s.planner.Config()))
}

// Run executes a single instance synchronously. A run id already in the
// ledger is refused with ErrDuplicateRun.
func (s *Service) Run(ctx context.Context, req Request) (Outcome, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	out, err := s.runAll(ctx, []Request{req})
	if err != nil {
		return Outcome{}, err
	}
	return out[0], out[0].Err
}

func (s *Service) runAll(ctx context.Context, reqs []Request) ([]Outcome, error) {
	jobs := make([]queue.Job, len(reqs))
	for i, req := range reqs {
		job, err := s.prepare(req)
		if err != nil {
			return nil, err
		}
		jobs[i] = job
	}
	if err := s.claim(ctx, jobs); err != nil {
		return nil, err
	}
	if err := s.checkNew(ctx, jobs); err != nil {
		for _, job := range jobs {
			s.claims.Release(ctx, job.Plan.WorkDir)
		}
		return nil, err
	}

	s.logger.Info(ctx, "sweep starting", logger.Int("instances", len(jobs)), logger.Int("parallelism", s.parallelism))
	outcomes := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, job := range jobs {
		s.put(ctx, queuedRun(job))
		g.Go(func() error {
			defer s.claims.Release(ctx, job.Plan.WorkDir)
			rep, err := s.runJob(gctx, job)
			outcomes[i] = Outcome{Request: reqs[i], Class: job.Class, Report: rep, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("sweep interrupted: %w", err)
	}
	return outcomes, nil
}
