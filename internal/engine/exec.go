package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/okian/runout/pkg/logger"
	"github.com/okian/runout/pkg/metrics"
)

// Exec runs the engine as a child process in the request's work directory.
type Exec struct {
	binary   string
	baseArgs []string
	env      []string
	log      logger.Logger
}

// NewExec returns an Exec engine for binary.
func NewExec(binary string, opts ...Option) (*Exec, error) {
	if binary == "" {
		return nil, ErrNoBinary
	}
	e := &Exec{binary: binary, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run invokes the engine and waits for it. A non-zero exit yields an
// *ExitError; cancellation kills the process.
func (e *Exec) Run(ctx context.Context, req Request) (Result, error) {
	kind := string(req.Stage.Kind())
	args := append(append([]string(nil), e.baseArgs...), Args(req)...)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Dir = req.WorkDir
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Info(ctx, "engine started",
		logger.String("run_id", req.RunID),
		logger.String("stage", kind),
		logger.String("binary", e.binary))
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			metrics.RecordEngineInvocation(kind, "cancelled")
			return Result{}, fmt.Errorf("%s stage: %w", kind, ctx.Err())
		}
		metrics.RecordEngineInvocation(kind, "failed")
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, &ExitError{Stage: kind, Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return Result{}, fmt.Errorf("%w: %s stage: %w", ErrEngineFailed, kind, err)
	}

	out := MaxHeightPath(req.WorkDir, req.Stage.Prefix())
	if _, err := os.Stat(out); err != nil {
		metrics.RecordEngineInvocation(kind, "missing_output")
		return Result{}, fmt.Errorf("%w: %w: %s", ErrEngineFailed, ErrMissingOutput, out)
	}
	metrics.RecordEngineInvocation(kind, "ok")
	e.log.Info(ctx, "engine finished",
		logger.String("run_id", req.RunID),
		logger.String("stage", kind),
		logger.Duration("elapsed", elapsed),
		logger.Int("stdout_bytes", stdout.Len()))
	return Result{MaxHeight: out, Duration: elapsed}, nil
}
