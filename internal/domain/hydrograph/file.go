package hydrograph

import (
	"fmt"
	"os"
	"path/filepath"
)

// ScaleFile reads src, scales it by m and writes the result to dst, creating
// parent directories as needed. The parse report is returned alongside the
// scaling result so callers can surface skipped rows.
func ScaleFile(src, dst string, m float64, opts ...Option) (Result, Report, error) {
	in, err := os.Open(src)
	if err != nil {
		return Result{}, Report{}, fmt.Errorf("open hydrograph: %w", err)
	}
	h, rep, err := Parse(in, opts...)
	in.Close()
	if err != nil {
		return Result{}, rep, err
	}

	res, err := Scale(h, m)
	if err != nil {
		return Result{}, rep, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{}, rep, fmt.Errorf("create hydrograph dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return Result{}, rep, fmt.Errorf("create hydrograph: %w", err)
	}
	if err := Write(out, res.Scaled, opts...); err != nil {
		out.Close()
		return Result{}, rep, err
	}
	if err := out.Close(); err != nil {
		return Result{}, rep, fmt.Errorf("close hydrograph: %w", err)
	}
	return res, rep, nil
}
