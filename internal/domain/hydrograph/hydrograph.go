// Package hydrograph reads, rescales and writes discharge time series used as
// source input by the flow engine.
//
// A data row is "time q1 v1 [q2 v2 ...] [extra]": one discharge/velocity pair
// per phase, optionally followed by a single column that is carried through
// unchanged. Header lines are kept verbatim.
package hydrograph

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Phase is one discharge/velocity pair of a sample.
type Phase struct {
	Discharge float64
	Velocity  float64

	// decimals seen in the source tokens; zero for constructed phases.
	qDecimals int
	vDecimals int
}

// Sample is a single hydrograph row.
type Sample struct {
	Time   float64
	Phases []Phase
	// Extra holds an unpaired trailing column as it appeared in the input.
	Extra string

	timeText string
}

// Discharge returns the summed discharge of all phases.
func (s Sample) Discharge() float64 {
	var q float64
	for _, p := range s.Phases {
		q += p.Discharge
	}
	return q
}

func (s Sample) clone() Sample {
	out := s
	out.Phases = append([]Phase(nil), s.Phases...)
	return out
}

// Hydrograph is an ordered series of samples with non-decreasing time and
// non-negative discharge.
type Hydrograph struct {
	Header  []string
	Samples []Sample
	// Delimiter separates written columns. It is detected on Parse.
	Delimiter string
}

// Clone returns a deep copy of h.
func (h *Hydrograph) Clone() *Hydrograph {
	out := &Hydrograph{
		Header:    append([]string(nil), h.Header...),
		Samples:   make([]Sample, len(h.Samples)),
		Delimiter: h.Delimiter,
	}
	for i, s := range h.Samples {
		out.Samples[i] = s.clone()
	}
	return out
}

// Len returns the sample count.
func (h *Hydrograph) Len() int { return len(h.Samples) }

// RowError describes one skipped input row.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, ErrMalformedRow, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedRow.
func (e RowError) Unwrap() error { return ErrMalformedRow }

// Report summarises a Parse call.
type Report struct {
	Rows    int
	Skipped []RowError
}

// SkippedCount returns how many data rows were rejected.
func (r Report) SkippedCount() int { return len(r.Skipped) }

// Parse reads a hydrograph. Malformed data rows are skipped and listed in the
// report; they never fail the whole file. Blank lines are ignored.
func Parse(r io.Reader, opts ...Option) (*Hydrograph, Report, error) {
	o := applyOptions(opts)
	h := &Hydrograph{Delimiter: " "}
	var rep Report

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	delimSeen := false
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if line <= o.headerLines {
			h.Header = append(h.Header, text)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields, delim := split(text)
		if !delimSeen {
			h.Delimiter = delim
			delimSeen = true
		}
		s, err := parseRow(fields)
		if err == nil && len(h.Samples) > 0 && s.Time < h.Samples[len(h.Samples)-1].Time {
			err = fmt.Errorf("time %v precedes %v", s.Time, h.Samples[len(h.Samples)-1].Time)
		}
		if err != nil {
			rep.Skipped = append(rep.Skipped, RowError{Line: line, Reason: err.Error()})
			continue
		}
		h.Samples = append(h.Samples, s)
		rep.Rows++
	}
	if err := sc.Err(); err != nil {
		return nil, rep, fmt.Errorf("read hydrograph: %w", err)
	}
	return h, rep, nil
}

func split(text string) ([]string, string) {
	if strings.Contains(text, ",") {
		parts := strings.Split(text, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, ","
	}
	if strings.Contains(text, "\t") {
		return strings.Fields(text), "\t"
	}
	return strings.Fields(text), " "
}

func parseRow(fields []string) (Sample, error) {
	if len(fields) < 3 {
		return Sample{}, fmt.Errorf("%d fields, need at least 3", len(fields))
	}
	t, err := parseFinite(fields[0])
	if err != nil {
		return Sample{}, fmt.Errorf("time: %w", err)
	}
	s := Sample{Time: t, timeText: fields[0]}
	rest := fields[1:]
	if len(rest)%2 == 1 {
		s.Extra = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}
	for i := 0; i < len(rest); i += 2 {
		q, err := parseFinite(rest[i])
		if err != nil {
			return Sample{}, fmt.Errorf("discharge: %w", err)
		}
		if q < 0 {
			return Sample{}, fmt.Errorf("negative discharge %v", q)
		}
		v, err := parseFinite(rest[i+1])
		if err != nil {
			return Sample{}, fmt.Errorf("velocity: %w", err)
		}
		s.Phases = append(s.Phases, Phase{
			Discharge: q,
			Velocity:  v,
			qDecimals: decimals(rest[i], q),
			vDecimals: decimals(rest[i+1], v),
		})
	}
	return s, nil
}

// decimals returns the fractional digits of a numeric token. Exponent
// notation counts the digits of the shortest fixed form of v.
func decimals(token string, v float64) int {
	if strings.ContainsAny(token, "eE") {
		token = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if i := strings.IndexByte(token, '.'); i >= 0 {
		return len(token) - i - 1
	}
	return 0
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return v, nil
}

// Volume integrates discharge over time with left rectangles: each sample's
// discharge holds until the next sample, and the first sample's discharge
// covers the span from time zero.
func Volume(h *Hydrograph) float64 {
	n := len(h.Samples)
	if n == 0 {
		return 0
	}
	q := make([]float64, n)
	dt := make([]float64, n)
	q[0] = h.Samples[0].Discharge()
	dt[0] = h.Samples[0].Time
	for i := 1; i < n; i++ {
		q[i] = h.Samples[i-1].Discharge()
		dt[i] = h.Samples[i].Time - h.Samples[i-1].Time
	}
	return floats.Dot(q, dt)
}

// Result carries a scaled hydrograph and the volumes before and after.
type Result struct {
	Scaled       *Hydrograph
	Multiplier   float64
	Volume       float64
	ScaledVolume float64
}

// Scale multiplies every discharge column by m. Time, velocity, extra
// columns and the header are copied unchanged, and h is not modified.
func Scale(h *Hydrograph, m float64) (Result, error) {
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidMultiplier, m)
	}
	if h == nil || len(h.Samples) == 0 {
		return Result{}, ErrEmpty
	}
	out := h.Clone()
	for i := range out.Samples {
		for j := range out.Samples[i].Phases {
			out.Samples[i].Phases[j].Discharge *= m
		}
	}
	return Result{
		Scaled:       out,
		Multiplier:   m,
		Volume:       Volume(h),
		ScaledVolume: Volume(out),
	}, nil
}

// Write emits h in the textual row format Parse accepts. Time and extra
// columns are written as they were read. Discharge and velocity keep at
// least the decimals of their source token, so a value is never rounded to
// zero and a multiplier of 1 reproduces every value.
func Write(w io.Writer, h *Hydrograph, opts ...Option) error {
	o := applyOptions(opts)
	bw := bufio.NewWriter(w)
	for _, line := range h.Header {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	delim := h.Delimiter
	if delim == "" {
		delim = " "
	}
	cols := make([]string, 0, 8)
	for _, s := range h.Samples {
		t := s.timeText
		if t == "" {
			t = strconv.FormatFloat(s.Time, 'f', -1, 64)
		}
		cols = append(cols[:0], t)
		for _, p := range s.Phases {
			cols = append(cols,
				formatFixed(p.Discharge, o.dischargePrecision, p.qDecimals),
				formatFixed(p.Velocity, o.velocityPrecision, p.vDecimals))
		}
		if s.Extra != "" {
			cols = append(cols, s.Extra)
		}
		if _, err := bw.WriteString(strings.Join(cols, delim) + "\n"); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return bw.Flush()
}

// formatFixed writes v with max(minDecimals, srcDecimals) fractional digits.
// A negative minimum, or a non-zero value that would print as zero, uses the
// shortest exact form instead.
func formatFixed(v float64, minDecimals, srcDecimals int) string {
	if minDecimals < 0 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	out := strconv.FormatFloat(v, 'f', max(minDecimals, srcDecimals), 64)
	if v != 0 {
		if back, err := strconv.ParseFloat(out, 64); err == nil && back == 0 {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return out
}
