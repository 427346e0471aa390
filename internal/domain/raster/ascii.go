package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
)

// header is the decoded preamble of an ESRI ASCII grid.
type header struct {
	origin   geom.Point
	cellSize float64
	rows     int
	cols     int
	noData   float64
}

// ReadASCII decodes an ESRI ASCII grid. Both corner and centre
// registration (xllcorner / xllcenter) are accepted.
func ReadASCII(r io.Reader) (*Grid, error) {
	sc, h, first, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	g, err := New(h.origin, h.cellSize, h.rows, h.cols, h.noData)
	if err != nil {
		return nil, err
	}
	err = readCells(sc, h, first, func(r, c int, v float64) {
		g.Set(r, c, v)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ReadASCIIWindow decodes only the cells of an ESRI ASCII grid that overlap
// e. The file is streamed; cells outside the window are never stored. The
// result may be smaller than e when the file does not cover it, and
// ErrOutOfBounds is returned when the two do not overlap at all.
func ReadASCIIWindow(r io.Reader, e Extent) (*Grid, error) {
	sc, h, first, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	r0, c0, r1, c1, ok := overlap(h.origin, h.cellSize, h.rows, h.cols, e)
	if !ok {
		return nil, fmt.Errorf("%w: window %s outside raster", ErrOutOfBounds, e)
	}
	cs := h.cellSize
	origin := geom.Point{
		X: h.origin.X + float64(c0)*cs,
		Y: h.origin.Y + float64(h.rows-1-r1)*cs,
	}
	g, err := New(origin, cs, r1-r0+1, c1-c0+1, h.noData)
	if err != nil {
		return nil, err
	}
	err = readCells(sc, h, first, func(r, c int, v float64) {
		if r >= r0 && r <= r1 && c >= c0 && c <= c1 {
			g.Set(r-r0, c-c0, v)
		}
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func readHeader(r io.Reader) (*bufio.Scanner, header, string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	fields := map[string]float64{}
	var first string
	for sc.Scan() {
		tok := sc.Text()
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			first = tok
			break
		}
		key := strings.ToLower(tok)
		if !sc.Scan() {
			return nil, header{}, "", fmt.Errorf("%w: header key %q has no value", ErrFormat, tok)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, header{}, "", fmt.Errorf("%w: header %s: %v", ErrFormat, key, err)
		}
		fields[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, header{}, "", fmt.Errorf("%w: %v", ErrFormat, err)
	}

	cols, okC := fields["ncols"]
	rows, okR := fields["nrows"]
	cs, okS := fields["cellsize"]
	if !okC || !okR || !okS {
		return nil, header{}, "", fmt.Errorf("%w: ncols, nrows and cellsize are required", ErrFormat)
	}
	if cols < 1 || rows < 1 || !(cs > 0) {
		return nil, header{}, "", fmt.Errorf("%w: %vx%v cells of size %v", ErrInvalidGrid, rows, cols, cs)
	}
	origin, err := asciiOrigin(fields, cs)
	if err != nil {
		return nil, header{}, "", err
	}
	h := header{origin: origin, cellSize: cs, rows: int(rows), cols: int(cols), noData: DefaultNoData}
	if v, ok := fields["nodata_value"]; ok {
		h.noData = v
	}
	return sc, h, first, nil
}

// readCells feeds every cell value in row-major order to set.
func readCells(sc *bufio.Scanner, h header, first string, set func(r, c int, v float64)) error {
	if first == "" {
		return fmt.Errorf("%w: no cell values", ErrFormat)
	}
	total := h.rows * h.cols
	next := first
	for i := 0; i < total; i++ {
		if i > 0 {
			if !sc.Scan() {
				return fmt.Errorf("%w: expected %d values, got %d", ErrFormat, total, i)
			}
			next = sc.Text()
		}
		v, err := strconv.ParseFloat(next, 64)
		if err != nil {
			return fmt.Errorf("%w: cell %d: %v", ErrFormat, i, err)
		}
		set(i/h.cols, i%h.cols, v)
	}
	return nil
}

func asciiOrigin(h map[string]float64, cs float64) (geom.Point, error) {
	x, xCorner := h["xllcorner"]
	if !xCorner {
		c, ok := h["xllcenter"]
		if !ok {
			return geom.Point{}, fmt.Errorf("%w: missing xllcorner/xllcenter", ErrFormat)
		}
		x = c - cs/2
	}
	y, yCorner := h["yllcorner"]
	if !yCorner {
		c, ok := h["yllcenter"]
		if !ok {
			return geom.Point{}, fmt.Errorf("%w: missing yllcorner/yllcenter", ErrFormat)
		}
		y = c - cs/2
	}
	return geom.Point{X: x, Y: y}, nil
}

// WriteASCII encodes g as an ESRI ASCII grid with corner registration.
func WriteASCII(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", g.Cols())
	fmt.Fprintf(bw, "nrows %d\n", g.Rows())
	fmt.Fprintf(bw, "xllcorner %s\n", formatValue(g.origin.X))
	fmt.Fprintf(bw, "yllcorner %s\n", formatValue(g.origin.Y))
	fmt.Fprintf(bw, "cellsize %s\n", formatValue(g.cellSize))
	fmt.Fprintf(bw, "NODATA_value %s\n", formatValue(g.noData))
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			if c > 0 {
				_ = bw.WriteByte(' ')
			}
			_, _ = bw.WriteString(formatValue(g.At(r, c)))
		}
		_ = bw.WriteByte('\n')
	}
	return bw.Flush()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
