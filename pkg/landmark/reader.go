// Package landmark reads landmark and input point files and resolves them
// to physical coordinates for kernel transform fitting.
package landmark

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
)

// Header words accepted on the first line of a point file
const (
	HeaderIndex = "index"
	HeaderPoint = "point"
)

// ReadPointFile reads a point file from disk. See ParsePoints for the format.
func ReadPointFile(path string) (models.PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.PointSet{}, fmt.Errorf("%w: error opening %s: %v", errdefs.ErrLandmarkFile, path, err)
	}
	defer f.Close()
	return ParsePoints(f, path)
}

// ParsePoints reads the text point format:
//
//	point          <- optional, "index" or "point"; absent means index
//	3              <- number of points
//	10.0 12.5 3.0  <- one point per line
//	...
//
// Every point must have the same dimension (2 or 3) and the number of
// points must match the declared count.
func ParsePoints(r io.Reader, name string) (models.PointSet, error) {
	fail := func(line int, format string, args ...interface{}) (models.PointSet, error) {
		return models.PointSet{}, fmt.Errorf("%w: %s:%d: %s", errdefs.ErrLandmarkFile, name, line, fmt.Sprintf(format, args...))
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	next := func() ([]string, bool) {
		for scanner.Scan() {
			lineNo++
			fields := strings.Fields(scanner.Text())
			if len(fields) > 0 {
				return fields, true
			}
		}
		return nil, false
	}

	fields, ok := next()
	if !ok {
		if err := scanner.Err(); err != nil {
			return fail(lineNo, "read failed: %v", err)
		}
		return fail(lineNo, "empty point file")
	}

	ps := models.PointSet{AreIndices: true}
	switch strings.ToLower(fields[0]) {
	case HeaderIndex:
		fields, ok = next()
	case HeaderPoint:
		ps.AreIndices = false
		fields, ok = next()
	}
	if !ok {
		return fail(lineNo, "missing number of points")
	}
	if len(fields) != 1 {
		return fail(lineNo, "expected the number of points, got %q", strings.Join(fields, " "))
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count < 0 {
		return fail(lineNo, "invalid number of points %q", fields[0])
	}

	dim := 0
	ps.Points = make([]models.Point, 0, count)
	for {
		fields, ok = next()
		if !ok {
			break
		}
		if len(ps.Points) == count {
			return fail(lineNo, "more points than the declared %d", count)
		}
		if dim == 0 {
			dim = len(fields)
			if dim != 2 && dim != 3 {
				return fail(lineNo, "points must have 2 or 3 coordinates, got %d", dim)
			}
		}
		if len(fields) != dim {
			return fail(lineNo, "expected %d coordinates, got %d", dim, len(fields))
		}
		p := make(models.Point, dim)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fail(lineNo, "invalid coordinate %q", f)
			}
			p[i] = v
		}
		ps.Points = append(ps.Points, p)
	}
	if err := scanner.Err(); err != nil {
		return fail(lineNo, "read failed: %v", err)
	}
	if len(ps.Points) != count {
		return fail(lineNo, "declared %d points but found %d", count, len(ps.Points))
	}
	return ps, nil
}

// WritePointFile writes points in the format read by ParsePoints
func WritePointFile(path string, ps models.PointSet) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating point file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	header := HeaderPoint
	if ps.AreIndices {
		header = HeaderIndex
	}
	fmt.Fprintf(w, "%s\n%d\n", header, ps.Len())
	for _, p := range ps.Points {
		for i, v := range p {
			if i > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error writing point file: %w", err)
	}
	return f.Close()
}
