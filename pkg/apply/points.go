package apply

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"

	"splinewarp/internal/models"
)

// OutputPointsFileName is the file the transformed point set is written to
const OutputPointsFileName = "outputpoints.txt"

// TransformedPoint records one input point and where the transform sends it
type TransformedPoint struct {
	// InputIndex is set when the input file held indices
	InputIndex []int

	InputPoint  models.Point
	OutputPoint models.Point
	Deformation []float64

	// OutputIndexMoving is the nearest index of OutputPoint in the input
	// image; nil without an input image
	OutputIndexMoving []int
}

// WriteOutputPoints writes one line per point in input order
func WriteOutputPoints(path string, points []TransformedPoint) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output points file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for i, p := range points {
		fields := []string{fmt.Sprintf("Point\t%d", i)}
		if p.InputIndex != nil {
			fields = append(fields, "InputIndex = "+formatInts(p.InputIndex))
		}
		fields = append(fields, "InputPoint = "+formatFloats(p.InputPoint))
		if p.OutputIndexMoving != nil {
			fields = append(fields, "OutputIndexMoving = "+formatInts(p.OutputIndexMoving))
		}
		fields = append(fields,
			"OutputPoint = "+formatFloats(p.OutputPoint),
			"Deformation = "+formatFloats(p.Deformation),
		)
		if _, err := fmt.Fprintln(w, strings.Join(fields, "\t; ")); err != nil {
			return fmt.Errorf("failed to write output points: %w", err)
		}
	}
	return w.Flush()
}

func formatFloats(values []float64) string {
	var sb strings.Builder
	sb.WriteString("[ ")
	for _, v := range values {
		fmt.Fprintf(&sb, "%.6f ", v)
	}
	sb.WriteString("]")
	return sb.String()
}

func formatInts(values []int) string {
	var sb strings.Builder
	sb.WriteString("[ ")
	for _, v := range values {
		fmt.Fprintf(&sb, "%d ", v)
	}
	sb.WriteString("]")
	return sb.String()
}

func roundIndex(ci []float64) []int {
	out := make([]int, len(ci))
	for i, v := range ci {
		out[i] = int(math.Floor(v + 0.5))
	}
	return out
}
