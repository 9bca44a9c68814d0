package apply

import (
	"fmt"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"splinewarp/internal/models"
	"splinewarp/pkg/visualization"
)

// Output file names inside the output directory
const (
	ResultFileName              = "result.mhd"
	DeformationFieldFileName    = "deformationField.mhd"
	SpatialJacobianFileName     = "spatialJacobian.mhd"
	FullSpatialJacobianFileName = "fullSpatialJacobian.mhd"
	PreviewDirName              = "previews"
)

// Bundle collects everything a run produced. Fields that were not
// requested are nil.
type Bundle struct {
	Descriptor Descriptor

	// Result is the input image resampled onto the output grid
	Result *models.Image

	// DeformationField holds T(x) - x, D components per pixel
	DeformationField *models.Image

	// SpatialJacobian holds the row-major D x D Jacobian per pixel
	SpatialJacobian *models.Image

	// DeterminantOfSpatialJacobian holds det(J) per pixel
	DeterminantOfSpatialJacobian *models.Image

	// JacobianStatistics summarises DeterminantOfSpatialJacobian
	JacobianStatistics *Statistics

	// Points is the transformed point set in input order
	Points []TransformedPoint

	// Files lists what Save wrote
	Files []string
}

// Statistics summarises the determinant of the spatial Jacobian
type Statistics struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64

	// Folds counts pixels with a non-positive determinant, where the
	// transform folds space onto itself
	Folds int
}

func determinantStatistics(det *models.Image) *Statistics {
	values := make([]float64, 0, len(det.Data))
	folds := 0
	for _, v := range det.Data {
		if math.IsNaN(v) {
			continue
		}
		values = append(values, v)
		if v <= 0 {
			folds++
		}
	}
	if len(values) == 0 {
		return &Statistics{}
	}

	s := &Statistics{
		Min:   floats.Min(values),
		Max:   floats.Max(values),
		Folds: folds,
	}
	if len(values) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	} else {
		s.Mean = values[0]
	}
	return s
}

// Save writes the produced images and points into dir and, with previews
// set, JPEG middle slices into dir/previews
func (b *Bundle) Save(dir string, previews bool) error {
	images := []struct {
		name string
		img  *models.Image
	}{
		{ResultFileName, b.Result},
		{DeformationFieldFileName, b.DeformationField},
		{FullSpatialJacobianFileName, b.SpatialJacobian},
		{SpatialJacobianFileName, b.DeterminantOfSpatialJacobian},
	}

	for _, entry := range images {
		if entry.img == nil {
			continue
		}
		path := filepath.Join(dir, entry.name)
		if err := WriteMetaImage(path, entry.img); err != nil {
			return fmt.Errorf("failed to write %s: %w", entry.name, err)
		}
		b.Files = append(b.Files, path)

		if !previews {
			continue
		}
		viewer, err := visualization.NewViewer(entry.img)
		if err != nil {
			return fmt.Errorf("failed to preview %s: %w", entry.name, err)
		}
		base := entry.name[:len(entry.name)-len(filepath.Ext(entry.name))]
		written, err := viewer.SavePreviews(filepath.Join(dir, PreviewDirName), base)
		if err != nil {
			return fmt.Errorf("failed to save previews of %s: %w", entry.name, err)
		}
		b.Files = append(b.Files, written...)
	}

	if b.Points != nil {
		path := filepath.Join(dir, OutputPointsFileName)
		if err := WriteOutputPoints(path, b.Points); err != nil {
			return err
		}
		b.Files = append(b.Files, path)
	}
	return nil
}
