// Package apply runs a configured transform over an image domain and an
// optional point set, producing the resampled image, derived fields and
// transformed points.
package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
	"splinewarp/pkg/interpolation"
	"splinewarp/pkg/params"
)

// DefaultLogFileName is used when file logging is requested without a name
const DefaultLogFileName = "transformix.log"

// Parameter map keys that shape the output
const (
	KeySize                 = "Size"
	KeySpacing              = "Spacing"
	KeyOrigin               = "Origin"
	KeyDirection            = "Direction"
	KeyDefaultPixelValue    = "DefaultPixelValue"
	KeyResampleInterpolator = "ResampleInterpolator"
)

// Argument names of the request descriptor
const (
	ArgOutputDirectory  = "-out"
	ArgSpatialJacobian  = "-jacmat"
	ArgDeterminant      = "-jac"
	ArgDeformationField = "-def"
)

// Request holds the user-facing flags of one application run
type Request struct {
	ComputeSpatialJacobian              bool
	ComputeDeterminantOfSpatialJacobian bool
	ComputeDeformationField             bool

	// InputPointSetFileName is a landmark file whose points are transformed
	InputPointSetFileName string

	OutputDirectory string
	LogToConsole    bool
	LogToFile       bool
	LogFileName     string
	Verbose         bool

	// NumWorkers bounds the goroutines used by Evaluate; values below 1 mean one
	NumWorkers int

	// WriteOutputs persists the bundle into the output directory
	WriteOutputs bool

	// SavePreviews writes JPEG middle slices next to the written images
	SavePreviews bool

	// OutputGeometry is the grid the transform is evaluated on; nil means
	// the input image grid
	OutputGeometry *models.Geometry

	DefaultPixelValue float64
	Interpolator      interpolation.Method
}

// derivedFields reports whether any per-pixel field was requested
func (r Request) derivedFields() bool {
	return r.ComputeSpatialJacobian || r.ComputeDeterminantOfSpatialJacobian || r.ComputeDeformationField
}

// Validate checks that the run has something to do and that the deformation
// field and point set requests do not collide on the shared -def argument
func (r Request) Validate(hasInputImage bool) error {
	if !hasInputImage && r.InputPointSetFileName == "" && !r.derivedFields() {
		return fmt.Errorf("%w: no input image, point set or derived output given", errdefs.ErrEmptyRequest)
	}
	if r.ComputeDeformationField && r.InputPointSetFileName != "" {
		return fmt.Errorf("%w: a deformation field and a point set %s cannot both be requested",
			errdefs.ErrConflictingRequest, r.InputPointSetFileName)
	}
	return nil
}

// ResolveOutputDirectory returns the output directory with a trailing
// separator. An unset directory defaults to the working directory when any
// output or file logging was requested.
func (r Request) ResolveOutputDirectory(hasInputImage bool) (string, error) {
	dir := r.OutputDirectory
	if dir == "" {
		needed := hasInputImage || r.derivedFields() || r.InputPointSetFileName != "" || r.LogToFile
		if !needed {
			return "", nil
		}
		dir = "."
	} else {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("%w: %s", errdefs.ErrDirectoryNotFound, dir)
		}
	}

	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return dir, nil
}

// Descriptor is the engine-level form of a request
type Descriptor struct {
	// Arguments maps argument names to values as the command line form
	// would carry them
	Arguments map[string]string

	OutputDirectory string

	// LogFile is empty unless file logging was requested
	LogFile string

	SpatialJacobian  bool
	Determinant      bool
	DeformationField bool
	PointSetPath     string
}

// BuildRequest translates the flags into a descriptor for outputDirectory
func (r Request) BuildRequest(outputDirectory string) Descriptor {
	d := Descriptor{
		Arguments:        map[string]string{},
		OutputDirectory:  outputDirectory,
		SpatialJacobian:  r.ComputeSpatialJacobian,
		Determinant:      r.ComputeDeterminantOfSpatialJacobian,
		DeformationField: r.ComputeDeformationField,
		PointSetPath:     r.InputPointSetFileName,
	}

	if outputDirectory != "" {
		d.Arguments[ArgOutputDirectory] = outputDirectory
	}
	if r.ComputeSpatialJacobian {
		d.Arguments[ArgSpatialJacobian] = "all"
	}
	if r.ComputeDeterminantOfSpatialJacobian {
		d.Arguments[ArgDeterminant] = "all"
	}
	if r.ComputeDeformationField {
		d.Arguments[ArgDeformationField] = "all"
	} else if r.InputPointSetFileName != "" {
		d.Arguments[ArgDeformationField] = r.InputPointSetFileName
	}

	if r.LogToFile {
		d.LogFile = r.LogFileName
		if d.LogFile == "" {
			d.LogFile = filepath.Join(outputDirectory, DefaultLogFileName)
		}
	}
	return d
}

// ApplyParameterMap reads the output grid, default pixel value and
// interpolator from the last parameter map of a chain. Keys that are absent
// leave the request unchanged.
func (r *Request) ApplyParameterMap(m *params.Map) error {
	g, ok, err := GeometryFromMap(m)
	if err != nil {
		return err
	}
	if ok {
		r.OutputGeometry = &g
	}

	if m.Has(KeyDefaultPixelValue) {
		v, err := m.Float(KeyDefaultPixelValue, 0)
		if err != nil {
			return err
		}
		r.DefaultPixelValue = v
	}
	if m.Has(KeyResampleInterpolator) {
		method, err := interpolation.ParseMethod(m.Value(KeyResampleInterpolator, ""))
		if err != nil {
			return err
		}
		r.Interpolator = method
	}
	return nil
}

// GeometryFromMap reads Size, Spacing, Origin and Direction. The second
// result is false when the map carries no Size.
func GeometryFromMap(m *params.Map) (models.Geometry, bool, error) {
	if !m.Has(KeySize) {
		return models.Geometry{}, false, nil
	}
	size, err := m.Ints(KeySize)
	if err != nil {
		return models.Geometry{}, false, err
	}
	g := models.NewGeometry(size...)

	for _, field := range []struct {
		key  string
		dest *[]float64
	}{
		{KeySpacing, &g.Spacing},
		{KeyOrigin, &g.Origin},
		{KeyDirection, &g.Direction},
	} {
		if !m.Has(field.key) {
			continue
		}
		values, err := m.Floats(field.key)
		if err != nil {
			return models.Geometry{}, false, err
		}
		*field.dest = values
	}

	if err := g.Validate(); err != nil {
		return models.Geometry{}, false, fmt.Errorf("%w: output grid: %v", errdefs.ErrConfiguration, err)
	}
	return g, true, nil
}

// SetGeometry writes g into m using the keys read by GeometryFromMap
func SetGeometry(m *params.Map, g models.Geometry) {
	m.SetInts(KeySize, g.Size...)
	m.SetFloats(KeySpacing, g.Spacing...)
	m.SetFloats(KeyOrigin, g.Origin...)
	m.SetFloats(KeyDirection, g.Direction...)
}
