package params

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
	"splinewarp/pkg/kernel"
)

func TestMapKeepsInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set("Transform", "AffineTransform")
	m.SetInts("NumberOfParameters", 12)
	m.SetFloats("CenterOfRotationPoint", 0.5, -1, 2)
	m.Set("Transform", "TranslationTransform")

	want := []string{"Transform", "NumberOfParameters", "CenterOfRotationPoint"}
	if diff := cmp.Diff(want, m.Keys()); diff != "" {
		t.Errorf("Key order mismatch (-want +got):\n%s", diff)
	}
	if got := m.Value("Transform", ""); got != "TranslationTransform" {
		t.Errorf("Expected overwritten value, got %q", got)
	}

	m.Delete("NumberOfParameters")
	if m.Has("NumberOfParameters") || m.Len() != 2 {
		t.Errorf("Delete left %v", m.Keys())
	}

	c := m.Clone()
	c.Set("Extra", "1")
	if m.Has("Extra") {
		t.Error("Clone shares storage with the original")
	}
}

func TestMapTypedGetters(t *testing.T) {
	m := NewMap()
	m.SetFloats("Spacing", 0.1, 2.5)
	m.Set("Size", "10", "20")
	m.Set("Broken", "abc")

	if f, err := m.Float("Missing", 7); err != nil || f != 7 {
		t.Errorf("Float default = %v, %v", f, err)
	}
	spacing, err := m.Floats("Spacing")
	if err != nil {
		t.Fatalf("Floats failed: %v", err)
	}
	if diff := cmp.Diff([]float64{0.1, 2.5}, spacing); diff != "" {
		t.Errorf("Spacing mismatch (-want +got):\n%s", diff)
	}
	size, err := m.Ints("Size")
	if err != nil {
		t.Fatalf("Ints failed: %v", err)
	}
	if diff := cmp.Diff([]int{10, 20}, size); diff != "" {
		t.Errorf("Size mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.Float("Broken", 0); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if _, err := m.Int("Broken", 0); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	first := NewMap()
	first.Set("Transform", "TranslationTransform")
	first.SetFloats("TransformParameters", 1.25, -3, 1e-17)

	second := NewMap()
	second.Set("Transform", SplineKernelTransformName)
	second.Set("HowToCombineTransforms", "Compose")
	second.Set("Empty")

	path := filepath.Join(t.TempDir(), "params", "TransformParameters.yaml")
	if err := Save(path, first, second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	maps, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(maps) != 2 {
		t.Fatalf("Expected 2 maps, got %d", len(maps))
	}

	for i, want := range []*Map{first, second} {
		got := maps[i]
		if diff := cmp.Diff(want.Keys(), got.Keys()); diff != "" {
			t.Errorf("map %d: key mismatch (-want +got):\n%s", i, diff)
		}
		for _, k := range want.Keys() {
			w, _ := want.Get(k)
			g, _ := got.Get(k)
			if diff := cmp.Diff(w, g, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("map %d key %s mismatch (-want +got):\n%s", i, k, diff)
			}
		}
	}
}

func TestDecodeSingleMapping(t *testing.T) {
	doc := "Transform: AffineTransform\nTransformParameters: [1, 0, 0, 1, 0, 0]\n"
	maps, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(maps) != 1 {
		t.Fatalf("Expected 1 map, got %d", len(maps))
	}
	if got := maps[0].Value("Transform", ""); got != "AffineTransform" {
		t.Errorf("Transform = %q", got)
	}
	params, err := maps[0].Floats("TransformParameters")
	if err != nil || len(params) != 6 {
		t.Errorf("TransformParameters = %v, %v", params, err)
	}

	for _, bad := range []string{"", "just a string", "- [1, 2]", "Key: {nested: 1}"} {
		if _, err := Decode([]byte(bad)); err == nil {
			t.Errorf("Decode(%q) should fail", bad)
		}
	}
}

func createLandmarks(n, dim int) (source, target []models.Point) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < n; i++ {
		s := make(models.Point, dim)
		tp := make(models.Point, dim)
		for d := 0; d < dim; d++ {
			s[d] = float64((i*(d+3))%13)*4 + rng.Float64()
			tp[d] = s[d] + math.Cos(s[(d+1)%dim]/10)
		}
		source = append(source, s)
		target = append(target, tp)
	}
	return source, target
}

func TestKernelRoundTrip(t *testing.T) {
	cases := []struct {
		dim    int
		family string
		opts   kernel.Options
	}{
		{3, "ThinPlateSpline", kernel.DefaultOptions()},
		{3, "VolumeSpline", kernel.Options{Stiffness: 0.5, PoissonRatio: 0.3, Inversion: kernel.QR}},
		{3, "ElasticBodySpline", kernel.Options{PoissonRatio: 0.25, Inversion: kernel.SVD}},
		{3, "ElasticBodyReciprocalSpline", kernel.Options{PoissonRatio: 0.4, Inversion: kernel.SVD}},
		{2, "ThinPlateR2LogRSpline", kernel.DefaultOptions()},
	}

	for _, tc := range cases {
		source, target := createLandmarks(10, tc.dim)
		original, err := kernel.New(tc.dim)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		original.SelectFamily(tc.family)
		if err := original.Fit(source, target, tc.opts); err != nil {
			t.Fatalf("%s: Fit failed: %v", tc.family, err)
		}

		m := WriteKernel(original)
		if got := m.Value(KeyTransform, ""); got != SplineKernelTransformName {
			t.Errorf("%s: Transform = %q", tc.family, got)
		}
		if n, _ := m.Int(KeyNumberOfParameters, 0); n != 10*tc.dim {
			t.Errorf("%s: NumberOfParameters = %d, want %d", tc.family, n, 10*tc.dim)
		}
		if m.Has(KeySplinePoissonRatio) != original.Family().IsElastic() {
			t.Errorf("%s: Poisson ratio written = %v", tc.family, m.Has(KeySplinePoissonRatio))
		}

		restored, err := ReadKernel(m)
		if err != nil {
			t.Fatalf("%s: ReadKernel failed: %v", tc.family, err)
		}
		if restored.Family() != original.Family() {
			t.Errorf("%s: family %v, want %v", tc.family, restored.Family(), original.Family())
		}
		if restored.Inversion() != original.Inversion() || restored.Stiffness() != original.Stiffness() {
			t.Errorf("%s: options not restored", tc.family)
		}

		probe := make(models.Point, tc.dim)
		for d := range probe {
			probe[d] = 13.7 + float64(d)
		}
		if diff := cmp.Diff(original.Evaluate(probe), restored.Evaluate(probe), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("%s: evaluation mismatch (-want +got):\n%s", tc.family, diff)
		}
	}
}

// TestReadKernelWithoutCoefficients solves again when a map carries only landmarks
func TestReadKernelWithoutCoefficients(t *testing.T) {
	source, target := createLandmarks(8, 3)
	original, _ := kernel.New(3)
	original.SelectFamily("ThinPlateSpline")
	if err := original.Fit(source, target, kernel.DefaultOptions()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	m := WriteKernel(original)
	m.Delete(KeySplineCoefficients)
	restored, err := ReadKernel(m)
	if err != nil {
		t.Fatalf("ReadKernel failed: %v", err)
	}
	for _, s := range source {
		if diff := cmp.Diff(original.Evaluate(s), restored.Evaluate(s), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("Refit mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestReadKernelIdentity(t *testing.T) {
	source, _ := createLandmarks(5, 3)
	tr, _ := kernel.New(3)
	tr.SelectFamily("VolumeSpline")
	if err := tr.Fit(source, nil, kernel.DefaultOptions()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	m := WriteKernel(tr)
	if m.Has(KeySplineCoefficients) {
		t.Error("Identity transform should not write coefficients")
	}
	restored, err := ReadKernel(m)
	if err != nil {
		t.Fatalf("ReadKernel failed: %v", err)
	}
	if !restored.IsIdentity() {
		t.Error("Expected identity transform")
	}
}

func TestReadKernelErrors(t *testing.T) {
	source, target := createLandmarks(6, 3)
	tr, _ := kernel.New(3)
	tr.SelectFamily("ThinPlateSpline")
	if err := tr.Fit(source, target, kernel.DefaultOptions()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	valid := WriteKernel(tr)

	cases := []struct {
		name   string
		mutate func(m *Map)
		want   error
	}{
		{"no kernel type", func(m *Map) { m.Delete(KeySplineKernelType) }, errdefs.ErrMissingParameter},
		{"no parameter count", func(m *Map) { m.Delete(KeyNumberOfParameters) }, errdefs.ErrMissingParameter},
		{"no fixed landmarks", func(m *Map) { m.Delete(KeyFixedImageLandmarks) }, errdefs.ErrMissingParameter},
		{"count mismatch", func(m *Map) { m.SetInts(KeyNumberOfParameters, 17) }, errdefs.ErrConfiguration},
		{"unknown kernel", func(m *Map) { m.Set(KeySplineKernelType, "CubicSpline") }, errdefs.ErrConfiguration},
		{"wrong transform", func(m *Map) { m.Set(KeyTransform, "AffineTransform") }, errdefs.ErrConfiguration},
		{"bad inversion", func(m *Map) { m.Set(KeyMatrixInversionMethod, "LU") }, errdefs.ErrConfiguration},
		{"short coefficients", func(m *Map) { m.SetFloats(KeySplineCoefficients, 1, 2, 3) }, errdefs.ErrConfiguration},
		{"bad dimension", func(m *Map) { m.SetInts(KeyFixedImageDimension, 4) }, errdefs.ErrConfiguration},
	}

	for _, tc := range cases {
		m := valid.Clone()
		tc.mutate(m)
		_, err := ReadKernel(m)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestEncodeWritesKernelKeysInOrder(t *testing.T) {
	source, target := createLandmarks(4, 2)
	tr, _ := kernel.New(2)
	tr.SelectFamily("")
	if err := tr.Fit(source, target, kernel.DefaultOptions()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	data, err := Encode(WriteKernel(tr))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	text := string(data)
	last := -1
	for _, key := range []string{KeyTransform, KeyNumberOfParameters, KeyTransformParameters, KeyFixedImageDimension,
		KeySplineKernelType, KeySplineRelaxationFactor, KeyMatrixInversionMethod, KeyFixedImageLandmarks, KeySplineCoefficients} {
		idx := strings.Index(text, key+":")
		if idx < 0 {
			t.Fatalf("key %s missing from\n%s", key, text)
		}
		if idx < last {
			t.Errorf("key %s written out of order", key)
		}
		last = idx
	}
}
