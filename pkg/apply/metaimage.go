package apply

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"splinewarp/internal/models"
)

// element types understood by ReadMetaImage
var metaElementSizes = map[string]int{
	"MET_UCHAR":  1,
	"MET_SHORT":  2,
	"MET_USHORT": 2,
	"MET_INT":    4,
	"MET_FLOAT":  4,
	"MET_DOUBLE": 8,
}

// WriteMetaImage writes img as a MetaImage header at path (.mhd) with the
// pixel data, little-endian float64, in a .raw file next to it.
// TransformMatrix is written column-major, as ITK reads it.
func WriteMetaImage(path string, img *models.Image) error {
	rawName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".raw"
	rawPath := filepath.Join(filepath.Dir(path), rawName)

	header := []struct{ key, value string }{
		{"ObjectType", "Image"},
		{"NDims", strconv.Itoa(img.Dimension())},
		{"BinaryData", "True"},
		{"BinaryDataByteOrderMSB", "False"},
		{"CompressedData", "False"},
		{"TransformMatrix", joinFloats(transposeSquare(img.Direction))},
		{"Offset", joinFloats(img.Origin)},
		{"ElementSpacing", joinFloats(img.Spacing)},
		{"DimSize", joinInts(img.Size)},
		{"ElementNumberOfChannels", strconv.Itoa(img.Components)},
		{"ElementType", "MET_DOUBLE"},
		{"ElementDataFile", rawName},
	}

	var sb strings.Builder
	for _, h := range header {
		fmt.Fprintf(&sb, "%s = %s\n", h.key, h.value)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write image header: %w", err)
	}

	file, err := os.Create(rawPath)
	if err != nil {
		return fmt.Errorf("failed to create image data file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, img.Data); err != nil {
		return fmt.Errorf("failed to write image data: %w", err)
	}
	return w.Flush()
}

// ReadMetaImage reads a MetaImage header and its uncompressed data file
func ReadMetaImage(path string) (*models.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	header := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		header[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if strings.EqualFold(header["CompressedData"], "True") {
		return nil, fmt.Errorf("%s: compressed MetaImage data is not supported", path)
	}
	if strings.EqualFold(header["BinaryDataByteOrderMSB"], "True") || strings.EqualFold(header["ElementByteOrderMSB"], "True") {
		return nil, fmt.Errorf("%s: big-endian MetaImage data is not supported", path)
	}

	size, err := parseInts(header["DimSize"])
	if err != nil {
		return nil, fmt.Errorf("%s: DimSize: %w", path, err)
	}
	g := models.NewGeometry(size...)
	for key, dest := range map[string]*[]float64{
		"ElementSpacing":  &g.Spacing,
		"Offset":          &g.Origin,
		"TransformMatrix": &g.Direction,
	} {
		if header[key] == "" {
			continue
		}
		if *dest, err = parseFloats(header[key]); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, key, err)
		}
	}
	g.Direction = transposeSquare(g.Direction)
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	components := 1
	if v := header["ElementNumberOfChannels"]; v != "" {
		if components, err = strconv.Atoi(v); err != nil || components < 1 {
			return nil, fmt.Errorf("%s: invalid ElementNumberOfChannels %q", path, v)
		}
	}

	elementType := header["ElementType"]
	if _, ok := metaElementSizes[elementType]; !ok {
		return nil, fmt.Errorf("%s: unsupported ElementType %q", path, elementType)
	}

	dataFile := header["ElementDataFile"]
	if dataFile == "" || dataFile == "LOCAL" {
		return nil, fmt.Errorf("%s: only detached data files are supported", path)
	}
	if !filepath.IsAbs(dataFile) {
		dataFile = filepath.Join(filepath.Dir(path), dataFile)
	}
	raw, err := os.Open(dataFile)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	img := models.NewImage(g, components)
	if err := readElements(bufio.NewReader(raw), elementType, img.Data); err != nil {
		return nil, fmt.Errorf("%s: %w", dataFile, err)
	}
	return img, nil
}

// transposeSquare returns the transpose of a row-major square matrix;
// anything that is not square is returned unchanged
func transposeSquare(m []float64) []float64 {
	d := int(math.Round(math.Sqrt(float64(len(m)))))
	if d == 0 || d*d != len(m) {
		return m
	}
	var t mat.Dense
	t.CloneFrom(mat.NewDense(d, d, append([]float64(nil), m...)).T())
	return t.RawMatrix().Data
}

func readElements(r io.Reader, elementType string, out []float64) error {
	n := len(out)
	switch elementType {
	case "MET_DOUBLE":
		return binary.Read(r, binary.LittleEndian, out)
	case "MET_FLOAT":
		buf := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case "MET_UCHAR":
		buf := make([]uint8, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case "MET_SHORT":
		buf := make([]int16, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case "MET_USHORT":
		buf := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case "MET_INT":
		buf := make([]int32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	}
	return nil
}

func joinFloats(values []float64) string {
	s := make([]string, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			v = 0
		}
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(s, " ")
}

func joinInts(values []int) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, " ")
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no values")
	}
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
