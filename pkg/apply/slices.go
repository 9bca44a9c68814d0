package apply

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"splinewarp/internal/models"
)

// LoadSlices stacks the JPEG images of dir into a 3-D volume. Files are
// ordered by the number embedded in their names; intensities are scaled to
// [0, 1]. sliceGap sets the z spacing in mm.
func LoadSlices(dir string, sliceGap float64) (*models.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !entry.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			imageFiles = append(imageFiles, entry.Name())
		}
	}
	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no JPG images found in %s", dir)
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		return extractNumber(imageFiles[i]) < extractNumber(imageFiles[j])
	})

	var vol *models.Image
	var width, height int
	for z, name := range imageFiles {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}

		bounds := img.Bounds()
		if vol == nil {
			width, height = bounds.Dx(), bounds.Dy()
			g := models.NewGeometry(width, height, len(imageFiles))
			if sliceGap > 0 {
				g.Spacing[2] = sliceGap
			}
			vol = models.NewImage(g, 1)
		} else if bounds.Dx() != width || bounds.Dy() != height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d", name, bounds.Dx(), bounds.Dy(), width, height)
		}

		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				vol.Set(float64(r)/65535.0, x, y, z)
			}
		}
	}
	return vol, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return jpeg.Decode(file)
}

// extractNumber returns the digits of a file name as an integer, -1 if none
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return -1
	}
	return n
}
