package service

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/snapmeta/snapmeta/internal/domain"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Resizer normalizes input images so downstream processing has bounded
// dimensions. Pure and stateless: one input file in, one output file out,
// the input is never mutated.
type Resizer struct {
	maxWidth int
}

// NewResizer creates a Resizer with the given width threshold in pixels.
func NewResizer(maxWidth int) *Resizer {
	if maxWidth <= 0 {
		maxWidth = 1500
	}
	return &Resizer{maxWidth: maxWidth}
}

// Resize produces a bounded-width copy of the image at inputPath and returns
// the output path. Images at or under the threshold are copied unchanged;
// wider images are scaled to the threshold with proportional height. Errors
// are tagged DecodeError for unreadable images and IOError for filesystem
// failures.
func (r *Resizer) Resize(inputPath string) (string, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return "", domain.WrapError(domain.ErrorKindIO, fmt.Errorf("failed to open image: %w", err))
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return "", domain.WrapError(domain.ErrorKindDecode, fmt.Errorf("failed to decode image: %w", err))
	}

	outputPath := resizedPath(inputPath, format)

	bounds := src.Bounds()
	if bounds.Dx() <= r.maxWidth {
		if err := copyFile(inputPath, outputPath); err != nil {
			return "", domain.WrapError(domain.ErrorKindIO, err)
		}
		return outputPath, nil
	}

	height := bounds.Dy() * r.maxWidth / bounds.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	out, err := os.Create(outputPath)
	if err != nil {
		return "", domain.WrapError(domain.ErrorKindIO, fmt.Errorf("failed to create output file: %w", err))
	}
	defer out.Close()

	if err := encodeImage(out, dst, format); err != nil {
		os.Remove(outputPath)
		return "", domain.WrapError(domain.ErrorKindIO, fmt.Errorf("failed to encode resized image: %w", err))
	}
	return outputPath, nil
}

// resizedPath derives the output location next to the input. Formats we
// cannot re-encode (webp) come out as jpeg.
func resizedPath(inputPath, format string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	switch format {
	case "jpeg", "png", "gif":
		if ext == "" {
			ext = "." + format
		}
	default:
		ext = ".jpg"
	}
	return base + "_resized" + ext
}

func encodeImage(w io.Writer, img image.Image, format string) error {
	switch format {
	case "png":
		return png.Encode(w, img)
	case "gif":
		return gif.Encode(w, img, nil)
	default:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}
