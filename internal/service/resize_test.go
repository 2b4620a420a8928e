package service

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snapmeta/snapmeta/internal/domain"
)

func decodeDims(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("failed to decode %s: %v", path, err)
	}
	return cfg.Width, cfg.Height
}

func TestResizeScalesWideImageProportionally(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPNG(t, dir, "wide.png", 3000, 2000)

	r := NewResizer(1500)
	output, err := r.Resize(input)
	if err != nil {
		t.Fatalf("Resize returned error: %v", err)
	}

	width, height := decodeDims(t, output)
	if width != 1500 {
		t.Errorf("expected width 1500, got %d", width)
	}
	if height != 1000 {
		t.Errorf("expected proportional height 1000, got %d", height)
	}

	// The input must survive untouched
	inWidth, inHeight := decodeDims(t, input)
	if inWidth != 3000 || inHeight != 2000 {
		t.Errorf("input was mutated: %dx%d", inWidth, inHeight)
	}
}

func TestResizeKeepsNarrowImageUnchanged(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPNG(t, dir, "narrow.png", 800, 600)

	r := NewResizer(1500)
	output, err := r.Resize(input)
	if err != nil {
		t.Fatalf("Resize returned error: %v", err)
	}
	if output == input {
		t.Fatal("expected a separate output file")
	}

	inData, err := os.ReadFile(input)
	if err != nil {
		t.Fatalf("failed to read input: %v", err)
	}
	outData, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if string(inData) != string(outData) {
		t.Error("expected output to be a byte-identical copy of the input")
	}
}

func TestResizeExactThresholdUnchanged(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPNG(t, dir, "exact.png", 1500, 900)

	r := NewResizer(1500)
	output, err := r.Resize(input)
	if err != nil {
		t.Fatalf("Resize returned error: %v", err)
	}

	width, height := decodeDims(t, output)
	if width != 1500 || height != 900 {
		t.Errorf("expected 1500x900 unchanged, got %dx%d", width, height)
	}
}

func TestResizeUnreadableImage(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(input, []byte("this is not an image"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	r := NewResizer(1500)
	_, err := r.Resize(input)
	if err == nil {
		t.Fatal("expected an error for undecodable input")
	}
	if kind := domain.KindOf(err); kind != domain.ErrorKindDecode {
		t.Errorf("expected DecodeError, got %s", kind)
	}
}

func TestResizeMissingFile(t *testing.T) {
	r := NewResizer(1500)
	_, err := r.Resize(filepath.Join(t.TempDir(), "missing.png"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if kind := domain.KindOf(err); kind != domain.ErrorKindIO {
		t.Errorf("expected IOError, got %s", kind)
	}
	var perr *domain.PipelineError
	if !errors.As(err, &perr) {
		t.Error("expected a PipelineError")
	}
}

func TestResizedPathWebpBecomesJpeg(t *testing.T) {
	got := resizedPath("/tmp/photo.webp", "webp")
	if !strings.HasSuffix(got, "_resized.jpg") {
		t.Errorf("expected webp output path to end in _resized.jpg, got %s", got)
	}
}
