package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/specklab/cytonet/vision/preprocessing"
)

func writeClassImage(t *testing.T, root, class, name string, c color.RGBA) {
	t.Helper()
	dir := filepath.Join(root, class)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("creating image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encoding image: %v", err)
	}
}

func TestLoadFolder(t *testing.T) {
	root := t.TempDir()
	writeClassImage(t, root, "healthy", "a.png", color.RGBA{R: 10, G: 10, B: 10, A: 255})
	writeClassImage(t, root, "healthy", "b.png", color.RGBA{R: 20, G: 20, B: 20, A: 255})
	writeClassImage(t, root, "lesion", "a.png", color.RGBA{R: 200, G: 200, B: 200, A: 255})

	classes := map[string]int{"healthy": 0, "lesion": 1}
	opts := preprocessing.Options{Size: 4, Mode: preprocessing.Grayscale}

	arr, err := LoadFolder(root, opts, classes)
	if err != nil {
		t.Fatalf("LoadFolder failed: %v", err)
	}

	if arr.N != 3 {
		t.Fatalf("N = %d, want 3", arr.N)
	}
	if arr.C != 1 || arr.H != 4 || arr.W != 4 {
		t.Errorf("shape = %dx%dx%d, want 1x4x4", arr.C, arr.H, arr.W)
	}
	// Classes load in name order, files sorted within a class.
	wantLabels := []int32{0, 0, 1}
	for i, want := range wantLabels {
		if arr.Labels[i] != want {
			t.Errorf("label[%d] = %d, want %d", i, arr.Labels[i], want)
		}
	}
	// Pixel values stay in the [0, 255] range; rescale is the streams' job.
	if arr.Image(2)[0] < 100 {
		t.Errorf("lesion pixel = %f, want raw ~200", arr.Image(2)[0])
	}
}

func TestLoadFolderSkipsNonImageFiles(t *testing.T) {
	root := t.TempDir()
	writeClassImage(t, root, "healthy", "a.png", color.RGBA{A: 255})
	if err := os.WriteFile(filepath.Join(root, "healthy", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	arr, err := LoadFolder(root, preprocessing.Options{Size: 4, Mode: preprocessing.Grayscale}, map[string]int{"healthy": 0})
	if err != nil {
		t.Fatalf("LoadFolder failed: %v", err)
	}
	if arr.N != 1 {
		t.Errorf("N = %d, want 1", arr.N)
	}
}

func TestLoadFolderMissingClassDirectory(t *testing.T) {
	root := t.TempDir()
	writeClassImage(t, root, "healthy", "a.png", color.RGBA{A: 255})

	classes := map[string]int{"healthy": 0, "absent": 1}
	if _, err := LoadFolder(root, preprocessing.Options{Size: 4, Mode: preprocessing.Grayscale}, classes); err == nil {
		t.Fatal("expected error for missing class directory")
	}
}

func TestLoadFolderCorruptImageIsFatal(t *testing.T) {
	root := t.TempDir()
	writeClassImage(t, root, "healthy", "a.png", color.RGBA{A: 255})
	if err := os.WriteFile(filepath.Join(root, "healthy", "bad.png"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if _, err := LoadFolder(root, preprocessing.Options{Size: 4, Mode: preprocessing.Grayscale}, map[string]int{"healthy": 0}); err == nil {
		t.Fatal("expected error for undecodable image")
	}
}

func TestLoadFolderEmptyClassMap(t *testing.T) {
	if _, err := LoadFolder(t.TempDir(), preprocessing.Options{Size: 4, Mode: preprocessing.RGB}, nil); err == nil {
		t.Fatal("expected error for empty class mapping")
	}
}

func TestSubset(t *testing.T) {
	arr := &Array{
		Images: []float32{0, 0, 1, 1, 2, 2, 3, 3},
		Labels: []int32{0, 1, 0, 1},
		N:      4, C: 1, H: 1, W: 2,
	}

	sub, err := arr.Subset([]int{2, 0})
	if err != nil {
		t.Fatalf("Subset failed: %v", err)
	}
	if sub.N != 2 {
		t.Fatalf("N = %d, want 2", sub.N)
	}
	if sub.Labels[0] != 0 || sub.Labels[1] != 0 {
		t.Errorf("labels = %v, want [0 0]", sub.Labels)
	}
	if sub.Image(0)[0] != 2 || sub.Image(1)[0] != 0 {
		t.Errorf("images out of order: %v", sub.Images)
	}

	if _, err := arr.Subset([]int{9}); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}
