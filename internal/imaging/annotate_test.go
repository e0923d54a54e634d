package imaging

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func squareOutline(x1, y1, x2, y2 int) []image.Point {
	return []image.Point{{x1, y1}, {x1, y2}, {x2, y2}, {x2, y1}}
}

func TestDrawOutlines(t *testing.T) {
	base, err := ToMat(particleImage(100, 100))
	if err != nil {
		t.Fatalf("ToMat failed: %v", err)
	}
	defer base.Close()

	out, err := DrawOutlines(base, [][]image.Point{squareOutline(20, 20, 60, 60)})
	if err != nil {
		t.Fatalf("DrawOutlines failed: %v", err)
	}
	defer out.Close()

	if out.Channels() != 3 {
		t.Fatalf("channels: got %d, want 3", out.Channels())
	}

	// BGR order.
	edge := out.GetVecbAt(40, 20)
	if edge[2] != 255 || edge[1] != 0 || edge[0] != 0 {
		t.Errorf("outline pixel: got %v, want pure red", edge)
	}
	inside := out.GetVecbAt(40, 40)
	if inside[0] != 240 || inside[1] != 240 || inside[2] != 240 {
		t.Errorf("interior pixel: got %v, want untouched gray", inside)
	}

	if base.Channels() != 1 {
		t.Error("input Mat was modified")
	}
}

func TestDrawOutlines_None(t *testing.T) {
	base, err := ToMat(particleImage(30, 30))
	if err != nil {
		t.Fatalf("ToMat failed: %v", err)
	}
	defer base.Close()

	out, err := DrawOutlines(base, nil)
	if err != nil {
		t.Fatalf("DrawOutlines failed: %v", err)
	}
	defer out.Close()
	if out.Rows() != 30 || out.Cols() != 30 {
		t.Errorf("size: got %dx%d", out.Cols(), out.Rows())
	}
}

func TestAnnotate(t *testing.T) {
	base, err := ToMat(particleImage(120, 80))
	if err != nil {
		t.Fatalf("ToMat failed: %v", err)
	}
	defer base.Close()

	outlines := [][]image.Point{squareOutline(10, 10, 40, 40), squareOutline(60, 20, 100, 60)}
	labels := []Label{{Text: "1", At: image.Pt(25, 25)}, {Text: "2", At: image.Pt(80, 40)}}

	out, err := Annotate(base, outlines, labels)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	defer out.Close()

	a := out.GetVecbAt(25, 10)
	b := out.GetVecbAt(40, 60)
	if a[0] == b[0] && a[1] == b[1] && a[2] == b[2] {
		t.Errorf("outlines should get distinct colors, both %v", a)
	}
	if a[0] == 240 && a[1] == 240 && a[2] == 240 {
		t.Error("first outline was not drawn")
	}
}

func TestAnnotate_Empty(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	out, err := Annotate(empty, nil, nil)
	defer out.Close()
	if !errors.Is(err, ErrInvalidImage) {
		t.Errorf("Annotate(empty): got %v, want ErrInvalidImage", err)
	}
}

func TestDirSink(t *testing.T) {
	root := t.TempDir()
	sink := DirSink{Root: root}
	img := particleImage(16, 16, image.Rect(4, 4, 8, 8))

	if err := sink.Save("contrasted", "sample.png", img); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	path := filepath.Join(root, "contrasted", "sample.png")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if sink.Path("contrasted", "sample.png") != path {
		t.Errorf("Path: got %s, want %s", sink.Path("contrasted", "sample.png"), path)
	}

	got, err := NewImageCache().Load(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if got.Bounds().Dx() != 16 {
		t.Errorf("artifact width: got %d, want 16", got.Bounds().Dx())
	}

	if err := sink.Save("contours", "raw.xyz", img); err != nil {
		t.Fatalf("Save with unknown extension failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "contours", "raw.xyz.png")); err != nil {
		t.Errorf("unknown extension should fall back to png: %v", err)
	}
}

func TestDirSink_Invalid(t *testing.T) {
	img := particleImage(4, 4)

	if err := (DirSink{}).Save("contrasted", "a.png", img); err == nil {
		t.Error("Save without root should fail")
	}
	if err := (DirSink{Root: t.TempDir()}).Save("../escape", "a.png", img); err == nil {
		t.Error("Save with path in stage should fail")
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	img := particleImage(4, 4)

	sink.Save("analyzed", "a.png", img)
	sink.Save("analyzed", "b.png", img)
	sink.Save("analyzed", "a.png", img)

	if n := sink.Count("analyzed"); n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
	if _, ok := sink.Get("analyzed", "b.png"); !ok {
		t.Error("Get: b.png missing")
	}
	if _, ok := sink.Get("contours", "a.png"); ok {
		t.Error("Get: unexpected artifact in other stage")
	}
}

func TestSummarizeIntensity(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		if i < 50 {
			img.Pix[i] = 10
		} else {
			img.Pix[i] = 200
		}
	}

	s := SummarizeIntensity(img, 127)
	if s.Min != 10 || s.Max != 200 {
		t.Errorf("Min/Max: got %d/%d, want 10/200", s.Min, s.Max)
	}
	if s.Mean != 105 {
		t.Errorf("Mean: got %v, want 105", s.Mean)
	}
	if s.Median != 10 {
		t.Errorf("Median: got %d, want 10", s.Median)
	}
	if s.DarkFraction != 0.5 {
		t.Errorf("DarkFraction: got %v, want 0.5", s.DarkFraction)
	}
	if s.Pixels != 100 {
		t.Errorf("Pixels: got %d, want 100", s.Pixels)
	}
}
