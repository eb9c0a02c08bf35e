package videosurface_test

import (
	"errors"
	"image"
	"image/color"
	"testing"

	videosurface "github.com/e7canasta/orion-video-surface"
)

func TestLastScreenshot(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.player.LastScreenshot(); !errors.Is(err, videosurface.ErrNoFrame) {
		t.Fatalf("screenshot without session = %v, want ErrNoFrame", err)
	}

	s := h.play(t)
	if _, err := h.player.LastScreenshot(); !errors.Is(err, videosurface.ErrNoFrame) {
		t.Fatalf("screenshot before first frame = %v, want ErrNoFrame", err)
	}

	s.decode(t, 320, 180, 1)
	img, err := h.player.LastScreenshot()
	if err != nil {
		t.Fatalf("LastScreenshot: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(320, 180) {
		t.Errorf("screenshot size = %v, want 320x180", got)
	}
	t.Logf("✅ screenshot %v", img.Bounds())
}

func TestThumbnail(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	red := color.RGBA{R: 255, A: 255}
	for y := 0; y < 1080; y++ {
		for x := 0; x < 1920; x++ {
			src.SetRGBA(x, y, red)
		}
	}

	tests := []struct {
		name       string
		maxW, maxH int
		want       image.Point
	}{
		{"fits width", 320, 320, image.Pt(320, 180)},
		{"fits height", 1000, 90, image.Pt(160, 90)},
		{"zero bound", 0, 100, image.Point{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thumb := videosurface.Thumbnail(src, tt.maxW, tt.maxH)
			if tt.want == (image.Point{}) {
				if thumb != nil {
					t.Fatalf("thumbnail = %v, want nil", thumb.Bounds())
				}
				return
			}
			if thumb == nil {
				t.Fatal("thumbnail is nil")
			}
			if got := thumb.Bounds().Size(); got != tt.want {
				t.Errorf("size = %v, want %v", got, tt.want)
			}
			if got := thumb.RGBAAt(thumb.Bounds().Dx()/2, thumb.Bounds().Dy()/2); got.R < 250 || got.G > 5 {
				t.Errorf("center pixel = %v, want ~%v", got, red)
			}
		})
	}
}
