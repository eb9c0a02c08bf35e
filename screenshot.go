package videosurface

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// imageReader is implemented by frame buffers that support readback
// (gpu.FrameBuffer).
type imageReader interface {
	ReadImage() (*image.RGBA, error)
}

// LastScreenshot reads the newest complete frame back from the GPU.
// Render thread only, with the consumer context current.
func (p *Player) LastScreenshot() (*image.RGBA, error) {
	p.mu.Lock()
	ring, hasFrame := p.ring, p.hasFrame
	p.mu.Unlock()

	if ring == nil || !hasFrame {
		return nil, fmt.Errorf("videosurface: screenshot: %w", ErrNoFrame)
	}
	buf := ring.AcquireLatest()
	if buf == nil {
		return nil, fmt.Errorf("videosurface: screenshot: %w", ErrNoFrame)
	}
	r, ok := buf.(imageReader)
	if !ok {
		return nil, fmt.Errorf("videosurface: screenshot: frame buffer %T has no readback", buf)
	}
	img, err := r.ReadImage()
	if err != nil {
		return nil, fmt.Errorf("videosurface: screenshot: %w", err)
	}
	return img, nil
}

// Thumbnail scales img down to fit maxWidth x maxHeight keeping its aspect
// ratio. Nil when either bound or the image is empty.
func Thumbnail(img image.Image, maxWidth, maxHeight int) *image.RGBA {
	b := img.Bounds()
	size := FitSize(Size{Width: b.Dx(), Height: b.Dy()}, Size{Width: maxWidth, Height: maxHeight})
	if size.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
