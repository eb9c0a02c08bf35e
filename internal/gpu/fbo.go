// Package gpu holds the OpenGL objects behind the frame ring: render
// targets, the staging upload used by the decoder thread, texture readback
// and the quad the consumer draws.
//
// Every function here expects a GL context current on the calling thread.
package gpu

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/e7canasta/orion-video-surface/internal/framering"
)

var (
	glInitOnce sync.Once
	glInitErr  error
)

// Init loads GL entry points once per process. procAddr may be nil to use
// the platform loader.
func Init(procAddr func(name string) unsafe.Pointer) error {
	glInitOnce.Do(func() {
		if procAddr != nil {
			glInitErr = gl.InitWithProcAddrFunc(procAddr)
		} else {
			glInitErr = gl.Init()
		}
		if glInitErr == nil {
			slog.Info("gpu: OpenGL initialized", "version", gl.GoStr(gl.GetString(gl.VERSION)))
		}
	})
	if glInitErr != nil {
		return fmt.Errorf("gpu: init OpenGL: %w", glInitErr)
	}
	return nil
}

// Allocator creates FrameBuffers. Implements framering.Allocator.
type Allocator struct{}

var _ framering.Allocator = Allocator{}

// FrameBuffer is an FBO with one RGBA8 color texture.
//
// The FBO object belongs to the context that created it (the decoder's).
// The texture is shared with the consumer context.
type FrameBuffer struct {
	fbo    uint32
	tex    uint32
	width  int
	height int
}

// Allocate creates a width x height render target.
func (Allocator) Allocate(width, height int) (framering.Buffer, error) {
	tex := newTexture(width, height)

	var fbo uint32
	gl.GenFramebuffers(1, &fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex, 0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)

	if status != gl.FRAMEBUFFER_COMPLETE {
		gl.DeleteFramebuffers(1, &fbo)
		gl.DeleteTextures(1, &tex)
		return nil, fmt.Errorf("gpu: framebuffer %dx%d incomplete (status 0x%x)", width, height, status)
	}

	return &FrameBuffer{fbo: fbo, tex: tex, width: width, height: height}, nil
}

func newTexture(width, height int) uint32 {
	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0,
		gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return tex
}

func (b *FrameBuffer) Width() int      { return b.width }
func (b *FrameBuffer) Height() int     { return b.height }
func (b *FrameBuffer) Texture() uint32 { return b.tex }

// Bind makes the buffer the draw and read target and sets the viewport.
func (b *FrameBuffer) Bind() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, b.fbo)
	gl.Viewport(0, 0, int32(b.width), int32(b.height))
}

// Destroy must run on the decoder thread, where the FBO lives.
func (b *FrameBuffer) Destroy() {
	if b.fbo != 0 {
		gl.DeleteFramebuffers(1, &b.fbo)
		b.fbo = 0
	}
	if b.tex != 0 {
		gl.DeleteTextures(1, &b.tex)
		b.tex = 0
	}
}

// ReadImage copies the color texture into an image, top row first.
// Works from any context sharing the texture.
func (b *FrameBuffer) ReadImage() (*image.RGBA, error) {
	if b.tex == 0 || b.width <= 0 || b.height <= 0 {
		return nil, fmt.Errorf("gpu: read image: buffer destroyed")
	}

	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	gl.BindTexture(gl.TEXTURE_2D, b.tex)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.GetTexImage(gl.TEXTURE_2D, 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	gl.BindTexture(gl.TEXTURE_2D, 0)

	// GL rows start at the bottom.
	flipRows(img.Pix, img.Stride, b.height)
	return img, nil
}

func flipRows(pix []byte, stride, height int) {
	row := make([]byte, stride)
	for top, bottom := 0, height-1; top < bottom; top, bottom = top+1, bottom-1 {
		t := pix[top*stride : (top+1)*stride]
		bt := pix[bottom*stride : (bottom+1)*stride]
		copy(row, t)
		copy(t, bt)
		copy(bt, row)
	}
}
