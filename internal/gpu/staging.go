package gpu

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
)

// Staging receives decoded RGBA pixels on the decoder thread and blits them
// into whatever framebuffer is bound for drawing.
type Staging struct {
	fbo    uint32
	tex    uint32
	width  int
	height int
}

// Upload copies one tightly packed RGBA frame into the staging texture,
// recreating it when the frame size changes.
func (s *Staging) Upload(width, height int, pixels []byte) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("gpu: staging upload %dx%d: empty frame", width, height)
	}
	if want := width * height * 4; len(pixels) < want {
		return fmt.Errorf("gpu: staging upload %dx%d: got %d bytes, want %d", width, height, len(pixels), want)
	}

	if s.tex == 0 || s.width != width || s.height != height {
		if err := s.recreate(width, height); err != nil {
			return err
		}
	}

	gl.BindTexture(gl.TEXTURE_2D, s.tex)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(width), int32(height),
		gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return nil
}

// BlitTo scales the staged frame into the bound draw framebuffer of size
// width x height. Rows are flipped so the target is bottom-up like any GL
// texture.
func (s *Staging) BlitTo(width, height int) {
	if s.fbo == 0 {
		return
	}
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, s.fbo)
	gl.BlitFramebuffer(
		0, 0, int32(s.width), int32(s.height),
		0, int32(height), int32(width), 0,
		gl.COLOR_BUFFER_BIT, gl.LINEAR,
	)
}

// Finish waits for the GPU so the frame is complete before Swap publishes it.
func (s *Staging) Finish() {
	gl.Finish()
}

// Destroy frees the staging objects. Decoder thread only.
func (s *Staging) Destroy() {
	if s.fbo != 0 {
		gl.DeleteFramebuffers(1, &s.fbo)
		s.fbo = 0
	}
	if s.tex != 0 {
		gl.DeleteTextures(1, &s.tex)
		s.tex = 0
	}
	s.width, s.height = 0, 0
}

func (s *Staging) recreate(width, height int) error {
	s.Destroy()

	s.tex = newTexture(width, height)
	gl.GenFramebuffers(1, &s.fbo)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, s.fbo)
	gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, s.tex, 0)
	status := gl.CheckFramebufferStatus(gl.READ_FRAMEBUFFER)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)

	if status != gl.FRAMEBUFFER_COMPLETE {
		s.Destroy()
		return fmt.Errorf("gpu: staging framebuffer %dx%d incomplete (status 0x%x)", width, height, status)
	}
	s.width, s.height = width, height
	return nil
}
