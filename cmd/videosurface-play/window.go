package main

import (
	"fmt"
	"image/color"
	"log/slog"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/veandco/go-sdl2/sdl"

	videosurface "github.com/e7canasta/orion-video-surface"
	"github.com/e7canasta/orion-video-surface/internal/config"
	"github.com/e7canasta/orion-video-surface/internal/glctx"
	"github.com/e7canasta/orion-video-surface/internal/gpu"
)

// window is the consumer side: an SDL window, its GL context and the quad
// the video is drawn on. Main thread only.
type window struct {
	sdlWin *sdl.Window
	ctx    sdl.GLContext
	quad   *gpu.Quad
}

func openWindow(cfg config.WindowConfig) (*window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("sdl init: %w", err)
	}

	attrs := []struct {
		attr  sdl.GLattr
		value int
	}{
		{sdl.GL_CONTEXT_MAJOR_VERSION, 4},
		{sdl.GL_CONTEXT_MINOR_VERSION, 1},
		{sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE},
		{sdl.GL_DOUBLEBUFFER, 1},
	}
	for _, a := range attrs {
		if err := sdl.GLSetAttribute(a.attr, a.value); err != nil {
			sdl.Quit()
			return nil, fmt.Errorf("sdl gl attribute %d: %w", a.attr, err)
		}
	}

	sdlWin, err := sdl.CreateWindow(cfg.Title,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(cfg.Width), int32(cfg.Height),
		sdl.WINDOW_OPENGL|sdl.WINDOW_RESIZABLE|sdl.WINDOW_SHOWN|sdl.WINDOW_ALLOW_HIGHDPI)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("create window: %w", err)
	}

	ctx, err := sdlWin.GLCreateContext()
	if err != nil {
		sdlWin.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("create gl context: %w", err)
	}
	w := &window{sdlWin: sdlWin, ctx: ctx}

	if err := sdlWin.GLMakeCurrent(ctx); err != nil {
		w.Close()
		return nil, fmt.Errorf("make gl context current: %w", err)
	}
	interval := 0
	if cfg.VSync {
		interval = 1
	}
	if err := sdl.GLSetSwapInterval(interval); err != nil {
		slog.Warn("failed to set swap interval", "vsync", cfg.VSync, "error", err)
	}

	if err := gpu.Init(sdl.GLGetProcAddress); err != nil {
		w.Close()
		return nil, err
	}
	quad, err := gpu.NewQuad()
	if err != nil {
		w.Close()
		return nil, err
	}
	w.quad = quad
	w.SetViewport(w.DrawableSize())

	slog.Info("window opened",
		"title", cfg.Title,
		"width", cfg.Width,
		"height", cfg.Height,
		"vsync", cfg.VSync,
	)
	return w, nil
}

// DrawableSize is the framebuffer size in pixels (differs from the window
// size on high-DPI displays).
func (w *window) DrawableSize() videosurface.Size {
	width, height := w.sdlWin.GLGetDrawableSize()
	return videosurface.Size{Width: int(width), Height: int(height)}
}

func (w *window) SetViewport(size videosurface.Size) {
	w.quad.SetViewport(size.Width, size.Height)
}

// Shared is the handle the offscreen decoder context is created against.
func (w *window) Shared() videosurface.SharedContext {
	return glctx.SDLShared{Window: w.sdlWin, Context: w.ctx}
}

func (w *window) ContextFactory() videosurface.ContextFactory {
	return glctx.SDLFactory{Major: 4, Minor: 1}
}

func (w *window) Allocator() videosurface.BufferAllocator {
	return gpu.Allocator{}
}

// Draw clears to bg and draws frame on g. A nil frame only clears.
func (w *window) Draw(bg color.RGBA, frame videosurface.Frame, g videosurface.Geometry) {
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.ClearColor(float32(bg.R)/255, float32(bg.G)/255, float32(bg.B)/255, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT)

	if frame != nil && !g.Empty() {
		w.quad.SetGeometry(g.Version, g.Vertices, g.Indices)
		w.quad.Draw(frame.Texture())
	}
	w.sdlWin.GLSwap()
}

func (w *window) Close() {
	if w.quad != nil {
		w.quad.Destroy()
	}
	sdl.GLDeleteContext(w.ctx)
	w.sdlWin.Destroy()
	sdl.Quit()
	slog.Debug("window closed")
}
