package glctx

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"
)

// SDLShared is the consumer handle expected by SDLFactory: the render
// window and its current GL context.
type SDLShared struct {
	Window  *sdl.Window
	Context sdl.GLContext
}

// SDLFactory creates offscreen contexts with SDL2. A hidden 1x1 window
// carries each context because SDL binds contexts through a window.
type SDLFactory struct {
	// Major and Minor select the core profile version (default 4.1).
	Major int
	Minor int
}

type sdlContext struct {
	window *sdl.Window
	ctx    sdl.GLContext
}

// Create must run on the render thread.
func (f SDLFactory) Create(shared SharedContext) (Context, error) {
	consumer, ok := shared.(SDLShared)
	if !ok {
		return nil, fmt.Errorf("glctx: sdl: unexpected shared context %T", shared)
	}
	if consumer.Window == nil || consumer.Context == nil {
		return nil, fmt.Errorf("glctx: sdl: consumer window or context is nil")
	}

	major, minor := f.Major, f.Minor
	if major == 0 {
		major, minor = 4, 1
	}

	// Sharing applies to the context current at creation time.
	if err := consumer.Window.GLMakeCurrent(consumer.Context); err != nil {
		return nil, fmt.Errorf("glctx: sdl: make consumer current: %w", err)
	}
	defer func() {
		if err := consumer.Window.GLMakeCurrent(consumer.Context); err != nil {
			slog.Warn("glctx: sdl: failed to restore consumer context", "error", err)
		}
	}()

	attrs := []struct {
		attr  sdl.GLattr
		value int
	}{
		{sdl.GL_SHARE_WITH_CURRENT_CONTEXT, 1},
		{sdl.GL_CONTEXT_MAJOR_VERSION, major},
		{sdl.GL_CONTEXT_MINOR_VERSION, minor},
		{sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE},
	}
	for _, a := range attrs {
		if err := sdl.GLSetAttribute(a.attr, a.value); err != nil {
			return nil, fmt.Errorf("glctx: sdl: set attribute %d: %w", a.attr, err)
		}
	}
	defer sdl.GLSetAttribute(sdl.GL_SHARE_WITH_CURRENT_CONTEXT, 0)

	win, err := sdl.CreateWindow("videosurface-offscreen",
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, 1, 1,
		sdl.WINDOW_OPENGL|sdl.WINDOW_HIDDEN)
	if err != nil {
		return nil, fmt.Errorf("glctx: sdl: create offscreen window: %w", err)
	}

	ctx, err := win.GLCreateContext()
	if err != nil {
		win.Destroy()
		return nil, fmt.Errorf("glctx: sdl: create shared context: %w", err)
	}

	slog.Debug("glctx: sdl: shared context created", "gl_version", fmt.Sprintf("%d.%d", major, minor))
	return &sdlContext{window: win, ctx: ctx}, nil
}

func (c *sdlContext) MakeCurrent(current bool) error {
	if current {
		return c.window.GLMakeCurrent(c.ctx)
	}
	return c.window.GLMakeCurrent(nil)
}

func (c *sdlContext) ProcAddress(name string) unsafe.Pointer {
	return sdl.GLGetProcAddress(name)
}

func (c *sdlContext) Destroy() {
	sdl.GLDeleteContext(c.ctx)
	c.window.Destroy()
}
