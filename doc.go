// Package videosurface plays video inside an OpenGL render loop.
//
// A threaded decoding engine renders each frame on its own thread, into GPU
// frame buffers it owns through an offscreen context that shares objects
// with the caller's context. The render loop picks up the newest complete
// frame without ever waiting on the decoder. The Player supervises the
// decoder session around that handoff: start, stop, restart after stop,
// stop-then-delete, and resize-driven restarts.
//
// # Quick Start
//
//	engine, err := gstengine.New(gstengine.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	player, err := videosurface.NewPlayer(engine, &glctx.SDLFactory{}, gpu.Allocator{}, videosurface.Config{
//	    Source:     "/media/lobby.mp4",
//	    TargetSize: videosurface.Size{Width: 800, Height: 600},
//	    PlayVideo:  true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer player.Close()
//
//	// On the render thread, once its GL context exists:
//	player.NotifyConsumerReady(glctx.SDLShared{Window: win, Context: glContext})
//	player.Start()
//
//	for running {
//	    select {
//	    case <-player.FrameAvailable():
//	        if frame := player.Frame(); frame != nil {
//	            quad.Draw(frame.Texture())
//	        }
//	    default:
//	    }
//	}
//
// # Frame Handoff
//
// Three buffers rotate between the roles render (decoder writes), swap
// (last completed frame) and display (what the render loop reads). Commit
// and acquire only relabel buffers under a short mutex, so neither side
// ever waits for the other to finish a frame. When the decoder commits
// twice before the render loop acquires, the older frame is dropped.
//
// # Lifecycle
//
//	Idle → Opening → (Buffering ⇄ Playing ⇄ Paused) → Stopped → Idle
//
// Status changes come from the decoder's event feed. Stop tears the session
// down synchronously; events that still arrive from a released session are
// ignored. RestartPlayer and StopThenDelete queue a one-shot post-stop action
// that runs exactly once after the teardown.
//
// # Thread Model
//
//   - Frame, NotifyConsumerReady and LastScreenshot run on the render thread
//     (the one owning the consumer GL context)
//   - lifecycle methods may run on any goroutine and are serialized
//   - the decoder thread only touches the ring and the bridge
package videosurface
