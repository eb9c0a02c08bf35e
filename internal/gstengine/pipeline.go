package gstengine

import (
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

// createPipeline builds the static part of the pipeline:
//
//	uridecodebin (dynamic pads, linked in onPadAdded)
//
// Branches are added per pad:
//
//	video: videoconvert → videoscale → capsfilter(RGBA[,w,h]) → appsink
//	audio: audioconvert → audioresample → volume → autoaudiosink
//	other: fakesink
//
// The pipeline is configured but NOT started (state remains NULL).
func createPipeline(uri string) (*gst.Pipeline, *gst.Element, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("uridecodebin")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create uridecodebin: %w", err)
	}
	if err := src.SetProperty("uri", uri); err != nil {
		return nil, nil, fmt.Errorf("failed to set uri: %w", err)
	}

	if err := pipeline.Add(src); err != nil {
		return nil, nil, fmt.Errorf("failed to add uridecodebin: %w", err)
	}
	return pipeline, src, nil
}

// sourceURI turns a file path into a file:// URI. URIs pass through.
func sourceURI(source string) (string, error) {
	if strings.Contains(source, "://") {
		return source, nil
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", source, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// buildOutputCaps returns the appsink caps. When both sizes are known the
// output is scaled to the native size fitted into the target.
//
// Format: "video/x-raw,format=RGBA[,width=W,height=H,pixel-aspect-ratio=1/1]"
func buildOutputCaps(native, target decoder.Size) string {
	caps := "video/x-raw,format=RGBA"
	if fit := native.Fit(target); !fit.Empty() {
		caps += fmt.Sprintf(",width=%d,height=%d,pixel-aspect-ratio=1/1", fit.Width, fit.Height)
	}
	return caps
}

// padMedia returns the media type prefix of a pad ("video", "audio", ...).
func padMedia(pad *gst.Pad) string {
	caps := pad.GetCurrentCaps()
	if caps == nil {
		caps = pad.QueryCaps(nil)
	}
	if caps == nil || caps.GetSize() == 0 {
		return ""
	}
	return mediaOf(caps.GetStructureAt(0).Name())
}

func mediaOf(structureName string) string {
	media, _, _ := strings.Cut(structureName, "/")
	return media
}

// onPadAdded links each new uridecodebin pad to a branch.
func (s *session) onPadAdded(_ *gst.Element, pad *gst.Pad) {
	media := padMedia(pad)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}

	var err error
	switch {
	case media == "video" && s.playVideo && !s.videoLinked:
		err = s.linkVideo(pad)
		s.videoLinked = err == nil

	case media == "audio":
		track := s.audioPads
		s.audioPads++
		if s.audioTrack == noAudio {
			err = s.linkAudio(pad)
			if err == nil {
				s.audioTrack = track
			}
		} else {
			err = s.linkFakeSink(pad)
		}

	default:
		err = s.linkFakeSink(pad)
	}

	if err != nil {
		slog.Error("gstengine: failed to link pad",
			"session_id", s.id,
			"pad", pad.GetName(),
			"media", media,
			"error", err,
		)
		return
	}
	slog.Debug("gstengine: pad linked", "session_id", s.id, "pad", pad.GetName(), "media", media)
}

func (s *session) linkVideo(pad *gst.Pad) error {
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("failed to create videoscale: %w", err)
	}
	filter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	filter.SetProperty("caps", gst.NewCapsFromString(s.outputCaps))

	sink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", true)     // Present at stream rate
	sink.SetProperty("max-buffers", 1) // Keep only latest frame
	sink.SetProperty("drop", true)     // Drop old frames
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	return s.addBranch(pad, convert, scale, filter, sink.Element)
}

func (s *session) linkAudio(pad *gst.Pad) error {
	convert, err := gst.NewElement("audioconvert")
	if err != nil {
		return fmt.Errorf("failed to create audioconvert: %w", err)
	}
	resample, err := gst.NewElement("audioresample")
	if err != nil {
		return fmt.Errorf("failed to create audioresample: %w", err)
	}
	volume, err := gst.NewElement("volume")
	if err != nil {
		return fmt.Errorf("failed to create volume: %w", err)
	}
	out, err := gst.NewElement("autoaudiosink")
	if err != nil {
		return fmt.Errorf("failed to create autoaudiosink: %w", err)
	}

	if err := s.addBranch(pad, convert, resample, volume, out); err != nil {
		return err
	}
	s.volume = volume
	return nil
}

func (s *session) linkFakeSink(pad *gst.Pad) error {
	sink, err := gst.NewElement("fakesink")
	if err != nil {
		return fmt.Errorf("failed to create fakesink: %w", err)
	}
	sink.SetProperty("sync", false)
	return s.addBranch(pad, sink)
}

// addBranch adds and links elements, brings them to the pipeline state and
// links pad to the first one.
func (s *session) addBranch(pad *gst.Pad, elements ...*gst.Element) error {
	if err := s.pipeline.AddMany(elements...); err != nil {
		return fmt.Errorf("failed to add branch: %w", err)
	}
	if len(elements) > 1 {
		if err := gst.ElementLinkMany(elements...); err != nil {
			return fmt.Errorf("failed to link branch: %w", err)
		}
	}
	for _, e := range elements {
		e.SyncStateWithParent()
	}

	sinkPad := elements[0].GetStaticPad("sink")
	if sinkPad == nil {
		return fmt.Errorf("branch head %s has no sink pad", elements[0].GetName())
	}
	if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
		return fmt.Errorf("pad link returned %v", ret)
	}
	return nil
}

// destroyPipeline sets the pipeline to NULL. Safe on nil.
func destroyPipeline(pipeline *gst.Pipeline) error {
	if pipeline == nil {
		return nil
	}
	if err := pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
