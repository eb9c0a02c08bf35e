// Package probe reads the native frame size of a video source without
// decoding it.
package probe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

// ErrUnsupported means the source is not a container this package can read.
// Callers treat it as "size unknown".
var ErrUnsupported = errors.New("probe: unsupported source")

var mp4Extensions = map[string]bool{
	".mp4": true,
	".m4v": true,
	".mov": true,
}

// NativeSize returns the size of the first video track of a local MP4/MOV
// file. URIs and other extensions return ErrUnsupported.
func NativeSize(source string) (decoder.Size, error) {
	if strings.Contains(source, "://") {
		return decoder.Size{}, ErrUnsupported
	}
	if !mp4Extensions[strings.ToLower(filepath.Ext(source))] {
		return decoder.Size{}, ErrUnsupported
	}

	f, err := os.Open(source)
	if err != nil {
		return decoder.Size{}, fmt.Errorf("probe: open: %w", err)
	}
	defer f.Close()

	return ReadSize(f)
}

// ReadSize parses an MP4 stream (progressive or fragmented) and returns the
// size of its first video track.
func ReadSize(r io.Reader) (decoder.Size, error) {
	file, err := mp4.DecodeFile(r)
	if err != nil {
		return decoder.Size{}, fmt.Errorf("probe: decode mp4: %w", err)
	}

	var moov *mp4.MoovBox
	switch {
	case file.Moov != nil:
		moov = file.Moov
	case file.Init != nil && file.Init.Moov != nil:
		moov = file.Init.Moov
	default:
		return decoder.Size{}, fmt.Errorf("probe: no moov box")
	}

	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		if size := sampleEntrySize(trak); !size.Empty() {
			return size, nil
		}
		if size := headerSize(trak.Tkhd); !size.Empty() {
			return size, nil
		}
	}
	return decoder.Size{}, fmt.Errorf("probe: no video track with a size")
}

func sampleEntrySize(trak *mp4.TrakBox) decoder.Size {
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return decoder.Size{}
	}
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		if vse, ok := child.(*mp4.VisualSampleEntryBox); ok {
			return decoder.Size{Width: int(vse.Width), Height: int(vse.Height)}
		}
	}
	return decoder.Size{}
}

// headerSize reads the 16.16 fixed-point presentation size of tkhd.
func headerSize(tkhd *mp4.TkhdBox) decoder.Size {
	if tkhd == nil {
		return decoder.Size{}
	}
	return decoder.Size{
		Width:  int(uint32(tkhd.Width) >> 16),
		Height: int(uint32(tkhd.Height) >> 16),
	}
}
