// Package audio defines the capture and playback abstractions used by the
// voxlate pipeline together with PCM helpers shared by the backends.
//
// The two primary abstractions are:
//
//   - [FrameSource]: opens an input device and hands every captured [Frame]
//     to the pipeline through a non-blocking callback.
//   - [Player]: plays a PCM clip and blocks until playback has finished.
//
// Backends live in sub-packages (audio/portaudio, audio/malgo,
// audio/wavfile). This package lives under pkg/ so that third-party device
// adapters can implement the interfaces.
package audio

import (
	"context"
)

// FrameSource captures fixed-geometry frames from an input device.
//
// Open starts capture and calls handoff exactly once for every frame, in
// capture order. handoff runs on the device callback goroutine and must not
// block; implementations never perform any other work in that callback than
// copying samples and calling handoff. If the device cannot be opened Open
// returns a [*DeviceError].
//
// Close stops capture. It is idempotent, and once it returns no further
// handoff calls are made. Frames already handed off are not affected.
type FrameSource interface {
	Open(ctx context.Context, geom Geometry, handoff func(Frame)) error
	Close() error
}

// Player plays 16-bit mono PCM.
//
// Play blocks until the clip has been played completely or ctx is cancelled.
// Implementations must be safe for sequential reuse; concurrent Play calls
// are not required to be supported.
type Player interface {
	Play(ctx context.Context, pcm []int16, sampleRate int) error
	Close() error
}

// Mirror wraps handoff so that every frame is also passed to mirror. mirror
// receives the frame's samples by reference and must treat them as read-only
// and must not block. A nil mirror returns handoff unchanged.
func Mirror(handoff func(Frame), mirror func([]int16)) func(Frame) {
	if mirror == nil {
		return handoff
	}
	return func(f Frame) {
		handoff(f)
		mirror(f.Samples)
	}
}
