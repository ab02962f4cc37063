package segment

import "github.com/MrWong99/voxlate/pkg/audio"

// ClassifiedFrame is a frame paired with the classifier's speech decision.
type ClassifiedFrame struct {
	Frame  audio.Frame
	Speech bool
}

// RingWindow is a fixed-capacity sliding window of classified frames. Pushing
// onto a full window evicts the oldest entry. Len never exceeds Cap.
//
// RingWindow keeps running speech counts so that ratio checks are O(1) per
// frame. It is not safe for concurrent use.
type RingWindow struct {
	buf    []ClassifiedFrame
	start  int
	size   int
	speech int
}

// NewRingWindow returns an empty window holding at most capacity frames.
// A capacity below 1 is raised to 1.
func NewRingWindow(capacity int) *RingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RingWindow{buf: make([]ClassifiedFrame, capacity)}
}

// Push appends cf, evicting the oldest frame if the window is full.
func (w *RingWindow) Push(cf ClassifiedFrame) {
	if w.size == len(w.buf) {
		if w.buf[w.start].Speech {
			w.speech--
		}
		w.buf[w.start] = cf
		w.start = (w.start + 1) % len(w.buf)
	} else {
		w.buf[(w.start+w.size)%len(w.buf)] = cf
		w.size++
	}
	if cf.Speech {
		w.speech++
	}
}

// Len returns the number of frames currently held.
func (w *RingWindow) Len() int { return w.size }

// Cap returns the configured capacity.
func (w *RingWindow) Cap() int { return len(w.buf) }

// Speech returns the number of held frames classified as speech.
func (w *RingWindow) Speech() int { return w.speech }

// NonSpeech returns the number of held frames classified as non-speech.
func (w *RingWindow) NonSpeech() int { return w.size - w.speech }

// Frames returns the held frames, oldest first. The returned slice is a copy.
func (w *RingWindow) Frames() []audio.Frame {
	out := make([]audio.Frame, w.size)
	for i := range w.size {
		out[i] = w.buf[(w.start+i)%len(w.buf)].Frame
	}
	return out
}

// Clear empties the window without changing its capacity.
func (w *RingWindow) Clear() {
	clear(w.buf)
	w.start, w.size, w.speech = 0, 0, 0
}
