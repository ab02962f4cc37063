package ui

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
)

// Event types sent over the websocket.
const (
	EventWaveform   = "waveform"
	EventRecognized = "recognized"
	EventTyping     = "typing"
	EventTranslated = "translated"
	EventLatency    = "latency"
	EventStatus     = "status"
	EventError      = "error"
)

// Event is one JSON message on the UI stream.
type Event struct {
	Type      string  `json:"type"`
	ID        string  `json:"id,omitempty"`
	Text      string  `json:"text,omitempty"`
	Status    string  `json:"status,omitempty"`
	Stage     string  `json:"stage,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Peaks     []int16 `json:"peaks,omitempty"`
}

const (
	defaultClientBuffer = 64
	defaultWaveformBins = 32
	writeTimeout        = 5 * time.Second
)

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithTypingDelay sets the per-character delay of the typing effect applied
// to translations. Zero sends each translation in one message.
func WithTypingDelay(d time.Duration) HubOption {
	return func(h *Hub) { h.typingDelay = d }
}

// WithClientBuffer sets how many events may queue per client before new
// events are dropped for that client.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns sets the host patterns accepted in the Origin header.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// Hub is a [Sink] that streams events to every connected websocket client.
// Each client has its own bounded queue and writer goroutine, so a slow
// browser only loses its own events.
//
// Hub implements [http.Handler]; mount it on the UI stream path.
type Hub struct {
	typingDelay time.Duration
	buffer      int
	origins     []string

	mu      sync.Mutex
	clients map[*client]struct{}
	status  Status
	closed  bool
	done    chan struct{}

	dropped atomic.Int64
}

type client struct {
	send chan Event
}

// NewHub returns an empty hub with the typing effect enabled at
// [DefaultTypingDelay].
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		typingDelay: DefaultTypingDelay,
		buffer:      defaultClientBuffer,
		clients:     make(map[*client]struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed. The current status is sent first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("ui: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer c.CloseNow()

	cl := &client{send: make(chan Event, h.buffer)}
	if !h.add(cl) {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(cl)

	ctx := c.CloseRead(r.Context())
	slog.Debug("ui: client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("ui: client disconnected", "remote", r.RemoteAddr)
			return
		case <-h.done:
			_ = c.Close(websocket.StatusGoingAway, "shutting down")
			return
		case ev := <-cl.send:
			if err := h.deliver(ctx, c, ev); err != nil {
				slog.Debug("ui: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

// deliver writes ev, expanding translations into a typing sequence.
func (h *Hub) deliver(ctx context.Context, c *websocket.Conn, ev Event) error {
	if ev.Type == EventTranslated && h.typingDelay > 0 {
		for prefix := range Typing(ev.Text, h.typingDelay) {
			if len(prefix) == len(ev.Text) {
				break
			}
			if err := write(ctx, c, Event{Type: EventTyping, ID: ev.ID, Text: prefix}); err != nil {
				return err
			}
		}
	}
	return write(ctx, c, ev)
}

func write(ctx context.Context, c *websocket.Conn, ev Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) add(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	cl.send <- Event{Type: EventStatus, Status: h.status.String()}
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, cl)
}

// broadcast queues ev for every client without blocking.
func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded because a client queue
// was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every client and rejects new ones. It is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	return nil
}

// Waveform sends a peak envelope of samples.
func (h *Hub) Waveform(samples []int16) {
	if len(samples) == 0 {
		return
	}
	h.broadcast(Event{Type: EventWaveform, Peaks: Peaks(samples, defaultWaveformBins)})
}

func (h *Hub) Recognized(id, text string) {
	h.broadcast(Event{Type: EventRecognized, ID: id, Text: text})
}

func (h *Hub) Translated(id, text string) {
	h.broadcast(Event{Type: EventTranslated, ID: id, Text: text})
}

func (h *Hub) Latency(id string, d time.Duration) {
	h.broadcast(Event{Type: EventLatency, ID: id, LatencyMS: float64(d) / float64(time.Millisecond)})
}

func (h *Hub) Status(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
	h.broadcast(Event{Type: EventStatus, Status: s.String()})
}

func (h *Hub) Error(id, stage string, err error) {
	ev := Event{Type: EventError, ID: id, Stage: stage}
	if err != nil {
		ev.Error = err.Error()
	}
	h.broadcast(ev)
}

// Peaks reduces samples to bins absolute peak values. Fewer samples than
// bins are returned as absolute values unchanged in count.
func Peaks(samples []int16, bins int) []int16 {
	if bins <= 0 || len(samples) == 0 {
		return nil
	}
	if len(samples) < bins {
		bins = len(samples)
	}
	out := make([]int16, bins)
	for b := range bins {
		lo := b * len(samples) / bins
		hi := (b + 1) * len(samples) / bins
		var peak int16
		for _, s := range samples[lo:hi] {
			if s == -32768 {
				s = 32767
			} else if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
		out[b] = peak
	}
	return out
}

var _ Sink = (*Hub)(nil)
