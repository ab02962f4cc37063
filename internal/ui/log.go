package ui

import (
	"log/slog"
	"time"
)

// LogSink writes events to a structured logger. Waveform frames are ignored.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a LogSink writing to l, or to slog.Default when l is
// nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{log: l}
}

func (s *LogSink) Waveform([]int16) {}

func (s *LogSink) Recognized(id, text string) {
	s.log.Info("recognized", "utterance_id", id, "text", text)
}

func (s *LogSink) Translated(id, text string) {
	s.log.Info("translated", "utterance_id", id, "text", text)
}

func (s *LogSink) Latency(id string, d time.Duration) {
	s.log.Info("latency", "utterance_id", id, "latency", d.Round(time.Millisecond))
}

func (s *LogSink) Status(st Status) {
	s.log.Info("status", "status", st.String())
}

func (s *LogSink) Error(id, stage string, err error) {
	s.log.Error("pipeline error", "utterance_id", id, "stage", stage, "err", err)
}

var _ Sink = (*LogSink)(nil)
