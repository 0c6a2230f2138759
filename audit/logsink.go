package audit

import (
	"context"

	"github.com/decred/slog"
)

// LogSink appends events to a slog logger. Wire it to a backend with
// rotation configured by the host application; the engine itself never
// manages log files.
type LogSink struct {
	log slog.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink returns a sink writing through the given logger.
func NewLogSink(log slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Append(_ context.Context, ev Event) error {
	s.log.Info(ev.String())
	return nil
}
