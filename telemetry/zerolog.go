package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface. It is the
// production default; NoopLogger remains the zero-value fallback for tests
// and for Options structs that never set a logger explicitly.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(log zerolog.Logger) ZerologLogger {
	return ZerologLogger{log: log}
}

func (l ZerologLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	l.event(l.log.Debug(), keyvals).Msg(msg)
}

func (l ZerologLogger) Info(_ context.Context, msg string, keyvals ...any) {
	l.event(l.log.Info(), keyvals).Msg(msg)
}

func (l ZerologLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	l.event(l.log.Warn(), keyvals).Msg(msg)
}

func (l ZerologLogger) Error(_ context.Context, msg string, keyvals ...any) {
	l.event(l.log.Error(), keyvals).Msg(msg)
}

// event attaches alternating key/value pairs to an in-flight zerolog event.
// A trailing unpaired key is logged under "extra" rather than dropped.
func (l ZerologLogger) event(ev *zerolog.Event, keyvals []any) *zerolog.Event {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		ev = ev.Interface("extra", keyvals[len(keyvals)-1])
	}
	return ev
}
