// Package zerologhook writes supervisor events to a zerolog logger.
package zerologhook

import (
	"github.com/rs/zerolog"

	"github.com/lancer-kit/taskvisor"
)

// EventHandler returns an `EventHandler` that can be used for `taskvisor.WithEventHandler(...)`.
func EventHandler(log zerolog.Logger) taskvisor.EventHandler {
	return func(event taskvisor.Event) {
		var level zerolog.Level
		switch event.Level {
		case taskvisor.LvlFatal, taskvisor.LvlError:
			level = zerolog.ErrorLevel
		case taskvisor.LvlInfo:
			level = zerolog.InfoLevel
		default:
			level = zerolog.WarnLevel
		}

		l := log.WithLevel(level)
		if event.Worker != "" {
			l = l.Str("worker_id", event.Worker)
		}
		for k, v := range event.Fields {
			l = l.Interface(k, v)
		}
		l.Msg(event.Message)
	}
}
