package claudeweb

import (
	"github.com/stomrex77/claude-web/core"
	"github.com/stomrex77/claude-web/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) Publish(event schema.ServerEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.Publish(event)
	}
}
