package runtimewire

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Gurpartap/promptgraph/agent"
)

type fanoutSink struct {
	sinks []agent.EventSink
}

func newFanoutSink(sinks ...agent.EventSink) fanoutSink {
	filtered := make([]agent.EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return fanoutSink{sinks: filtered}
}

func (s fanoutSink) Publish(ctx context.Context, event agent.Event) error {
	var result error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			result = errors.Join(result, err)
		}
	}
	return result
}

type eventLogSink struct {
	logger *slog.Logger
}

func newEventLogSink(logger *slog.Logger) agent.EventSink {
	if logger == nil {
		return nil
	}
	return eventLogSink{logger: logger}
}

func (s eventLogSink) Publish(ctx context.Context, event agent.Event) error {
	if ctx == nil {
		return agent.ErrContextNil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.logger.Debug("Event.", "stream_id", event.StreamID, "type", event.Type, "event", string(payload))
	return nil
}
