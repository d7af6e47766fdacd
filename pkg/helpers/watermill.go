package helpers

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillLogger sends the event router's own logging to zerolog. Router
// chatter (subscriptions starting, handlers stopping) is demoted to debug so
// that it stays out of the chat output at the default level.
type WatermillLogger struct {
	logger zerolog.Logger
}

func NewWatermill(logger zerolog.Logger) *WatermillLogger {
	return &WatermillLogger{
		logger: logger.With().Str("component", "event-router").Logger(),
	}
}

func (w *WatermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.event(w.logger.Error(), fields).Err(err).Msg(msg)
}

func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.event(w.logger.Debug(), fields).Msg(msg)
}

func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.event(w.logger.Trace(), fields).Msg(msg)
}

func (w *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.event(w.logger.Trace(), fields).Msg(msg)
}

func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &WatermillLogger{logger: ctx.Logger()}
}

var _ watermill.LoggerAdapter = (*WatermillLogger)(nil)
