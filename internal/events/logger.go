package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// zapAdapter routes watermill's internal logging through the service logger.
type zapAdapter struct {
	logger *zap.SugaredLogger
}

func newZapAdapter(logger *zap.SugaredLogger) watermill.LoggerAdapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &zapAdapter{logger: logger.Named("watermill")}
}

func (a *zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Errorw(msg, append(flatten(fields), "error", err)...)
}

func (a *zapAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Infow(msg, flatten(fields)...)
}

func (a *zapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debugw(msg, flatten(fields)...)
}

// Trace is noisy (one line per message); keep it at debug.
func (a *zapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debugw(msg, flatten(fields)...)
}

func (a *zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zapAdapter{logger: a.logger.With(flatten(fields)...)}
}

func flatten(fields watermill.LogFields) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for key, value := range fields {
		out = append(out, key, value)
	}
	return out
}
