// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package bus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/sentinel-ops/sentinel/internal/logging"
)

// wmLogger adapts Watermill's logger interface onto zerolog so transport
// internals log in the same format as everything else.
type wmLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &wmLogger{logger: logging.WithComponent("bus-transport")}
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &wmLogger{logger: l.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
