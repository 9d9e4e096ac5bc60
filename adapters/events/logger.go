package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
)

// LogrusAdapter lets watermill components log through logrus.
type LogrusAdapter struct {
	logger logrus.FieldLogger
}

func NewLogrusAdapter(logger logrus.FieldLogger) watermill.LoggerAdapter {
	return LogrusAdapter{logger: logger}
}

func (l LogrusAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.WithFields(logrus.Fields(fields)).WithError(err).Error(msg)
}

func (l LogrusAdapter) Info(msg string, fields watermill.LogFields) {
	l.logger.WithFields(logrus.Fields(fields)).Info(msg)
}

func (l LogrusAdapter) Debug(msg string, fields watermill.LogFields) {
	l.logger.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l LogrusAdapter) Trace(msg string, fields watermill.LogFields) {
	l.logger.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (l LogrusAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return LogrusAdapter{logger: l.logger.WithFields(logrus.Fields(fields))}
}
