package notify

import (
	log "github.com/sirupsen/logrus"
)

type logSender struct {
	logger *log.Entry
}

// NewLogSender создаёт Sender, который только логирует письма.
// Используется в dev-режиме и когда SMTP не сконфигурирован.
func NewLogSender(logger *log.Entry) Sender {
	if logger == nil {
		logger = log.WithField("component", "log-sender")
	}
	return &logSender{logger: logger}
}

func (s *logSender) Send(to, subject, _ string) error {
	s.logger.WithFields(log.Fields{
		"to":      to,
		"subject": subject,
	}).Info("email suppressed: smtp is not configured")
	return nil
}
