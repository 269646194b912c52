package logger

import (
	"github.com/sirupsen/logrus"
)

func New(logLevel string) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
		log.Warn("unknown log level, use info")
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.JSONFormatter{})

	return log
}

// WithUser returns an entry carrying the Telegram user id, so every line of
// one interaction can be correlated.
func WithUser(log *logrus.Logger, telegramUserID int64) *logrus.Entry {
	return log.WithField("userId", telegramUserID)
}
