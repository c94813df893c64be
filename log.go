package htip

import "github.com/sirupsen/logrus"

// defaultLogger is used by any Encoder or Dispatcher whose Logger field is
// nil, and by Decode when DecodeOptions.Logger is nil, mirroring the teacher's
// Options.Logger field that fell back to a package logger.
var defaultLogger = logrus.StandardLogger()

// SetLogger overrides the package-wide default logger.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		defaultLogger = l
	}
}

func loggerOrDefault(l *logrus.Logger) *logrus.Logger {
	if l != nil {
		return l
	}
	return defaultLogger
}
