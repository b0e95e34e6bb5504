package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

// Init configures the shared logger. Unknown levels fall back to info.
func Init(level, format string) *logrus.Logger {
	Log.Out = os.Stdout

	if strings.EqualFold(format, "text") {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		Log.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	return Log
}

// Discard returns a logger that writes nowhere, for tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}
