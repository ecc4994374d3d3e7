// Package atplog builds the base dlog logger for the atp-sim binary,
// following the same logrus-formatter-plus-dlog.WrapLogrus wiring the
// teacher's traffic-manager entry point uses.
package atplog

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/datawire/dlib/dlog"
)

// NewBaseLogger parses level (a logrus level name, defaulting to "info" on
// empty or unparseable input) and returns ctx with a logrus-backed dlog
// logger attached.
func NewBaseLogger(ctx context.Context, level string) context.Context {
	logrusLogger := logrus.New()
	logrusLogger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		FullTimestamp:   true,
	})

	const defaultLevel = logrus.InfoLevel
	parsed, err := logrus.ParseLevel(level)
	switch {
	case level == "":
		parsed = defaultLevel
	case err != nil:
		fmt.Fprintf(os.Stderr, "atp-sim: LOG_LEVEL=%q invalid, using %q\n", level, defaultLevel)
		parsed = defaultLevel
	}
	logrusLogger.SetLevel(parsed)

	logger := dlog.WrapLogrus(logrusLogger)
	dlog.SetFallbackLogger(logger)
	return dlog.WithLogger(ctx, logger)
}
