package common

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// testLoggerAdapter maps a logger's output into testing.TB.Log calls, so
// output only surfaces for tests that actually fail. Grounded on
// src/common/test_logger.go's io.Writer adapter.
type testLoggerAdapter struct {
	t      testing.TB
	prefix string
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	if d[len(d)-1] == '\n' {
		d = d[:len(d)-1]
	}
	if a.prefix != "" {
		l := a.prefix + ": " + string(d)
		a.t.Log(l)
		return len(l), nil
	}
	a.t.Log(string(d))
	return len(d), nil
}

// NewTestLogger builds a logrus.Logger that routes output through t.Log
// instead of stdout/stderr.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.Out = &testLoggerAdapter{t: t}
	logger.Level = logrus.DebugLevel
	return logger
}
