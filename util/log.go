package util

import (
	"testing"

	"github.com/go-kit/log"
)

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// TestLogger routes logfmt output through t.Log so it shows up attached to
// the failing test.
func TestLogger(t testing.TB) log.Logger {
	return log.NewLogfmtLogger(testWriter{t})
}
