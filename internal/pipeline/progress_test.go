package pipeline

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpProgressCallback(t *testing.T) {
	var cb ProgressCallback = NoOpProgressCallback{}
	cb.OnStart(10)
	cb.OnProgress(5, 10)
	cb.OnError(3, assert.AnError)
	cb.OnComplete()
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "rectify: ").WithWidth(10)

	cb.OnStart(4)
	assert.Contains(t, buf.String(), "rectify: 0/4 frames")

	buf.Reset()
	cb.OnProgress(2, 4)
	out := buf.String()
	assert.Contains(t, out, "[#####.....]")
	assert.Contains(t, out, "2/4 (50.0%)")

	buf.Reset()
	cb.OnError(1, assert.AnError)
	assert.Contains(t, buf.String(), "frame 1 failed")

	buf.Reset()
	cb.OnComplete()
	assert.Contains(t, buf.String(), "rectify: done in")
}

func TestConsoleProgressCallback_Throttles(t *testing.T) {
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "").WithUpdateInterval(time.Hour).WithRate(false)
	cb.OnStart(10)

	buf.Reset()
	cb.OnProgress(1, 10)
	assert.NotEmpty(t, buf.String())

	buf.Reset()
	cb.OnProgress(2, 10)
	assert.Empty(t, buf.String(), "second update inside the interval is dropped")

	cb.OnProgress(10, 10)
	assert.Contains(t, buf.String(), "10/10", "final update always drawn")
	assert.NotContains(t, buf.String(), "frames/s")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cb := NewLogProgressCallback(logger, slog.LevelInfo).WithInterval(2)

	cb.OnStart(5)
	assert.Contains(t, buf.String(), "Rectification started")
	assert.Contains(t, buf.String(), "total=5")

	buf.Reset()
	cb.OnProgress(1, 5)
	assert.Empty(t, buf.String())

	cb.OnProgress(2, 5)
	assert.Contains(t, buf.String(), "current=2")

	buf.Reset()
	cb.OnError(4, assert.AnError)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "index=4")

	buf.Reset()
	cb.OnComplete()
	assert.Contains(t, buf.String(), "Rectification finished")
}

func TestMultiProgressCallback(t *testing.T) {
	var a, b bytes.Buffer
	multi := MultiProgressCallback{
		NewConsoleProgressCallback(&a, "a: "),
		NewConsoleProgressCallback(&b, "b: "),
	}
	multi.OnStart(3)
	multi.OnProgress(3, 3)
	multi.OnComplete()
	assert.Contains(t, a.String(), "a: 0/3")
	assert.Contains(t, b.String(), "3/3")
}
