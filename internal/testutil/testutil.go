// Package testutil provides shared test helpers and fixtures.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gelloguiam/spot-video-analysis/internal/monitoring"
)

// LogToTest routes monitoring output to t.Logf until the test finishes,
// then restores the previous logger.
func LogToTest(t testing.TB) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

// Mute silences monitoring output until the test finishes.
func Mute(t testing.TB) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

// CaptureLogs records monitoring output until the test finishes. The
// returned func reports the lines logged so far.
func CaptureLogs(t testing.TB) func() []string {
	t.Helper()
	var (
		mu    sync.Mutex
		lines []string
	)
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

// Walker describes one synthetic person moving in a straight line.
type Walker struct {
	X, Y   int // top-left corner in the first frame
	DX, DY int // per-frame step
	W, H   int // box size, 50x100 when zero
	Class  string
}

// DetectionLines renders frames detection frames as JSON lines with one
// detection per walker per frame, in walker order.
func DetectionLines(frames int, walkers ...Walker) string {
	var b strings.Builder
	for f := 0; f < frames; f++ {
		fmt.Fprintf(&b, `{"frame":%d,"detections":[`, f)
		for i, w := range walkers {
			if i > 0 {
				b.WriteByte(',')
			}
			width, height := w.W, w.H
			if width == 0 {
				width = 50
			}
			if height == 0 {
				height = 100
			}
			class := w.Class
			if class == "" {
				class = "person"
			}
			fmt.Fprintf(&b, `{"bbox":[%d,%d,%d,%d],"score":0.9,"class":%q}`,
				w.X+f*w.DX, w.Y+f*w.DY, width, height, class)
		}
		b.WriteString("]}\n")
	}
	return b.String()
}
