package ingestion

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Succeeded(25)
	tracker.Succeeded(25)
	tracker.Succeeded(50)

	time.Sleep(time.Millisecond)
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))

	output := buf.String()
	assert.Contains(t, output, "100/100")
	assert.Contains(t, output, "100.0%")
	assert.Contains(t, output, "0 failed")
}

func TestProgressTracker_CountsFailures(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 1)

	tracker.Start()
	tracker.Succeeded(4)
	tracker.Failed(4)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "8/10 (80.0%), 4 failed")
	assert.True(t, strings.HasSuffix(output, "\n"))
}

func TestProgressTracker_ReportInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 1000, 100)

	tracker.Start()
	tracker.Succeeded(50)
	assert.Empty(t, buf.String(), "below interval should not report")

	tracker.Succeeded(50)
	assert.Contains(t, buf.String(), "100/1000")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 1)

	tracker.Succeeded(5)
	tracker.Finish()

	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Succeeded(150)

	assert.Contains(t, buf.String(), "Indexed: 100/100 ")
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 0, 10)

	tracker.Start()
	tracker.Finish()

	assert.Contains(t, buf.String(), "0/0")
}
