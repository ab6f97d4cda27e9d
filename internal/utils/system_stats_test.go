package utils

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "512 Bytes", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "2.00 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "1.25 GB", FormatBytes(1280*1024*1024))
}

func TestGetSystemStats(t *testing.T) {
	stats := GetSystemStats(time.Now().Add(-90 * time.Second))
	assert.Equal(t, runtime.NumCPU(), stats.NumCPU)
	assert.Positive(t, stats.GoRoutines)
	assert.Positive(t, stats.MemorySys)
	assert.GreaterOrEqual(t, stats.CPUUsage, 0.0)
	assert.NotEmpty(t, stats.Uptime)
	assert.WithinDuration(t, time.Now(), stats.Timestamp, time.Minute)

	assert.Empty(t, GetSystemStats(time.Time{}).Uptime)
}
