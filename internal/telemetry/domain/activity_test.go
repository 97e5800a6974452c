package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeActivityAndOffline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	readings := []Reading{
		{DevEUI: "a", DeviceName: "Cold Room 1", ObservedAt: now.Add(-3 * time.Hour)},
		{DevEUI: "b", DeviceName: "Cold Room 2", ObservedAt: now.Add(-10 * time.Minute)},
	}
	heartbeats := []DeviceActivity{
		{DevEUI: "a", DeviceName: "Cold Room 1", LastSeen: now.Add(-30 * time.Minute)},
		{DevEUI: "c", DeviceName: "Dock", LastSeen: now.Add(-5 * time.Hour)},
	}

	merged := MergeActivity(readings, heartbeats)
	require.Len(t, merged, 3)
	assert.Equal(t, now.Add(-30*time.Minute), merged[0].LastSeen)

	offline := Offline(merged, now, 2*time.Hour)
	require.Len(t, offline, 1)
	assert.Equal(t, "c", offline[0].DevEUI)
}
