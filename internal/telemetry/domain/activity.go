package telemetry

import (
	"sort"
	"time"
)

// MergeActivity combines the latest readings and heartbeats into one
// last-seen entry per device.
func MergeActivity(readings []Reading, heartbeats []DeviceActivity) []DeviceActivity {
	byDevice := make(map[string]DeviceActivity, len(readings)+len(heartbeats))
	for _, r := range readings {
		merge(byDevice, DeviceActivity{DevEUI: r.DevEUI, DeviceName: r.DeviceName, LastSeen: r.ObservedAt})
	}
	for _, hb := range heartbeats {
		merge(byDevice, hb)
	}
	out := make([]DeviceActivity, 0, len(byDevice))
	for _, a := range byDevice {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DevEUI < out[j].DevEUI })
	return out
}

// Offline returns devices not seen since now-after.
func Offline(activity []DeviceActivity, now time.Time, after time.Duration) []DeviceActivity {
	cutoff := now.Add(-after)
	var out []DeviceActivity
	for _, a := range activity {
		if a.LastSeen.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func merge(m map[string]DeviceActivity, a DeviceActivity) {
	existing, ok := m[a.DevEUI]
	if !ok || a.LastSeen.After(existing.LastSeen) {
		if a.DeviceName == "" {
			a.DeviceName = existing.DeviceName
		}
		m[a.DevEUI] = a
	}
}
