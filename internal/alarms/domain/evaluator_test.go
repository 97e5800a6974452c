package alarms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_TemperatureBoundaries(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		temp    float64
		alarmed bool
	}{
		{19.99, true},
		{20.00, false},
		{23.0, false},
		{26.00, false},
		{26.01, true},
		{-5, true},
	}
	for _, tc := range cases {
		got := th.Evaluate(tc.temp, 50)
		assert.Equal(t, tc.alarmed, got.TemperatureAlarm, "temperature %.2f", tc.temp)
		assert.False(t, got.HumidityAlarm)
	}
}

func TestEvaluate_HumidityBoundaries(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		hum     float64
		alarmed bool
	}{
		{39.99, true},
		{40.00, false},
		{60.00, false},
		{60.01, true},
	}
	for _, tc := range cases {
		got := th.Evaluate(22, tc.hum)
		assert.Equal(t, tc.alarmed, got.HumidityAlarm, "humidity %.2f", tc.hum)
		assert.Equal(t, tc.alarmed, got.For(SignalHumidity))
		assert.False(t, got.For(SignalTemperature))
	}
}

func TestAnyAlarmed(t *testing.T) {
	statuses := []Status{
		{DevEUI: "a"},
		{DevEUI: "b", HumidityAlarm: true},
	}
	assert.False(t, AnyAlarmed(statuses, SignalTemperature))
	assert.True(t, AnyAlarmed(statuses, SignalHumidity))
	assert.False(t, AnyAlarmed(nil, SignalHumidity))
}

func TestParseSignal(t *testing.T) {
	sig, err := ParseSignal("humidity")
	assert.NoError(t, err)
	assert.Equal(t, SignalHumidity, sig)

	_, err = ParseSignal("pressure")
	assert.ErrorIs(t, err, ErrUnknownSignal)
}
