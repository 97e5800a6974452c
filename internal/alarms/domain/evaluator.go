package alarms

// Range is a closed interval of normal values.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Thresholds holds the normal range per signal.
type Thresholds struct {
	Temperature Range
	Humidity    Range
}

// DefaultThresholds is 20–26 °C and 40–60 %RH.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Temperature: Range{Min: 20, Max: 26},
		Humidity:    Range{Min: 40, Max: 60},
	}
}

// Evaluation is the per-signal alarm outcome of one reading.
type Evaluation struct {
	TemperatureAlarm bool
	HumidityAlarm    bool
}

// For returns the flag for signal.
func (e Evaluation) For(signal Signal) bool {
	if signal == SignalHumidity {
		return e.HumidityAlarm
	}
	return e.TemperatureAlarm
}

// Evaluate flags every value outside its closed normal range.
func (t Thresholds) Evaluate(temperature, humidity float64) Evaluation {
	return Evaluation{
		TemperatureAlarm: !t.Temperature.Contains(temperature),
		HumidityAlarm:    !t.Humidity.Contains(humidity),
	}
}
