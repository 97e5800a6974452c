package telemetry

import "errors"

var (
	// ErrUnsupportedFormat indicates an unknown leading marker byte.
	ErrUnsupportedFormat = errors.New("telemetry: unsupported payload format")
	// ErrMissingCalibration indicates a device without a calibration record.
	ErrMissingCalibration = errors.New("telemetry: missing calibration")
	// ErrMalformedPayload indicates a known format with too few bytes.
	ErrMalformedPayload = errors.New("telemetry: malformed payload")
	// ErrTransportDecode indicates an undecodable webhook envelope.
	ErrTransportDecode = errors.New("telemetry: transport decode error")
)
