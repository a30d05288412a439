// Package msgs holds the payloads exchanged on the bridge topics and
// services.
package msgs

// DigitalOut is received on ~digital_out.
type DigitalOut struct {
	Channel int  `json:"channel" cbor:"channel"`
	Value   bool `json:"value" cbor:"value"`
}

// PwmOut is received on ~pwm_out.
type PwmOut struct {
	Channel int     `json:"channel" cbor:"channel"`
	Value   float64 `json:"value" cbor:"value"`
}

// DigitalIn is published on ~digital_in, Value is 0 or 1.
type DigitalIn struct {
	Source  string `json:"source" cbor:"source"`
	Channel int    `json:"channel" cbor:"channel"`
	Value   uint8  `json:"value" cbor:"value"`
}

// AnalogIn is published on ~analog_in.
type AnalogIn struct {
	Source  string  `json:"source" cbor:"source"`
	Channel int     `json:"channel" cbor:"channel"`
	Value   float64 `json:"value" cbor:"value"`
}

type PinConfig struct {
	Channel int    `json:"channel" cbor:"channel"`
	Config  string `json:"config" cbor:"config"`
}

type ConfigureIORequest struct {
	Configs []PinConfig `json:"configs" cbor:"configs"`
}

type ConfigureIOResponse struct {
	Success bool `json:"success" cbor:"success"`
	RetCode int  `json:"retCode" cbor:"retCode"`
}

type EnableRequest struct {
	Enabled bool `json:"enabled" cbor:"enabled"`
}

type EnableResponse struct {
	Success bool `json:"success" cbor:"success"`
}
