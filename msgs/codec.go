package msgs

import (
	"encoding/json"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Codec turns message structs into payload bytes and back.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	ContentType() string
	String() string
}

type JSON struct{}

func (JSON) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (JSON) ContentType() string {
	return "application/json"
}

func (JSON) String() string {
	return "json"
}

type CBOR struct{}

func (CBOR) Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBOR) Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

func (CBOR) ContentType() string {
	return "application/cbor"
}

func (CBOR) String() string {
	return "cbor"
}

// CodecByName returns the codec for "json" or "cbor". Empty means json.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return CBOR{}, nil
	}
	return nil, errors.Errorf("unknown codec %q", name)
}
