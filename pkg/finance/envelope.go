package finance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrDecode marks a response whose body did not have the shape the
	// endpoint declares.
	ErrDecode = errors.New("finance: unexpected response shape")

	// ErrListUnavailable marks a list read that failed. The accompanying
	// slice is empty, not nil, so renderers can show the empty state.
	ErrListUnavailable = errors.New("finance: list unavailable")
)

// Shape is the body layout an endpoint commits to.
type Shape int

const (
	// Enveloped bodies are {"status": "...", "data": <payload>}.
	Enveloped Shape = iota
	// Bare bodies are the payload itself.
	Bare
)

func (s Shape) String() string {
	if s == Bare {
		return "bare"
	}
	return "enveloped"
}

// DecodeError reports a body that does not match the endpoint's shape.
type DecodeError struct {
	Endpoint string
	Shape    Shape
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("finance: decode %s (%s): %v", e.Endpoint, e.Shape, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// decode unmarshals body into out according to shape. An enveloped body must
// be an object with a "data" member; a bare body must not be one, so that an
// endpoint silently switching shape is caught instead of decoding into zero
// values.
func decode(endpoint string, shape Shape, body []byte, out interface{}) error {
	payload := bytes.TrimSpace(body)
	if len(payload) == 0 {
		return &DecodeError{Endpoint: endpoint, Shape: shape, Err: errors.New("empty body")}
	}

	if shape == Enveloped {
		var env envelope
		if payload[0] != '{' {
			return &DecodeError{Endpoint: endpoint, Shape: shape, Err: errors.New("body is not an object")}
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			return &DecodeError{Endpoint: endpoint, Shape: shape, Err: err}
		}
		if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
			return &DecodeError{Endpoint: endpoint, Shape: shape, Err: errors.New(`missing "data"`)}
		}
		payload = env.Data
	} else if payload[0] == '{' && looksEnveloped(payload) {
		return &DecodeError{Endpoint: endpoint, Shape: shape, Err: errors.New(`unexpected {status, data} envelope`)}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &DecodeError{Endpoint: endpoint, Shape: shape, Err: err}
	}
	return nil
}

func looksEnveloped(body []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	_, hasStatus := probe["status"]
	_, hasData := probe["data"]
	return hasStatus && hasData
}
