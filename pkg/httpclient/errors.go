package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	// ErrTransport marks failures where no response was received.
	ErrTransport = errors.New("httpclient: transport failure")

	// ErrStatus marks responses with a non-2xx status.
	ErrStatus = errors.New("httpclient: unexpected status")
)

// TransportError is returned when the request never produced a response:
// connection refused, DNS failure, timeout, cancelled context.
type TransportError struct {
	Method    string
	Path      string
	RequestID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// StatusError is returned for non-2xx responses. Detail carries the
// backend's "detail" message when the body has one.
type StatusError struct {
	Method     string
	Path       string
	RequestID  string
	StatusCode int
	Detail     string
	Body       string
}

func (e *StatusError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// StatusCode returns the response status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// Message returns the text to show a user for err: the backend detail when
// there is one, a connectivity hint for transport failures.
func Message(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	if errors.Is(err, ErrTransport) {
		return "could not reach the server"
	}
	return err.Error()
}

const maxBodyExcerpt = 512

func newStatusError(method, path, requestID string, status int, body []byte) *StatusError {
	excerpt := string(body)
	if len(excerpt) > maxBodyExcerpt {
		cut := maxBodyExcerpt
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut] + "..."
	}
	return &StatusError{
		Method:     method,
		Path:       path,
		RequestID:  requestID,
		StatusCode: status,
		Detail:     parseDetail(body),
		Body:       excerpt,
	}
}

// parseDetail extracts "detail" from an error body. It is a string for
// handled errors and a list of {loc, msg} for validation failures.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}

	if len(envelope.Detail) == 0 {
		return envelope.Message
	}

	var detail string
	if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
		return detail
	}

	var items []struct {
		Loc []interface{} `json:"loc"`
		Msg string        `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if len(it.Loc) > 0 {
				msgs = append(msgs, fmt.Sprintf("%v: %s", it.Loc[len(it.Loc)-1], it.Msg))
			} else {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return string(envelope.Detail)
}
