package sseclient

import (
	"encoding/json"
	"fmt"
)

// Formatter maps a raw event to the payload handed to subscriptions.
type Formatter func(ev *MessageEvent) (any, error)

// FormatText passes the raw event data through as a string.
func FormatText(ev *MessageEvent) (any, error) {
	return ev.Data, nil
}

// FormatJSON decodes the event data as JSON.
func FormatJSON(ev *MessageEvent) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(ev.Data), &v); err != nil {
		return nil, &FormatError{Event: ev.Type, Origin: ev.Origin, Err: err}
	}
	return v, nil
}

// FormatError is returned by the built-in formatters when a payload cannot be decoded.
type FormatError struct {
	Event string
	// Origin is the URL of the stream the event arrived on, if known.
	Origin string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Origin == "" {
		return fmt.Sprintf("sseclient: cannot format %q event: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("sseclient: cannot format %q event from %s: %v", e.Event, e.Origin, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

type formatKind int

const (
	formatPlain formatKind = iota
	formatJSON
	formatCustom
)

// Format selects how a Client turns raw events into payloads.
// The zero value is PlainText.
type Format struct {
	kind   formatKind
	custom Formatter
}

var (
	PlainText = Format{kind: formatPlain}
	JSON      = Format{kind: formatJSON}
)

// Custom wraps a caller-supplied formatter. A nil formatter yields PlainText.
func Custom(f Formatter) Format {
	if f == nil {
		return PlainText
	}
	return Format{kind: formatCustom, custom: f}
}

// JSONAs decodes event data into a fresh T for every event.
func JSONAs[T any]() Format {
	return Custom(func(ev *MessageEvent) (any, error) {
		var v T
		if err := json.Unmarshal([]byte(ev.Data), &v); err != nil {
			return nil, &FormatError{Event: ev.Type, Origin: ev.Origin, Err: err}
		}
		return v, nil
	})
}

// ParseFormat resolves a format tag ("plain" or "json").
// Unknown tags, including "", fall back to PlainText.
func ParseFormat(tag string) Format {
	switch tag {
	case "json":
		return JSON
	default:
		return PlainText
	}
}

// String returns the tag for built-in formats and "custom" otherwise.
func (f Format) String() string {
	switch f.kind {
	case formatJSON:
		return "json"
	case formatCustom:
		return "custom"
	default:
		return "plain"
	}
}

func (f Format) formatter() Formatter {
	switch f.kind {
	case formatJSON:
		return FormatJSON
	case formatCustom:
		return f.custom
	default:
		return FormatText
	}
}
