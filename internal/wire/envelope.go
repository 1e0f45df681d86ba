// Package wire parses realtime channel frames and decodes the binary media
// payloads they carry. A frame is a JSON object with an optional "messages"
// list; each message may hold a base64 string in its "data" field.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedEnvelope is returned for frames that are not a JSON object.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrInvalidPayload is returned when an entry's data is not valid base64.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Envelope is a parsed frame. Messages keeps every entry in wire order,
// including entries without a usable payload.
type Envelope struct {
	Messages []Entry
}

// Entry is one element of the messages list.
type Entry struct {
	Data    string
	HasData bool // data was present and a JSON string
}

// Payloads returns the entries that carry a string payload, in order.
func (e Envelope) Payloads() []Entry {
	var out []Entry
	for _, m := range e.Messages {
		if m.HasData {
			out = append(out, m)
		}
	}
	return out
}

// ParseEnvelope parses a raw frame. Frames that are valid JSON objects but
// have no messages list (or a messages value that is not a list) yield an
// empty envelope rather than an error.
func ParseEnvelope(frame []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrMalformedEnvelope)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	raw, ok := fields["messages"]
	if !ok {
		return Envelope{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Envelope{}, nil
	}

	env := Envelope{Messages: make([]Entry, 0, len(items))}
	for _, item := range items {
		env.Messages = append(env.Messages, parseEntry(item))
	}
	return env, nil
}

func parseEntry(item json.RawMessage) Entry {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return Entry{}
	}
	data, ok := fields["data"]
	if !ok {
		return Entry{}
	}
	// null, numbers and nested objects are not payloads
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return Entry{}
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return Entry{}
	}
	return Entry{Data: s, HasData: true}
}

var whitespace = strings.NewReplacer("\n", "", "\r", "", "\t", "", " ", "")

// DecodeEntry returns the raw bytes of an entry's base64 payload.
// Line breaks and spaces inside the payload are ignored.
func DecodeEntry(e Entry) ([]byte, error) {
	if !e.HasData {
		return nil, fmt.Errorf("%w: entry has no data", ErrInvalidPayload)
	}
	b, err := base64.StdEncoding.DecodeString(whitespace.Replace(e.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return b, nil
}
