package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinMessageFields is the minimum number of fields a message needs to be
// considered for dispatch.
const MinMessageFields = 3

var (
	ErrNotDelimited = errors.New("frame is not delimited by start and end markers")
	ErrTooShort     = errors.New("message has too few fields")
	ErrNoField      = errors.New("field index out of range")
)

// Message is the field-split payload of a frame. Fields are never empty.
type Message []string

// ParseMessage splits a frame's payload on the field separator, discarding
// empty tokens. It fails when the frame is not properly delimited or yields
// fewer than MinMessageFields fields.
func ParseMessage(frame Frame) (Message, error) {
	payload := frame.Payload()
	if payload == nil {
		return nil, ErrNotDelimited
	}

	msg := SplitFields(string(payload))
	if len(msg) < MinMessageFields {
		return msg, fmt.Errorf("%w: got %d", ErrTooShort, len(msg))
	}
	return msg, nil
}

// SplitFields splits s on the field separator and drops empty tokens.
func SplitFields(s string) Message {
	parts := strings.Split(s, string(FieldSeparator))
	msg := make(Message, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			msg = append(msg, p)
		}
	}
	return msg
}

// Group returns the command group selector (the first field).
func (m Message) Group() string {
	if len(m) == 0 {
		return ""
	}
	return m[0]
}

// Field returns the i-th field, or "" when out of range.
func (m Message) Field(i int) string {
	if i < 0 || i >= len(m) {
		return ""
	}
	return m[i]
}

// Int parses the i-th field as a base-10 integer.
func (m Message) Int(i int) (int, error) {
	if i < 0 || i >= len(m) {
		return 0, fmt.Errorf("%w: %d", ErrNoField, i)
	}
	return strconv.Atoi(m[i])
}

// Float parses the i-th field as a decimal number.
func (m Message) Float(i int) (float64, error) {
	if i < 0 || i >= len(m) {
		return 0, fmt.Errorf("%w: %d", ErrNoField, i)
	}
	return strconv.ParseFloat(m[i], 64)
}

// String renders the message back into its wire form.
func (m Message) String() string {
	return FormatMessage(m...)
}

// FormatMessage wraps fields in the wire alphabet: "$;f1;f2;...;!".
func FormatMessage(fields ...string) string {
	var b strings.Builder
	b.WriteByte(StartMarker)
	b.WriteByte(FieldSeparator)
	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte(FieldSeparator)
	}
	b.WriteByte(EndMarker)
	return b.String()
}
