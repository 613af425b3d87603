// Package nodeid converts mesh node identifiers between their numeric and
// textual forms.
//
// A node is identified by a 32-bit unsigned integer. Its canonical textual
// form is "!" followed by exactly 8 lowercase hex digits, e.g. "!1234abcd".
// The gateway uses this form as the trailing segment of uplink topics.
package nodeid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prefix marks the textual form of a node ID.
const Prefix = "!"

// Node ID parse errors.
var (
	ErrMissingPrefix = errors.New("node id must start with '!'")
	ErrInvalidHex    = errors.New("node id is not a hex number")
	ErrOutOfRange    = errors.New("node id exceeds 32 bits")
)

// ID is a mesh node identifier.
type ID uint32

// Format returns the canonical textual form of id. The result is always
// 9 characters long.
func Format(id ID) string {
	return fmt.Sprintf("%s%08x", Prefix, uint32(id))
}

// Parse parses the textual form of a node ID. Values wider than 32 bits are
// rejected.
func Parse(text string) (ID, error) {
	digits, ok := strings.CutPrefix(text, Prefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingPrefix, text)
	}

	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q", ErrOutOfRange, text)
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalidHex, text)
	}
	return ID(v), nil
}

// String returns the canonical textual form.
func (id ID) String() string {
	return Format(id)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(Format(id)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler. An unquoted id such as
// `from: !1234abcd` is read by YAML as a local tag on an empty scalar; it is
// accepted as well.
func (id *ID) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: node id must be a string", value.Line)
	}
	text := value.Value
	if text == "" && strings.HasPrefix(value.Tag, Prefix) && !strings.HasPrefix(value.Tag, "!!") {
		text = value.Tag
	}
	if err := id.UnmarshalText([]byte(text)); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}
