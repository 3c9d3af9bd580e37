// Package envelope defines the JSON messages exchanged after the handshake.
//
// Client messages are parsed into one typed variant per "type" value; server
// messages are plain structs whose field order is the order on the wire.
package envelope

import (
	"errors"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/luciancaetano/kollab"
)

var (
	// ErrMalformed is returned for payloads that are not JSON objects or lack a required field.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType is returned for well-formed envelopes with an unrecognized type.
	ErrUnknownType = errors.New("unknown envelope type")
)

// Message is a parsed client envelope: Join, ContentChange, CursorMove or FileChange.
type Message interface {
	Type() string
}

type Join struct {
	Username string
}

type ContentChange struct {
	Username string
	File     string
	Content  string
}

type CursorMove struct {
	Username string
	File     string
	Position int
}

type FileChange struct {
	Username string
	File     string
}

func (Join) Type() string          { return kollab.TypeJoin }
func (ContentChange) Type() string { return kollab.TypeContentChange }
func (CursorMove) Type() string    { return kollab.TypeCursorMove }
func (FileChange) Type() string    { return kollab.TypeFileChange }

// inbound is the union of every client field; pointers tell missing from empty.
type inbound struct {
	Type     *string `json:"type"`
	Username *string `json:"username"`
	File     *string `json:"file"`
	Content  *string `json:"content"`
	Position *int    `json:"position"`
}

// Parse decodes one client envelope.
func Parse(data []byte) (Message, error) {
	var in inbound
	if err := sonnet.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	typ := *in.Type
	switch typ {
	case kollab.TypeJoin:
		if err := require(typ, field{"username", in.Username != nil}); err != nil {
			return nil, err
		}
		return Join{Username: *in.Username}, nil

	case kollab.TypeContentChange:
		err := require(typ,
			field{"username", in.Username != nil},
			field{"file", in.File != nil},
			field{"content", in.Content != nil})
		if err != nil {
			return nil, err
		}
		return ContentChange{Username: *in.Username, File: *in.File, Content: *in.Content}, nil

	case kollab.TypeCursorMove:
		err := require(typ,
			field{"username", in.Username != nil},
			field{"file", in.File != nil},
			field{"position", in.Position != nil})
		if err != nil {
			return nil, err
		}
		return CursorMove{Username: *in.Username, File: *in.File, Position: *in.Position}, nil

	case kollab.TypeFileChange:
		err := require(typ,
			field{"username", in.Username != nil},
			field{"file", in.File != nil})
		if err != nil {
			return nil, err
		}
		return FileChange{Username: *in.Username, File: *in.File}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

type field struct {
	name    string
	present bool
}

func require(typ string, fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return fmt.Errorf("%w: %s without %s", ErrMalformed, typ, f.name)
		}
	}
	return nil
}
