package oplog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type tags the kind of drawing action an Operation carries
type Type string

const (
	TypeStroke Type = "stroke"
	TypeErase  Type = "erase"
	TypeRect   Type = "rect"
	TypeText   Type = "text"
	TypeImage  Type = "image"
	TypeClear  Type = "clear"
)

var (
	ErrMissingID     = errors.New("operation id is required")
	ErrMissingType   = errors.New("operation type is required")
	ErrMissingAuthor = errors.New("operation author is required")
	ErrUnknownType   = errors.New("unknown operation type")
)

// Valid reports whether t is one of the known tags.
func (t Type) Valid() bool {
	switch t {
	case TypeStroke, TypeErase, TypeRect, TypeText, TypeImage, TypeClear:
		return true
	}
	return false
}

// IsUserDrawing reports whether operations of this type can be undone.
// Clear is deliberately not an undo target.
func (t Type) IsUserDrawing() bool {
	return t.Valid() && t != TypeClear
}

// Payload is the type-specific body of an Operation. The concrete type is
// selected by Operation.Type.
type Payload interface {
	isPayload()
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Used by both stroke and erase
type StrokePayload struct {
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
}

type Bounds struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type RectPayload struct {
	Rect  Bounds  `json:"rect"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

type TextPayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Text  string  `json:"text"`
	Color string  `json:"color"`
	Size  float64 `json:"size"`
}

type ImagePayload struct {
	ID      string  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	W       float64 `json:"w"`
	H       float64 `json:"h"`
	DataURL string  `json:"dataUrl"`
}

type ClearPayload struct{}

// RawPayload holds a payload that does not fit the typed shape for its tag,
// such as a coordinate sent as a string. It is stored and re-emitted as the
// client sent it.
type RawPayload json.RawMessage

func (r RawPayload) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (StrokePayload) isPayload() {}
func (RectPayload) isPayload()   {}
func (TextPayload) isPayload()   {}
func (ImagePayload) isPayload()  {}
func (ClearPayload) isPayload()  {}
func (RawPayload) isPayload()    {}

// Operation is one atomic drawing action. Everything but Hidden is fixed
// once the operation has been appended to a Log.
type Operation struct {
	ID              string  `json:"id"`
	Type            Type    `json:"type"`
	AuthorID        string  `json:"authorId"`
	Payload         Payload `json:"payload"`
	ServerTimestamp int64   `json:"serverTimestamp,omitempty"`
	Hidden          bool    `json:"hidden"`
}

// Validate checks the fields the server relies on. Drawing semantics
// (coordinates, colours) are not inspected.
func (o Operation) Validate() error {
	if o.ID == "" {
		return ErrMissingID
	}
	if o.Type == "" {
		return ErrMissingType
	}
	if !o.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, o.Type)
	}
	if o.AuthorID == "" {
		return ErrMissingAuthor
	}
	return nil
}

type wireOperation struct {
	ID              string          `json:"id"`
	Type            Type            `json:"type"`
	AuthorID        string          `json:"authorId"`
	UserID          string          `json:"userId,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	ServerTimestamp int64           `json:"serverTimestamp,omitempty"`
	Hidden          bool            `json:"hidden"`
}

// UnmarshalJSON decodes the payload according to the type tag. Older
// clients send the author as "userId"; it is accepted when "authorId" is
// absent.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}

	author := w.AuthorID
	if author == "" {
		author = w.UserID
	}

	*o = Operation{
		ID:              w.ID,
		Type:            w.Type,
		AuthorID:        author,
		Payload:         payload,
		ServerTimestamp: w.ServerTimestamp,
		Hidden:          w.Hidden,
	}
	return nil
}

// DecodePayload maps raw JSON onto the payload shape for t. An empty type
// yields a nil payload so that Validate can report the missing tag. A body
// that does not match the shape is kept as a RawPayload.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if t == "" {
		return nil, nil
	}

	var p Payload
	switch t {
	case TypeStroke, TypeErase:
		p = &StrokePayload{}
	case TypeRect:
		p = &RectPayload{}
	case TypeText:
		p = &TextPayload{}
	case TypeImage:
		p = &ImagePayload{}
	case TypeClear:
		// Anything a client attaches to a clear is dropped.
		return ClearPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, p); err != nil {
			return RawPayload(append([]byte(nil), trimmed...)), nil
		}
	}

	switch v := p.(type) {
	case *StrokePayload:
		return *v, nil
	case *RectPayload:
		return *v, nil
	case *TextPayload:
		return *v, nil
	case *ImagePayload:
		return *v, nil
	}
	return p, nil
}
