package weaverapi

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Cursor is the opaque pagination token shape used by every list_* query
// operation: a sort key (usually a timestamp or rev) plus a tiebreaker
// (usually a did or rkey), so ties at the same sort key still paginate
// deterministically.
type Cursor struct {
	SortKey    string
	Tiebreaker string
}

// Encode renders the cursor as the opaque string handed back to clients.
func (c Cursor) Encode() string {
	if c.SortKey == "" && c.Tiebreaker == "" {
		return ""
	}
	raw := c.SortKey + "\x00" + c.Tiebreaker
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor string previously produced by Encode. An
// empty string decodes to the zero Cursor (meaning "from the start").
func DecodeCursor(s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrCursorUnreadable, err)
	}
	parts := strings.SplitN(string(raw), "\x00", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrCursorUnreadable)
	}
	return Cursor{SortKey: parts[0], Tiebreaker: parts[1]}, nil
}

func (c Cursor) IsZero() bool {
	return c.SortKey == "" && c.Tiebreaker == ""
}
