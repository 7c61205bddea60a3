package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/maruel/ksid"
)

// ID is a record id.
//
// It is always written as a JSON string. JSON integers are accepted on input
// since hand-edited data and older files use them.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) != 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or an integer: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("id must be a string or an integer, got %s", n)
	}
	*id = ID(n.String())
	return nil
}

// IDScheme selects how a kind allocates ids.
type IDScheme int

const (
	// TimeIDs are time-sortable ksid strings.
	TimeIDs IDScheme = iota
	// SequenceIDs are decimal integers counting up from 1.
	SequenceIDs
)

func (s IDScheme) String() string {
	switch s {
	case TimeIDs:
		return "time"
	case SequenceIDs:
		return "sequence"
	default:
		return "IDScheme(" + strconv.Itoa(int(s)) + ")"
	}
}

// SeqOf maps an id to its position in the scheme's ordering, or 0 when id was
// not produced by this scheme.
func (s IDScheme) SeqOf(id string) uint64 {
	switch s {
	case SequenceIDs:
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		k, err := ksid.Parse(id)
		if err != nil {
			return 0
		}
		return uint64(k)
	}
}

// NewID returns an id whose SeqOf is strictly above seq.
func (s IDScheme) NewID(seq uint64) string {
	switch s {
	case SequenceIDs:
		return strconv.FormatUint(seq+1, 10)
	default:
		k := ksid.NewID()
		if uint64(k) <= seq {
			// The clock went backward or an id from the future was loaded.
			k = ksid.ID(seq + 1)
		}
		return k.String()
	}
}
