// Generates record identifiers.

package docstore

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/maruel/ksid"
	"github.com/rs/xid"
)

// maxIDAttempts bounds the retries when a generated id collides.
const maxIDAttempts = 5

// IDGenerator produces candidate record ids.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts a function to [IDGenerator].
type IDGeneratorFunc func() string

// NewID implements [IDGenerator].
func (f IDGeneratorFunc) NewID() string {
	return f()
}

// Built-in id strategies.
const (
	IDStrategyKSID = "ksid"
	IDStrategyUUID = "uuid"
	IDStrategyXID  = "xid"
)

// NewIDGenerator returns the built-in generator named strategy. An empty
// strategy selects ksid, time-sortable ids.
func NewIDGenerator(strategy string) (IDGenerator, error) {
	switch strategy {
	case "", IDStrategyKSID:
		return IDGeneratorFunc(func() string { return ksid.NewID().String() }), nil
	case IDStrategyUUID:
		return IDGeneratorFunc(func() string { return uuid.NewString() }), nil
	case IDStrategyXID:
		return IDGeneratorFunc(func() string { return xid.New().String() }), nil
	default:
		return nil, fmt.Errorf("unknown id strategy %q", strategy)
	}
}

// allocateID returns an id absent from taken.
func allocateID(gen IDGenerator, taken map[string]struct{}) (string, error) {
	for range maxIDAttempts {
		id := gen.NewID()
		if id == "" {
			continue
		}
		if _, dup := taken[id]; !dup {
			return id, nil
		}
	}
	return "", fmt.Errorf("no unique id after %d attempts", maxIDAttempts)
}
