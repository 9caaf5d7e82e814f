// Package idgen provides ID generation implementations.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/artpar/justpaid/ports"
)

// UUID generates random UUIDs. Used for idempotency keys and sandbox job ids.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// Derived generates name-based UUIDs (v5). The same parts always produce the
// same id, so an event redelivered by a message broker keeps its idempotency
// key.
type Derived struct {
	namespace uuid.UUID
}

// NewDerived creates a generator scoped to namespace.
func NewDerived(namespace string) Derived {
	return Derived{namespace: uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace))}
}

// Derive returns the id for parts. Each part is length-prefixed, so parts
// containing separators cannot collide with a different split.
func (d Derived) Derive(parts ...string) string {
	var name []byte
	for _, p := range parts {
		name = strconv.AppendInt(name, int64(len(p)), 10)
		name = append(name, ':')
		name = append(name, p...)
	}
	return uuid.NewSHA1(d.namespace, name).String()
}

// Sequential generates prefix1, prefix2, ... (for testing).
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
