// Package idgen provides the injectable ID generator used for event and
// alert correlation IDs, so tests can supply deterministic values.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces opaque unique identifiers.
type Generator interface {
	NewID() string
}

// UUIDGenerator is the production generator.
type UUIDGenerator struct{}

// NewUUIDGenerator creates a UUID-backed generator.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SequenceGenerator hands out "prefix-1", "prefix-2", ... for tests.
type SequenceGenerator struct {
	prefix string
	n      atomic.Uint64
}

// NewSequenceGenerator creates a deterministic generator.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) NewID() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
