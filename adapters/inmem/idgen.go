package inmem

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Gurpartap/promptgraph/agent"
)

// CounterIDGenerator provides deterministic in-process IDs.
type CounterIDGenerator struct {
	prefix  string
	counter atomic.Uint64
}

func NewCounterIDGenerator(prefix string) *CounterIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &CounterIDGenerator{
		prefix: prefix,
	}
}

var _ agent.IDGenerator = (*CounterIDGenerator)(nil)

func (g *CounterIDGenerator) NewID(_ context.Context) (string, error) {
	next := g.counter.Add(1)
	return fmt.Sprintf("%s-%06d", g.prefix, next), nil
}
