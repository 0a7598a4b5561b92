// Package idgen generates random identifiers.
package idgen

import (
	"context"

	"github.com/google/uuid"

	"github.com/Gurpartap/promptgraph/agent"
)

// UUIDGenerator returns random (version 4) UUID strings.
type UUIDGenerator struct{}

var _ agent.IDGenerator = UUIDGenerator{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
