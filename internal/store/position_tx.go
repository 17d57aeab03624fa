package store

import (
	"context"

	"pinboard/api/internal/ordering"
)

// PositionTx is the unit of work for position changes. Implementations apply
// every call made inside one WithinTx callback atomically or not at all.
type PositionTx interface {
	// Lock loads an entity and holds it until the transaction ends.
	Lock(ctx context.Context, kind Kind, id string) (Placement, error)
	// Container resolves a container for kind's entities.
	Container(ctx context.Context, kind Kind, containerID string) (Scope, error)
	// Shift applies shift to the container's entities except excludeID and
	// returns how many rows moved.
	Shift(ctx context.Context, kind Kind, containerID string, shift ordering.Shift, excludeID string) (int, error)
	// Place moves an entity to containerID at position and bumps its version.
	Place(ctx context.Context, kind Kind, id, containerID string, position int) (Placement, error)
	// MaxPosition returns the highest position in the container, -1 if empty.
	MaxPosition(ctx context.Context, kind Kind, containerID string) (int, error)
	Insert(ctx context.Context, kind Kind, entity Entity) (Placement, error)
	Delete(ctx context.Context, kind Kind, id string) error
}
