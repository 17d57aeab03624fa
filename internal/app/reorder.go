package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pinboard/api/internal/boardtree"
	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
)

// CardMove is a cardReorder request. An empty ListID keeps the card in its
// current list. A nil Version skips the staleness check.
type CardMove = boardtree.CardMove

// ListMove is a listReorder request. Lists never change board.
type ListMove = boardtree.ListMove

func (s *Service) ReorderCard(ctx context.Context, cardID string, move CardMove) (boardtree.Card, error) {
	placed, err := s.reorder(ctx, reorderRequest{
		kind:        store.KindCard,
		id:          cardID,
		position:    move.Position,
		containerID: move.ListID,
		version:     move.Version,
	})
	if err != nil {
		return boardtree.Card{}, err
	}
	return toCard(placed), nil
}

func (s *Service) ReorderList(ctx context.Context, listID string, move ListMove) (boardtree.List, error) {
	placed, err := s.reorder(ctx, reorderRequest{
		kind:     store.KindList,
		id:       listID,
		position: move.Position,
		version:  move.Version,
	})
	if err != nil {
		return boardtree.List{}, err
	}
	return toList(placed), nil
}

type reorderRequest struct {
	kind        store.Kind
	id          string
	position    int
	containerID string
	version     *int
}

// reorder moves one card or list inside a single transaction. Every check
// runs before the first shift, so a rejected request never touches a sibling.
func (s *Service) reorder(ctx context.Context, req reorderRequest) (store.Placement, error) {
	if err := validateID(idField(req.kind), req.id); err != nil {
		return store.Placement{}, err
	}
	if req.position < 0 || req.position > maxPosition {
		return store.Placement{}, validationError(fmt.Sprintf("position must be an integer between 0 and %d", maxPosition))
	}
	if req.containerID != "" {
		if err := validateID(containerField(req.kind), req.containerID); err != nil {
			return store.Placement{}, err
		}
	}

	ctx, span := s.tracer.Start(ctx, "board.reorder", trace.WithAttributes(
		attribute.String("entity.kind", string(req.kind)),
		attribute.String("entity.id", req.id),
		attribute.Int("position.requested", req.position),
	))
	defer span.End()

	var (
		current store.Placement
		placed  store.Placement
		moved   bool
	)
	err := s.store.WithinTx(ctx, func(tx store.PositionTx) error {
		var err error
		current, err = tx.Lock(ctx, req.kind, req.id)
		if err != nil {
			return entityLookupError(req.kind, req.id, err)
		}
		if req.version != nil && *req.version != current.Version {
			return staleVersion(req.kind, req.id, *req.version, current.Version)
		}

		target := current.ContainerID
		if req.containerID != "" {
			target = req.containerID
		}

		if target == current.ContainerID {
			shift, ok := ordering.PlanMove(current.Position, req.position)
			if !ok {
				placed = current
				return nil
			}
			if _, err := tx.Shift(ctx, req.kind, target, shift, req.id); err != nil {
				return err
			}
		} else {
			source, err := tx.Container(ctx, req.kind, current.ContainerID)
			if err != nil {
				return err
			}
			destination, err := tx.Container(ctx, req.kind, target)
			if err != nil {
				return containerLookupError(req.kind, target, err)
			}
			if destination.ScopeID != source.ScopeID {
				return scopeViolation(req.kind, target)
			}
			if _, err := tx.Shift(ctx, req.kind, current.ContainerID, ordering.CloseGap(current.Position), req.id); err != nil {
				return err
			}
			if _, err := tx.Shift(ctx, req.kind, target, ordering.OpenSlot(req.position), req.id); err != nil {
				return err
			}
		}

		placed, err = tx.Place(ctx, req.kind, req.id, target, req.position)
		if err != nil {
			return entityLookupError(req.kind, req.id, err)
		}
		moved = true
		return nil
	})
	if err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			recordSpanError(span, err)
		}
		return store.Placement{}, err
	}

	span.SetAttributes(attribute.Bool("reorder.moved", moved))
	if !moved {
		return placed, nil
	}

	s.log.WithFields(logrus.Fields{
		"kind":              req.kind,
		"id":                req.id,
		"from":              current.Position,
		"to":                placed.Position,
		"container_changed": placed.ContainerID != current.ContainerID,
	}).Debug("board.reorder")

	boards := []string{placed.BoardID}
	if current.BoardID != placed.BoardID {
		boards = append(boards, current.BoardID)
	}
	s.invalidate(ctx, boards...)
	return placed, nil
}
