package drag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"pinboard/api/internal/boardtree"
	"pinboard/api/internal/ordering"
)

var (
	ErrDragInProgress = errors.New("drag already in progress")
	ErrNotDragging    = errors.New("no drag in progress")
)

type Kind string

const (
	KindCard Kind = "card"
	KindList Kind = "list"
)

// Target is the entity being dragged.
type Target struct {
	Kind Kind
	ID   string
}

// Outcome says which branch a drop took.
type Outcome int

const (
	NoOp Outcome = iota
	Moved
	Resynced
)

func (o Outcome) String() string {
	switch o {
	case Moved:
		return "moved"
	case Resynced:
		return "resynced"
	default:
		return "noop"
	}
}

// Remote confirms moves with the server.
type Remote interface {
	ReorderCard(ctx context.Context, cardID string, move boardtree.CardMove) (boardtree.Card, error)
	ReorderList(ctx context.Context, listID string, move boardtree.ListMove) (boardtree.List, error)
}

// Session runs one drag at a time against a Store.
type Session struct {
	store  *Store
	remote Remote
	log    logrus.FieldLogger

	mu      sync.Mutex
	active  *Target
	preview *boardtree.Card
}

func NewSession(store *Store, remote Remote, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{store: store, remote: remote, log: logger}
}

// Classify maps a dragged id onto a Target using the current tree. Unknown
// ids are classified as cards so that Drop resyncs.
func (s *Session) Classify(id string) Target {
	tree := s.store.Snapshot()
	if tree.ListIndex(id) != ordering.NotFound {
		return Target{Kind: KindList, ID: id}
	}
	return Target{Kind: KindCard, ID: id}
}

func (s *Session) Start(target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return ErrDragInProgress
	}
	s.active = &target
	s.preview = nil
	if target.Kind == KindCard {
		if card, ok := s.store.Snapshot().Card(target.ID); ok {
			s.preview = &card
		}
	}
	return nil
}

// Active returns the dragged target, if any.
func (s *Session) Active() (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Target{}, false
	}
	return *s.active, true
}

// Preview returns the snapshot of the dragged card taken at Start.
func (s *Session) Preview() (boardtree.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return boardtree.Card{}, false
	}
	return *s.preview, true
}

func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.preview = nil
}

// Drop ends the drag over overID. The session is idle again before any
// network call is made.
func (s *Session) Drop(ctx context.Context, overID string) (Outcome, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return NoOp, ErrNotDragging
	}
	target := *s.active
	s.active = nil
	s.preview = nil
	s.mu.Unlock()

	if target.Kind == KindList {
		return s.dropList(ctx, target.ID, overID)
	}
	return s.dropCard(ctx, target.ID, overID)
}

func (s *Session) dropCard(ctx context.Context, cardID, overID string) (Outcome, error) {
	tree := s.store.Snapshot()
	fromList, fromIndex := tree.LocateCard(cardID)
	if fromList == ordering.NotFound {
		return s.resync(ctx, cardID, errors.New("dragged card is not on the board"))
	}
	source := tree.Lists[fromList]

	var (
		toListID string
		toIndex  int
	)
	if li, ci := tree.LocateCard(overID); li != ordering.NotFound {
		toListID, toIndex = tree.Lists[li].ID, ci
	} else if ordering.IsEmptyContainerID(overID) {
		toListID = ordering.ExtractContainerID(overID)
		if tree.ListIndex(toListID) == ordering.NotFound {
			return NoOp, nil
		}
	} else {
		return NoOp, nil
	}

	if toListID == source.ID && toIndex == fromIndex {
		return NoOp, nil
	}

	card := source.Cards[fromIndex]
	s.store.Dispatch(MoveCard{CardID: cardID, ToListID: toListID, ToIndex: toIndex})

	move := boardtree.CardMove{Position: toIndex, Version: versionGuard(card.Version)}
	if toListID != source.ID {
		move.ListID = toListID
	}
	updated, err := s.remote.ReorderCard(ctx, cardID, move)
	if err != nil {
		return s.resync(ctx, cardID, err)
	}
	s.store.Dispatch(StampVersion{Kind: KindCard, ID: cardID, Version: updated.Version})
	return Moved, nil
}

func (s *Session) dropList(ctx context.Context, listID, overID string) (Outcome, error) {
	tree := s.store.Snapshot()
	from := tree.ListIndex(listID)
	if from == ordering.NotFound {
		return s.resync(ctx, listID, errors.New("dragged list is not on the board"))
	}

	to := tree.ListIndex(overID)
	if to == ordering.NotFound {
		if li, _ := tree.LocateCard(overID); li != ordering.NotFound {
			to = li
		} else if ordering.IsEmptyContainerID(overID) {
			to = tree.ListIndex(ordering.ExtractContainerID(overID))
		}
	}
	if to == ordering.NotFound || to == from {
		return NoOp, nil
	}

	list := tree.Lists[from]
	s.store.Dispatch(MoveList{ListID: listID, ToIndex: to})

	updated, err := s.remote.ReorderList(ctx, listID, boardtree.ListMove{Position: to, Version: versionGuard(list.Version)})
	if err != nil {
		return s.resync(ctx, listID, err)
	}
	s.store.Dispatch(StampVersion{Kind: KindList, ID: listID, Version: updated.Version})
	return Moved, nil
}

// resync discards the optimistic state by reloading the board.
func (s *Session) resync(ctx context.Context, id string, cause error) (Outcome, error) {
	s.log.WithFields(logrus.Fields{
		"board_id": s.store.BoardID(),
		"id":       id,
		"error":    cause.Error(),
	}).Warn("drag.reorder_rejected")

	if err := s.store.Refetch(ctx); err != nil {
		return Resynced, fmt.Errorf("resync after rejected move: %w", err)
	}
	return Resynced, nil
}

// versionGuard omits the guard for entities the client has no version for.
func versionGuard(version int) *int {
	if version <= 0 {
		return nil
	}
	return &version
}
