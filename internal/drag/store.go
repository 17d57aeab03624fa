// Package drag is the client side of board reordering: a reducer-style
// board store and the drag session that mutates it optimistically before
// asking the server to confirm.
package drag

import (
	"context"
	"fmt"
	"sync"

	"pinboard/api/internal/boardtree"
	"pinboard/api/internal/ordering"
)

// Fetcher loads the authoritative tree of a board.
type Fetcher interface {
	FetchTree(ctx context.Context, boardID string) (boardtree.Tree, error)
}

// Action is a state transition applied by Store.Dispatch. Apply reports
// whether the tree changed.
type Action interface {
	Apply(tree *boardtree.Tree) bool
}

// MoveCard splices a card out of its list and into ToListID at ToIndex.
type MoveCard struct {
	CardID   string
	ToListID string
	ToIndex  int
}

func (a MoveCard) Apply(tree *boardtree.Tree) bool {
	fromList, fromIndex := tree.LocateCard(a.CardID)
	toList := tree.ListIndex(a.ToListID)
	if fromList == ordering.NotFound || toList == ordering.NotFound || a.ToIndex < 0 {
		return false
	}

	if fromList == toList {
		cards := tree.Lists[fromList].Cards
		if a.ToIndex >= len(cards) || a.ToIndex == fromIndex {
			return false
		}
		tree.Lists[fromList].Cards = ordering.Reorder(cards, fromIndex, a.ToIndex)
		tree.Renumber()
		return true
	}

	source := tree.Lists[fromList].Cards
	card := source[fromIndex]
	remaining := make([]boardtree.Card, 0, len(source)-1)
	remaining = append(remaining, source[:fromIndex]...)
	remaining = append(remaining, source[fromIndex+1:]...)
	tree.Lists[fromList].Cards = remaining

	dest := tree.Lists[toList].Cards
	at := a.ToIndex
	if at > len(dest) {
		at = len(dest)
	}
	inserted := make([]boardtree.Card, 0, len(dest)+1)
	inserted = append(inserted, dest[:at]...)
	inserted = append(inserted, card)
	inserted = append(inserted, dest[at:]...)
	tree.Lists[toList].Cards = inserted

	tree.Renumber()
	return true
}

// MoveList reorders a list within the board.
type MoveList struct {
	ListID  string
	ToIndex int
}

func (a MoveList) Apply(tree *boardtree.Tree) bool {
	from := tree.ListIndex(a.ListID)
	if from == ordering.NotFound || a.ToIndex < 0 || a.ToIndex >= len(tree.Lists) || a.ToIndex == from {
		return false
	}
	tree.Lists = ordering.Reorder(tree.Lists, from, a.ToIndex)
	tree.Renumber()
	return true
}

// ReplaceTree swaps in a tree fetched from the server.
type ReplaceTree struct {
	Tree boardtree.Tree
}

func (a ReplaceTree) Apply(tree *boardtree.Tree) bool {
	*tree = a.Tree.Clone()
	return true
}

// StampVersion records the version the server assigned after a move.
type StampVersion struct {
	Kind    Kind
	ID      string
	Version int
}

func (a StampVersion) Apply(tree *boardtree.Tree) bool {
	switch a.Kind {
	case KindList:
		if i := tree.ListIndex(a.ID); i != ordering.NotFound {
			tree.Lists[i].Version = a.Version
			return true
		}
	case KindCard:
		if li, ci := tree.LocateCard(a.ID); li != ordering.NotFound {
			tree.Lists[li].Cards[ci].Version = a.Version
			return true
		}
	}
	return false
}

// Store holds the client's view of one board.
type Store struct {
	boardID string
	fetcher Fetcher

	mu          sync.RWMutex
	tree        boardtree.Tree
	subscribers map[int]func(boardtree.Tree)
	nextSub     int
}

func NewStore(boardID string, fetcher Fetcher) *Store {
	return &Store{
		boardID:     boardID,
		fetcher:     fetcher,
		tree:        boardtree.Tree{BoardID: boardID},
		subscribers: map[int]func(boardtree.Tree){},
	}
}

func (s *Store) BoardID() string {
	return s.boardID
}

// Snapshot returns a deep copy of the current tree.
func (s *Store) Snapshot() boardtree.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Clone()
}

// Dispatch applies action and notifies subscribers when the tree changed.
func (s *Store) Dispatch(action Action) bool {
	s.mu.Lock()
	changed := action.Apply(&s.tree)
	var (
		snapshot  boardtree.Tree
		listeners []func(boardtree.Tree)
	)
	if changed {
		snapshot = s.tree.Clone()
		for _, fn := range s.subscribers {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return changed
}

// Subscribe registers fn for every change and returns its cancel func.
func (s *Store) Subscribe(fn func(boardtree.Tree)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Refetch replaces the local tree with the server's. On error the local
// tree is left as it was.
func (s *Store) Refetch(ctx context.Context) error {
	tree, err := s.fetcher.FetchTree(ctx, s.boardID)
	if err != nil {
		return fmt.Errorf("refetch board %s: %w", s.boardID, err)
	}
	s.Dispatch(ReplaceTree{Tree: tree})
	return nil
}
