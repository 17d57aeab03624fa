package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pinboard/api/internal/ordering"
)

// MemoryStore keeps boards in process. Each WithinTx call works on a copy of
// the state that replaces the live state only when the callback succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	workspaces map[string]Workspace
	boards     map[string]Board
	lists      map[string]List
	cards      map[string]Card
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			workspaces: map[string]Workspace{},
			boards:     map[string]Board{},
			lists:      map[string]List{},
			cards:      map[string]Card{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *memState) clone() *memState {
	out := &memState{
		workspaces: make(map[string]Workspace, len(s.workspaces)),
		boards:     make(map[string]Board, len(s.boards)),
		lists:      make(map[string]List, len(s.lists)),
		cards:      make(map[string]Card, len(s.cards)),
	}
	for id, item := range s.workspaces {
		out.workspaces[id] = item
	}
	for id, item := range s.boards {
		out.boards[id] = item
	}
	for id, item := range s.lists {
		out.lists[id] = item
	}
	for id, item := range s.cards {
		out.cards[id] = item
	}
	return out
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(PositionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{state: s.state.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) Lock(_ context.Context, kind Kind, id string) (Placement, error) {
	switch kind {
	case KindCard:
		card, ok := t.state.cards[id]
		if !ok {
			return Placement{}, ErrNotFound
		}
		return t.cardPlacement(card), nil
	case KindList:
		list, ok := t.state.lists[id]
		if !ok {
			return Placement{}, ErrNotFound
		}
		return listPlacement(list), nil
	default:
		return Placement{}, fmt.Errorf("unknown kind %q", kind)
	}
}

func (t *memTx) cardPlacement(card Card) Placement {
	return Placement{
		Kind:        KindCard,
		ID:          card.ID,
		ContainerID: card.ListID,
		BoardID:     t.state.lists[card.ListID].BoardID,
		Title:       card.Title,
		Position:    card.Position,
		Version:     card.Version,
	}
}

func listPlacement(list List) Placement {
	return Placement{
		Kind:        KindList,
		ID:          list.ID,
		ContainerID: list.BoardID,
		BoardID:     list.BoardID,
		Title:       list.Title,
		Position:    list.Position,
		Version:     list.Version,
	}
}

func (t *memTx) Container(_ context.Context, kind Kind, containerID string) (Scope, error) {
	switch kind {
	case KindCard:
		list, ok := t.state.lists[containerID]
		if !ok {
			return Scope{}, ErrNotFound
		}
		return Scope{ContainerID: list.ID, ScopeID: list.BoardID, BoardID: list.BoardID}, nil
	case KindList:
		board, ok := t.state.boards[containerID]
		if !ok {
			return Scope{}, ErrNotFound
		}
		return Scope{ContainerID: board.ID, ScopeID: board.WorkspaceID, BoardID: board.ID}, nil
	default:
		return Scope{}, fmt.Errorf("unknown kind %q", kind)
	}
}

// collection gathers the positions of containerID's members.
func (t *memTx) collection(kind Kind, containerID string) *ordering.Collection {
	positions := map[string]int{}
	switch kind {
	case KindCard:
		for id, card := range t.state.cards {
			if card.ListID == containerID {
				positions[id] = card.Position
			}
		}
	case KindList:
		for id, list := range t.state.lists {
			if list.BoardID == containerID {
				positions[id] = list.Position
			}
		}
	}
	return ordering.CollectionOf(positions)
}

func (t *memTx) Shift(_ context.Context, kind Kind, containerID string, shift ordering.Shift, excludeID string) (int, error) {
	coll := t.collection(kind, containerID)
	moved := coll.Shift(shift, excludeID)
	now := t.now()
	for _, id := range moved {
		pos, _ := coll.Position(id)
		switch kind {
		case KindCard:
			card := t.state.cards[id]
			card.Position, card.UpdatedAt = pos, now
			t.state.cards[id] = card
		case KindList:
			list := t.state.lists[id]
			list.Position, list.UpdatedAt = pos, now
			t.state.lists[id] = list
		}
	}
	return len(moved), nil
}

func (t *memTx) Place(_ context.Context, kind Kind, id, containerID string, position int) (Placement, error) {
	now := t.now()
	switch kind {
	case KindCard:
		card, ok := t.state.cards[id]
		if !ok {
			return Placement{}, ErrNotFound
		}
		if _, ok := t.state.lists[containerID]; !ok {
			return Placement{}, ErrNotFound
		}
		card.ListID, card.Position = containerID, position
		card.Version++
		card.UpdatedAt = now
		t.state.cards[id] = card
		return t.cardPlacement(card), nil
	case KindList:
		list, ok := t.state.lists[id]
		if !ok || list.BoardID != containerID {
			return Placement{}, ErrNotFound
		}
		list.Position = position
		list.Version++
		list.UpdatedAt = now
		t.state.lists[id] = list
		return listPlacement(list), nil
	default:
		return Placement{}, fmt.Errorf("unknown kind %q", kind)
	}
}

func (t *memTx) MaxPosition(_ context.Context, kind Kind, containerID string) (int, error) {
	return t.collection(kind, containerID).Max(), nil
}

func (t *memTx) Insert(ctx context.Context, kind Kind, entity Entity) (Placement, error) {
	if _, err := t.Container(ctx, kind, entity.ContainerID); err != nil {
		return Placement{}, err
	}
	now := t.now()
	switch kind {
	case KindCard:
		if _, exists := t.state.cards[entity.ID]; exists {
			return Placement{}, fmt.Errorf("insert card: duplicate id %s", entity.ID)
		}
		card := Card{
			ID:        entity.ID,
			ListID:    entity.ContainerID,
			Title:     entity.Title,
			Position:  entity.Position,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.state.cards[card.ID] = card
		return t.cardPlacement(card), nil
	case KindList:
		if _, exists := t.state.lists[entity.ID]; exists {
			return Placement{}, fmt.Errorf("insert list: duplicate id %s", entity.ID)
		}
		list := List{
			ID:        entity.ID,
			BoardID:   entity.ContainerID,
			Title:     entity.Title,
			Position:  entity.Position,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.state.lists[list.ID] = list
		return listPlacement(list), nil
	default:
		return Placement{}, fmt.Errorf("unknown kind %q", kind)
	}
}

func (t *memTx) Delete(_ context.Context, kind Kind, id string) error {
	switch kind {
	case KindCard:
		if _, ok := t.state.cards[id]; !ok {
			return ErrNotFound
		}
		delete(t.state.cards, id)
	case KindList:
		if _, ok := t.state.lists[id]; !ok {
			return ErrNotFound
		}
		delete(t.state.lists, id)
		for cardID, card := range t.state.cards {
			if card.ListID == id {
				delete(t.state.cards, cardID)
			}
		}
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	return nil
}

func (s *MemoryStore) GetBoard(_ context.Context, boardID string) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.state.boards[boardID]
	if !ok {
		return Board{}, ErrNotFound
	}
	return board, nil
}

func (s *MemoryStore) BoardTree(_ context.Context, boardID string) (BoardTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.state.boards[boardID]
	if !ok {
		return BoardTree{}, ErrNotFound
	}
	tree := BoardTree{Board: board}
	inBoard := map[string]bool{}
	for _, list := range s.state.lists {
		if list.BoardID == boardID {
			tree.Lists = append(tree.Lists, list)
			inBoard[list.ID] = true
		}
	}
	for _, card := range s.state.cards {
		if inBoard[card.ListID] {
			tree.Cards = append(tree.Cards, card)
		}
	}

	sort.Slice(tree.Lists, func(i, j int) bool {
		a, b := tree.Lists[i], tree.Lists[j]
		return positionLess(a.Position, b.Position, a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	sort.Slice(tree.Cards, func(i, j int) bool {
		a, b := tree.Cards[i], tree.Cards[j]
		if a.ListID != b.ListID {
			return a.ListID < b.ListID
		}
		return positionLess(a.Position, b.Position, a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return tree, nil
}

func positionLess(pa, pb int, ca, cb time.Time, ida, idb string) bool {
	if pa != pb {
		return pa < pb
	}
	if !ca.Equal(cb) {
		return ca.Before(cb)
	}
	return ida < idb
}

func (s *MemoryStore) InsertWorkspace(_ context.Context, workspace Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.workspaces[workspace.ID]; exists {
		return nil
	}
	workspace.CreatedAt = s.now()
	s.state.workspaces[workspace.ID] = workspace
	return nil
}

func (s *MemoryStore) InsertBoard(_ context.Context, board Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.workspaces[board.WorkspaceID]; !ok {
		return ErrNotFound
	}
	if _, exists := s.state.boards[board.ID]; exists {
		return fmt.Errorf("insert board: duplicate id %s", board.ID)
	}
	board.CreatedAt = s.now()
	s.state.boards[board.ID] = board
	return nil
}

func (s *MemoryStore) HasBoards(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.boards) > 0, nil
}

// containers groups member positions by container for each kind.
func (s *memState) containers() map[Kind]map[string]map[string]int {
	out := map[Kind]map[string]map[string]int{KindList: {}, KindCard: {}}
	for id, list := range s.lists {
		if out[KindList][list.BoardID] == nil {
			out[KindList][list.BoardID] = map[string]int{}
		}
		out[KindList][list.BoardID][id] = list.Position
	}
	for id, card := range s.cards {
		if out[KindCard][card.ListID] == nil {
			out[KindCard][card.ListID] = map[string]int{}
		}
		out[KindCard][card.ListID][id] = card.Position
	}
	return out
}

func (s *MemoryStore) Anomalies(context.Context) ([]Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var anomalies []Anomaly
	grouped := s.state.containers()
	for _, kind := range []Kind{KindList, KindCard} {
		for containerID, positions := range grouped[kind] {
			if ordering.IsDense(positions) {
				continue
			}
			item := Anomaly{Kind: kind, ContainerID: containerID, Count: len(positions), MinPosition: -1, MaxPosition: -1}
			distinct := map[int]bool{}
			for _, pos := range positions {
				if item.MinPosition < 0 || pos < item.MinPosition {
					item.MinPosition = pos
				}
				if pos > item.MaxPosition {
					item.MaxPosition = pos
				}
				distinct[pos] = true
			}
			item.Distinct = len(distinct)
			anomalies = append(anomalies, item)
		}
	}
	sort.Slice(anomalies, func(i, j int) bool {
		if anomalies[i].Kind != anomalies[j].Kind {
			return anomalies[i].Kind == KindList
		}
		return anomalies[i].ContainerID < anomalies[j].ContainerID
	})
	return anomalies, nil
}

func (s *MemoryStore) Compact(context.Context) (Compaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result Compaction
	boards := map[string]bool{}
	now := s.now()
	grouped := s.state.containers()
	for _, positions := range grouped[KindList] {
		coll := ordering.CollectionOf(positions)
		for _, id := range coll.Compact() {
			list := s.state.lists[id]
			list.Position, _ = coll.Position(id)
			list.UpdatedAt = now
			s.state.lists[id] = list
			boards[list.BoardID] = true
			result.Rows++
		}
	}
	for _, positions := range grouped[KindCard] {
		coll := ordering.CollectionOf(positions)
		for _, id := range coll.Compact() {
			card := s.state.cards[id]
			card.Position, _ = coll.Position(id)
			card.UpdatedAt = now
			s.state.cards[id] = card
			boards[s.state.lists[card.ListID].BoardID] = true
			result.Rows++
		}
	}
	result.Boards = sortedKeys(boards)
	return result, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
