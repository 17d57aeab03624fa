// Package boardtree is the list-and-card tree exchanged between the board
// API, its read cache and drag clients.
package boardtree

import "pinboard/api/internal/ordering"

type Card struct {
	ID       string `json:"id"`
	ListID   string `json:"listId"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	Version  int    `json:"version"`
}

type List struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	Version  int    `json:"version"`
	Cards    []Card `json:"cards"`
}

type Tree struct {
	BoardID string `json:"boardId"`
	Lists   []List `json:"lists"`
}

// CardIDs returns the ids of the list's cards in slice order.
func (l List) CardIDs() []string {
	ids := make([]string, len(l.Cards))
	for i, card := range l.Cards {
		ids[i] = card.ID
	}
	return ids
}

// ListIDs returns the ids of the tree's lists in slice order.
func (t Tree) ListIDs() []string {
	ids := make([]string, len(t.Lists))
	for i, list := range t.Lists {
		ids[i] = list.ID
	}
	return ids
}

// ListIndex returns the slice index of listID, or ordering.NotFound.
func (t Tree) ListIndex(listID string) int {
	return ordering.IndexOf(t.ListIDs(), listID)
}

// LocateCard returns the list index and card index holding cardID. Both are
// ordering.NotFound when the card is unknown.
func (t Tree) LocateCard(cardID string) (listIndex, cardIndex int) {
	listIndex = ordering.FindContainer(t.Lists, List.CardIDs, cardID)
	if listIndex == ordering.NotFound {
		return ordering.NotFound, ordering.NotFound
	}
	return listIndex, ordering.IndexOf(t.Lists[listIndex].CardIDs(), cardID)
}

// Card returns a copy of the card with cardID.
func (t Tree) Card(cardID string) (Card, bool) {
	listIndex, cardIndex := t.LocateCard(cardID)
	if listIndex == ordering.NotFound {
		return Card{}, false
	}
	return t.Lists[listIndex].Cards[cardIndex], true
}

// List returns a copy of the list with listID, cards included.
func (t Tree) List(listID string) (List, bool) {
	index := t.ListIndex(listID)
	if index == ordering.NotFound {
		return List{}, false
	}
	return t.Lists[index], true
}

// Clone returns a deep copy so callers can mutate it freely.
func (t Tree) Clone() Tree {
	out := Tree{BoardID: t.BoardID, Lists: make([]List, len(t.Lists))}
	for i, list := range t.Lists {
		cards := make([]Card, len(list.Cards))
		copy(cards, list.Cards)
		list.Cards = cards
		out.Lists[i] = list
	}
	return out
}

// Renumber rewrites every position to its slice index and every card's
// ListID to its owning list.
func (t *Tree) Renumber() {
	for i := range t.Lists {
		t.Lists[i].Position = i
		for j := range t.Lists[i].Cards {
			t.Lists[i].Cards[j].Position = j
			t.Lists[i].Cards[j].ListID = t.Lists[i].ID
		}
	}
}

// CardMove is the cardReorder request body. ListID is set only when the card
// changes list. Version, when set, must match the card's current version.
type CardMove struct {
	Position int    `json:"position"`
	ListID   string `json:"listId,omitempty"`
	Version  *int   `json:"version,omitempty"`
}

// ListMove is the listReorder request body.
type ListMove struct {
	Position int  `json:"position"`
	Version  *int `json:"version,omitempty"`
}
