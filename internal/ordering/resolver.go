// Package ordering holds the position arithmetic shared by the board server
// and the drag client: slice reordering, container lookup, droppable id
// parsing and the bounded range shifts that keep sibling positions dense.
package ordering

import "strings"

// EmptyMarker prefixes the droppable id of a container that has no children,
// so a drop at index 0 still names its container.
const EmptyMarker = "empty"

const emptyPrefix = EmptyMarker + "-"

// NotFound is returned by lookups that cannot resolve an index.
const NotFound = -1

// Reorder returns a new slice with the element at oldIndex moved to newIndex.
// The relative order of every other element is kept. When the indexes are
// equal or either one is out of range the result is an unchanged copy.
func Reorder[T any](items []T, oldIndex, newIndex int) []T {
	out := make([]T, len(items))
	copy(out, items)
	if oldIndex == newIndex || !inRange(oldIndex, len(out)) || !inRange(newIndex, len(out)) {
		return out
	}

	moved := out[oldIndex]
	if oldIndex < newIndex {
		copy(out[oldIndex:newIndex], out[oldIndex+1:newIndex+1])
	} else {
		copy(out[newIndex+1:oldIndex+1], out[newIndex:oldIndex])
	}
	out[newIndex] = moved
	return out
}

// FindContainer returns the index of the container whose children include
// entityID, or NotFound. Nil collections and nil child lists are tolerated.
func FindContainer[C any](containers []C, children func(C) []string, entityID string) int {
	if entityID == "" || children == nil {
		return NotFound
	}
	for i, container := range containers {
		if IndexOf(children(container), entityID) != NotFound {
			return i
		}
	}
	return NotFound
}

// IndexOf returns the index of id in ids, or NotFound.
func IndexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return NotFound
}

// EmptyContainerID builds the droppable id of an empty container.
func EmptyContainerID(containerID string) string {
	return emptyPrefix + containerID
}

// IsEmptyContainerID reports whether droppableID carries the empty marker.
func IsEmptyContainerID(droppableID string) bool {
	return strings.HasPrefix(droppableID, emptyPrefix)
}

// ExtractContainerID strips exactly one leading empty marker. Marker-like
// text further inside the id is left alone.
func ExtractContainerID(droppableID string) string {
	return strings.TrimPrefix(droppableID, emptyPrefix)
}

func inRange(index, length int) bool {
	return index >= 0 && index < length
}
