package storage

import (
	"cmp"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/jathurchan/ridecore/types"
)

// PlacementPolicy chooses the data nodes that receive a new block.
type PlacementPolicy interface {
	// Select returns up to count node ids among candidates able to hold size
	// more bytes, best first. Inactive candidates are never chosen.
	Select(candidates []types.StorageNodeState, size int64, count int) []string
}

// MostFreeSpacePolicy prefers the active nodes with the most free space.
// Ties are broken by node id so placement is deterministic.
type MostFreeSpacePolicy struct{}

// NewMostFreeSpacePolicy returns the default placement policy.
func NewMostFreeSpacePolicy() *MostFreeSpacePolicy {
	return &MostFreeSpacePolicy{}
}

func byFreeSpaceDesc(a, b any) int {
	sa, sb := a.(types.StorageNodeState), b.(types.StorageNodeState)
	if c := cmp.Compare(sb.FreeSpace(), sa.FreeSpace()); c != 0 {
		return c
	}
	return cmp.Compare(sa.ID, sb.ID)
}

// Select implements PlacementPolicy.
func (p *MostFreeSpacePolicy) Select(candidates []types.StorageNodeState, size int64, count int) []string {
	if count <= 0 {
		return nil
	}

	heap := binaryheap.NewWith(byFreeSpaceDesc)
	for _, c := range candidates {
		if c.Active && c.FreeSpace() >= size {
			heap.Push(c)
		}
	}

	selected := make([]string, 0, count)
	for len(selected) < count {
		v, ok := heap.Pop()
		if !ok {
			break
		}
		selected = append(selected, v.(types.StorageNodeState).ID)
	}
	return selected
}
