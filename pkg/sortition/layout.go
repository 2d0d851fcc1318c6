package sortition

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Leaf is one arena slot. Vacant slots have the zero key and zero weight.
type Leaf struct {
	Key    common.Address `json:"key"`
	Weight *uint256.Int   `json:"weight"`
}

// Layout is the slot-exact shape of a tree. Restoring a layout reproduces the same
// draws for the same seeds, which a plain list of balances would not.
type Layout struct {
	Leaves []Leaf `json:"leaves"`
	Free   []int  `json:"free"`
}

// Export returns the tree's slots up to the high-water mark and its free list.
func (t *Tree) Export() Layout {
	leaves := make([]Leaf, t.next)
	for s := 0; s < t.next; s++ {
		leaves[s] = Leaf{
			Key:    t.keys[s],
			Weight: new(uint256.Int).Set(&t.nodes[t.capacity+s]),
		}
	}
	return Layout{Leaves: leaves, Free: append([]int(nil), t.free...)}
}

// Import rebuilds a tree from a layout produced by Export.
func Import(l Layout) (*Tree, error) {
	t := New()
	for t.capacity < len(l.Leaves) {
		t.grow()
	}

	vacant := make(map[int]bool)
	for s, leaf := range l.Leaves {
		weight := leaf.Weight
		if weight == nil {
			weight = new(uint256.Int)
		}
		if leaf.Key == NoWinner {
			if !weight.IsZero() {
				return nil, fmt.Errorf("%w: vacant slot %d has weight", ErrBadLayout, s)
			}
			vacant[s] = true
			continue
		}
		if weight.IsZero() {
			return nil, fmt.Errorf("%w: slot %d has a key but no weight", ErrBadLayout, s)
		}
		if _, dup := t.slots[leaf.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %s", ErrBadLayout, leaf.Key.Hex())
		}
		t.keys[s] = leaf.Key
		t.slots[leaf.Key] = s
		t.nodes[t.capacity+s].Set(weight)
	}

	if len(l.Free) != len(vacant) {
		return nil, fmt.Errorf("%w: free list has %d slots, %d vacant", ErrBadLayout, len(l.Free), len(vacant))
	}
	for _, s := range l.Free {
		if !vacant[s] {
			return nil, fmt.Errorf("%w: free slot %d is not vacant", ErrBadLayout, s)
		}
		delete(vacant, s)
	}

	for i := t.capacity - 1; i >= 1; i-- {
		t.nodes[i].Add(&t.nodes[2*i], &t.nodes[2*i+1])
	}
	t.free = append([]int(nil), l.Free...)
	t.next = len(l.Leaves)
	return t, nil
}
