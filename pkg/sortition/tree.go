// Package sortition implements a sum tree for weighted random selection.
//
// Leaves live in a slot arena laid out in heap order: node 1 is the root, node i has
// children 2i and 2i+1, and leaf slot s is node capacity+s. Every internal node holds the
// sum of its subtree, so a draw descends from the root in O(log n). Vacated slots go on a
// free list and are reused by the next insert, which bounds the arena to the high-water
// mark of concurrent membership.
package sortition

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NoWinner is the sentinel returned for draw slots that could not be filled.
var NoWinner = common.Address{}

var (
	ErrInvalidWeight = errors.New("sortition: weight must be positive")
	ErrInvalidKey    = errors.New("sortition: zero key is reserved")
	ErrKeyNotFound   = errors.New("sortition: key not found")
	ErrKeyExists     = errors.New("sortition: key already present")
	ErrEmptyTree     = errors.New("sortition: tree has no weight")
	ErrBadLayout     = errors.New("sortition: inconsistent layout")
)

// Tree is a dynamic multiset of (key, weight) pairs. It is not safe for concurrent use.
type Tree struct {
	capacity int
	nodes    []uint256.Int
	keys     []common.Address
	slots    map[common.Address]int
	free     []int
	next     int
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		capacity: 1,
		nodes:    make([]uint256.Int, 2),
		keys:     make([]common.Address, 1),
		slots:    make(map[common.Address]int),
	}
}

// Len returns the number of keys with positive weight.
func (t *Tree) Len() int {
	return len(t.slots)
}

// TotalWeight returns the aggregate weight held at the root.
func (t *Tree) TotalWeight() *uint256.Int {
	return new(uint256.Int).Set(&t.nodes[1])
}

// Contains reports whether key currently holds a leaf.
func (t *Tree) Contains(key common.Address) bool {
	_, ok := t.slots[key]
	return ok
}

// Weight returns the weight of key, zero when absent.
func (t *Tree) Weight(key common.Address) *uint256.Int {
	slot, ok := t.slots[key]
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(&t.nodes[t.capacity+slot])
}

// Insert adds key with a positive weight.
func (t *Tree) Insert(key common.Address, weight *uint256.Int) error {
	if key == NoWinner {
		return ErrInvalidKey
	}
	if weight == nil || weight.IsZero() {
		return ErrInvalidWeight
	}
	if _, ok := t.slots[key]; ok {
		return fmt.Errorf("%w: %s", ErrKeyExists, key.Hex())
	}

	slot := t.allocate()
	t.keys[slot] = key
	t.slots[key] = slot
	t.set(slot, weight)
	return nil
}

// Update sets the weight of an existing key. A zero weight removes it.
func (t *Tree) Update(key common.Address, weight *uint256.Int) error {
	slot, ok := t.slots[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key.Hex())
	}
	if weight == nil || weight.IsZero() {
		return t.Remove(key)
	}
	t.set(slot, weight)
	return nil
}

// Remove vacates the leaf of key and returns its slot to the free list.
func (t *Tree) Remove(key common.Address) error {
	slot, ok := t.slots[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key.Hex())
	}
	t.set(slot, new(uint256.Int))
	t.keys[slot] = NoWinner
	delete(t.slots, key)
	t.free = append(t.free, slot)
	return nil
}

// Draw picks a key with probability proportional to its weight. The seed is reduced
// modulo the total weight; the same tree state and seed always yield the same key.
func (t *Tree) Draw(seed *uint256.Int) (common.Address, error) {
	total := &t.nodes[1]
	if total.IsZero() {
		return NoWinner, ErrEmptyTree
	}
	offset := new(uint256.Int).Mod(seed, total)
	return t.keys[t.descend(offset, t.node)], nil
}

// DrawDistinct picks up to count pairwise-distinct keys. Draw i uses DeriveSeed(seed, i)
// and every picked key is masked in a scratch overlay, leaving the tree untouched. Slots
// that cannot be filled because the remaining weight is zero hold NoWinner.
func (t *Tree) DrawDistinct(seed *uint256.Int, count int) []common.Address {
	if count <= 0 {
		return nil
	}
	picked := make([]common.Address, count)
	ov := newOverlay(t)
	for i := 0; i < count; i++ {
		total := ov.node(1)
		if total.IsZero() {
			break
		}
		offset := new(uint256.Int).Mod(DeriveSeed(seed, uint64(i)), total)
		slot := t.descend(offset, ov.node)
		picked[i] = t.keys[slot]
		ov.mask(slot)
	}
	return picked
}

// Clone returns an independent copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		capacity: t.capacity,
		nodes:    make([]uint256.Int, len(t.nodes)),
		keys:     make([]common.Address, len(t.keys)),
		slots:    make(map[common.Address]int, len(t.slots)),
		free:     append([]int(nil), t.free...),
		next:     t.next,
	}
	copy(c.nodes, t.nodes)
	copy(c.keys, t.keys)
	for k, v := range t.slots {
		c.slots[k] = v
	}
	return c
}

func (t *Tree) node(i int) *uint256.Int {
	return &t.nodes[i]
}

// descend walks from the root towards the leaf whose cumulative range contains offset.
// offset is consumed.
func (t *Tree) descend(offset *uint256.Int, value func(int) *uint256.Int) int {
	i := 1
	for i < t.capacity {
		left := value(2 * i)
		if offset.Lt(left) {
			i = 2 * i
			continue
		}
		offset.Sub(offset, left)
		i = 2*i + 1
	}
	return i - t.capacity
}

func (t *Tree) allocate() int {
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		return slot
	}
	if t.next == t.capacity {
		t.grow()
	}
	slot := t.next
	t.next++
	return slot
}

// grow doubles the leaf capacity and rebuilds the internal sums.
func (t *Tree) grow() {
	capacity := t.capacity * 2
	nodes := make([]uint256.Int, 2*capacity)
	copy(nodes[capacity:capacity+t.capacity], t.nodes[t.capacity:])
	for i := capacity - 1; i >= 1; i-- {
		nodes[i].Add(&nodes[2*i], &nodes[2*i+1])
	}
	keys := make([]common.Address, capacity)
	copy(keys, t.keys)

	t.capacity = capacity
	t.nodes = nodes
	t.keys = keys
}

func (t *Tree) set(slot int, weight *uint256.Int) {
	i := t.capacity + slot
	t.nodes[i].Set(weight)
	for i /= 2; i >= 1; i /= 2 {
		t.nodes[i].Add(&t.nodes[2*i], &t.nodes[2*i+1])
	}
}

// overlay shadows node sums of a tree without touching it.
type overlay struct {
	tree *Tree
	over map[int]*uint256.Int
}

func newOverlay(t *Tree) *overlay {
	return &overlay{tree: t, over: make(map[int]*uint256.Int)}
}

func (o *overlay) node(i int) *uint256.Int {
	if v, ok := o.over[i]; ok {
		return v
	}
	return &o.tree.nodes[i]
}

func (o *overlay) mask(slot int) {
	i := o.tree.capacity + slot
	o.over[i] = new(uint256.Int)
	for i /= 2; i >= 1; i /= 2 {
		o.over[i] = new(uint256.Int).Add(o.node(2*i), o.node(2*i+1))
	}
}
