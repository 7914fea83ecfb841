// Package lrulist is the intrusive MRU/LRU list engine shared by the
// in-process store (store/memstore, one instance per shard) and the
// loader's static-acceleration tier (accel, a single unsharded instance
// per loader). Both callers need the same O(1) "map + doubly linked list"
// bookkeeping; this package factors it out so the eviction-order logic is
// written, and tested, exactly once.
package lrulist

// Node is one resident entry. The zero value is not usable; construct via
// List.PushFront. Node satisfies policy.Node[K,V] (Key()/Value()) so a
// shard can hand nodes straight to a pluggable eviction policy without an
// adapter type.
type Node[K comparable, V any] struct {
	key K
	val V

	exp  int64 // absolute UnixNano deadline; 0 = no TTL
	cost int32

	prev, next *Node[K, V]
}

// Key returns the node's key.
func (n *Node[K, V]) Key() K { return n.key }

// Value returns a pointer to the stored value; callers may only
// read/write through it while holding whatever lock guards the owning
// List.
func (n *Node[K, V]) Value() *V { return &n.val }

// Exp returns the node's absolute UnixNano deadline (0 = none).
func (n *Node[K, V]) Exp() int64 { return n.exp }

// Cost returns the node's accounted cost.
func (n *Node[K, V]) Cost() int32 { return n.cost }

// List is an intrusive doubly linked list (head = MRU, tail = LRU) plus the
// key -> node index. It performs no locking of its own; callers serialize
// access (a shard's mutex for store/memstore, or the fact that a loader's
// accel tier is single-goroutine per request).
type List[K comparable, V any] struct {
	m    map[K]*Node[K, V]
	head *Node[K, V]
	tail *Node[K, V]
	len  int
	cost int64
}

// New constructs an empty list with the given initial map capacity hint.
func New[K comparable, V any](capHint int) *List[K, V] {
	if capHint < 0 {
		capHint = 0
	}
	return &List[K, V]{m: make(map[K]*Node[K, V], capHint)}
}

// Len returns the number of resident nodes.
func (l *List[K, V]) Len() int { return l.len }

// Cost returns the sum of resident node costs.
func (l *List[K, V]) Cost() int64 { return l.cost }

// Lookup returns the node for k without changing its position.
func (l *List[K, V]) Lookup(k K) (*Node[K, V], bool) {
	n, ok := l.m[k]
	return n, ok
}

// PushFront inserts a brand-new node at MRU. The caller must ensure k is
// not already present.
func (l *List[K, V]) PushFront(k K, v V, exp int64, cost int32) *Node[K, V] {
	n := &Node[K, V]{key: k, val: v, exp: exp, cost: cost}
	l.m[k] = n
	l.linkFront(n)
	return n
}

// MoveToFront promotes an already-resident node to MRU in O(1).
func (l *List[K, V]) MoveToFront(n *Node[K, V]) {
	if n == l.head {
		return
	}
	l.unlink(n)
	l.linkFront(n)
}

// UpdateInPlace replaces the value/exp/cost of a resident node and
// promotes it to MRU: an update counts as recent use.
func (l *List[K, V]) UpdateInPlace(n *Node[K, V], v V, exp int64, cost int32) {
	l.cost += int64(cost) - int64(n.cost)
	n.val, n.exp, n.cost = v, exp, cost
	l.MoveToFront(n)
}

// Remove detaches and deletes n from the list and index.
func (l *List[K, V]) Remove(n *Node[K, V]) {
	l.unlink(n)
	delete(l.m, n.key)
}

// Back returns the current LRU node, or nil if the list is empty.
func (l *List[K, V]) Back() *Node[K, V] { return l.tail }

// Purge drops every resident node in O(1) amortized (map reset).
func (l *List[K, V]) Purge() {
	l.m = make(map[K]*Node[K, V])
	l.head, l.tail = nil, nil
	l.len, l.cost = 0, 0
}

// Keys returns a snapshot of resident keys in no particular order.
func (l *List[K, V]) Keys() []K {
	out := make([]K, 0, l.len)
	for k := range l.m {
		out = append(out, k)
	}
	return out
}

func (l *List[K, V]) linkFront(n *Node[K, V]) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	l.len++
	l.cost += int64(n.cost)
}

func (l *List[K, V]) unlink(n *Node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if l.head == n {
		l.head = n.next
	}
	if l.tail == n {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.len--
	l.cost -= int64(n.cost)
	if l.cost < 0 {
		l.cost = 0
	}
}
