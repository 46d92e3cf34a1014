package crdt

// Register is a last-writer-wins register. A write is accepted only when its
// (timestamp, node) pair is lexicographically greater than the current one:
// later timestamps win, and the larger node id breaks timestamp ties.
type Register[T any] struct {
	Value     T      `json:"value"`
	Timestamp int64  `json:"timestamp"` // epoch millis
	Node      string `json:"node"`
}

// NewRegister returns a register holding initial at timestamp zero, so any
// subsequent write with a positive timestamp wins.
func NewRegister[T any](initial T) *Register[T] {
	return &Register[T]{Value: initial}
}

// Set applies a write and reports whether it was accepted.
func (r *Register[T]) Set(v T, node string, ts int64) bool {
	if !wins(ts, node, r.Timestamp, r.Node) {
		return false
	}
	r.Value = v
	r.Timestamp = ts
	r.Node = node
	return true
}

// Merge folds other into r, keeping the winning write.
func (r *Register[T]) Merge(other *Register[T]) {
	if other == nil {
		return
	}
	r.Set(other.Value, other.Node, other.Timestamp)
}

// Clone returns an independent copy.
func (r *Register[T]) Clone() *Register[T] {
	cp := *r
	return &cp
}

// wins reports whether (ts, node) > (curTS, curNode) lexicographically.
func wins(ts int64, node string, curTS int64, curNode string) bool {
	if ts != curTS {
		return ts > curTS
	}
	return node > curNode
}
