package striped

// dispatchQueue is the round-robin deque of stripes. Guarded by Scheduler.mu.
type dispatchQueue struct {
	items []*stripe
}

func (q *dispatchQueue) len() int { return len(q.items) }

func (q *dispatchQueue) pushBack(s *stripe) { q.items = append(q.items, s) }

// pushFront is only used for poison on shutdown.
func (q *dispatchQueue) pushFront(s *stripe) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = s
}

func (q *dispatchQueue) popFront() *stripe {
	if len(q.items) == 0 {
		return nil
	}
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return s
}

// runnable reports whether any queued stripe other than skip has a task that
// could be taken right now.
func (q *dispatchQueue) runnable(skip *stripe) bool {
	for _, st := range q.items {
		if st != skip && st != poison && !st.busy && !st.isEmpty() {
			return true
		}
	}
	return false
}

func (q *dispatchQueue) reset() { q.items = nil }
