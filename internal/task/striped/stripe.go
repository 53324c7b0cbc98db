package striped

import "container/list"

// stripe is the FIFO of pending tasks for one group. Keys are unique within a
// stripe. It has no locking of its own; the Scheduler mutex guards it.
type stripe struct {
	group string
	order *list.List               // of *task, oldest at the front
	byKey map[string]*list.Element // task key -> element in order

	// busy is set while one of the stripe's tasks runs. A busy stripe keeps
	// its place in the rotation but is skipped until that task finishes.
	busy bool
}

// poison wakes a waiting worker and tells it to exit.
var poison = &stripe{}

func newStripe(group string) *stripe {
	return &stripe{group: group, order: list.New(), byKey: map[string]*list.Element{}}
}

// enqueueOrReplace appends t at the tail. A queued task with the same key is
// evicted first and returned; if it was somehow running it is interrupted.
func (s *stripe) enqueueOrReplace(t *task) *task {
	var old *task
	if el, ok := s.byKey[t.key]; ok {
		old = s.order.Remove(el).(*task)
		old.interrupt()
	}
	s.byKey[t.key] = s.order.PushBack(t)
	return old
}

// dequeueOldest removes and returns the oldest task, or nil when empty.
func (s *stripe) dequeueOldest() *task {
	el := s.order.Front()
	if el == nil {
		return nil
	}
	t := s.order.Remove(el).(*task)
	delete(s.byKey, t.key)
	return t
}

// cancelByKey drops the queued task with key and interrupts it if running.
func (s *stripe) cancelByKey(key string) bool {
	el, ok := s.byKey[key]
	if !ok {
		return false
	}
	t := s.order.Remove(el).(*task)
	delete(s.byKey, key)
	t.interrupt()
	return true
}

func (s *stripe) size() int {
	if s.order == nil {
		return 0
	}
	return s.order.Len()
}

func (s *stripe) isEmpty() bool { return s.size() == 0 }
