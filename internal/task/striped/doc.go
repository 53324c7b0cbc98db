// Package striped implements a striped fairness scheduler.
//
// Work is submitted under two keys:
//   - the task key identifies a supersedable unit of work; resubmitting a key that
//     is still pending replaces the pending instance, which then never runs.
//   - the group key identifies the tenant. Tasks of one group live in a stripe (an
//     ordered, key-unique FIFO) and are dequeued in submission order.
//
// Stripes take turns on a round-robin dispatch queue: a worker pops a stripe, takes
// one task from it and pushes the stripe back to the tail before running the task,
// so a busy group never starves the others. Workers are started on demand up to
// Config.MaxWorkers and retire after Config.PollTimeout without work.
//
// Every execution gets a fresh context. It is cancelled when the task is
// superseded or cancelled while running, and on Shutdown. Work must watch
// ctx.Done(); the scheduler never abandons a running goroutine.
//
// groupIndex, taskIndex and the dispatch queue are guarded by a single mutex that
// is only held for O(1) bookkeeping, never while work runs.
package striped
