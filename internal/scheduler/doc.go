// Package scheduler runs merges on a bounded pool of workers.
//
// Submitted tasks are queued by sequence number and dispatched once a worker
// slot is free. Finished tasks are handed over a bounded channel to a single
// installer goroutine, which is the only place merge results are installed.
// The scheduler also provides the write stall gate: flush callers block in
// WaitIfStalled while the merge backlog is too deep and are released in the
// order they arrived.
package scheduler
