// Package seedqueue holds a pluggable preprocessed-seed queue abstraction.
// raidpir.Server does not use it: the Server keeps its own in-memory queue.
// The in-process MemQueue is the single-mutex
// design spec §9 recommends over the two-RWMutex description in §5 (queue
// and queue_used share one lock so Seed is never starved by a slow
// Preprocess batch). RedisQueue backs the same interface with a
// redis/go-redis/v9 client, for deployments that run several replicas of one
// shard's server process behind a shared preprocessing pool — spec §9's
// explicit invitation to redesign the fixed-size in-memory queue.
package seedqueue

import "context"

// Entry is one preprocessed seed and its opaque partial-answer payload. The
// payload is carried as []byte (the caller's encoded Element) rather than a
// concrete type, so this package has no dependency on the root raidpir
// package's Element type.
type Entry struct {
	Seed    uint64
	Partial []byte
}

// Queue is the seed-queue abstraction. Implementations must be safe for
// concurrent use.
type Queue interface {
	// Push appends a preprocessed entry. It returns false without blocking
	// if the queue is already at capacity.
	Push(ctx context.Context, e Entry) (bool, error)

	// Len reports the number of queued, not-yet-vended entries.
	Len(ctx context.Context) (int, error)

	// Pop removes and returns the oldest queued entry, moving it into the
	// used set keyed by seed. ok is false if the queue was empty.
	Pop(ctx context.Context) (e Entry, ok bool, err error)

	// Take removes and returns the used entry's partial for seed. ok is
	// false if no such seed is outstanding.
	Take(ctx context.Context, seed uint64) (partial []byte, ok bool, err error)
}
