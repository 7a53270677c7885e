package ports

import "golang.org/x/exp/rand"

// StreamProvider hands out deterministic random-number streams. Stream 0 is
// reserved for serial/setup use; streams 1..Workers() belong to the parallel
// workers, one each. The work-item to worker mapping is a static contiguous
// partition, so identical base seed and worker count reproduce identical
// output; changing the worker count changes the item-to-stream assignment and
// hence the realization, even with the same seed.
type StreamProvider interface {
	Workers() int
	Stream(index int) *rand.Rand
}
