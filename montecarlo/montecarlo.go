// Package montecarlo splits a batch of independent iterations across
// goroutines. Each worker owns a deterministic random stream, so a run is
// reproducible for a given seed, worker count and iteration count.
package montecarlo

import (
	"context"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Source is the only thing the simulators need from a random generator.
// *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// checkEvery is how many iterations a worker runs between context checks.
const checkEvery = 1024

// NewStream returns the random stream used by worker i of a run seeded with seed.
func NewStream(seed uint64, worker int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(worker)+1))
}

// Workers normalizes a requested worker count.
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Partition splits iterations into per-worker shares. The first
// iterations%workers workers take one extra iteration.
func Partition(iterations, workers int) []int {
	workers = Workers(workers)
	if workers > iterations && iterations > 0 {
		workers = iterations
	}
	shares := make([]int, workers)
	per, rem := iterations/workers, iterations%workers
	for i := range shares {
		shares[i] = per
		if i < rem {
			shares[i]++
		}
	}
	return shares
}

// Job runs n iterations for one worker. Step must be called once per
// iteration; it reports context cancellation.
type Job func(worker int, rng Source, n int, step func() error) error

// Run executes job on every worker share and waits for all of them. The
// caller merges per-worker accumulators after Run returns.
func Run(ctx context.Context, seed uint64, shares []int, job Job) error {
	g, gCtx := errgroup.WithContext(ctx)
	for i, n := range shares {
		g.Go(func() error {
			done := 0
			step := func() error {
				done++
				if done%checkEvery == 0 {
					return gCtx.Err()
				}
				return nil
			}
			return job(i, NewStream(seed, i), n, step)
		})
	}
	return g.Wait()
}
