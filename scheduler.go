package bepu

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// block is the scheduler's unit of work (spec §4.6): a contiguous
// [start, end) bundle range within one type processor of one constraint
// batch.
type block struct {
	proc       TypeProcessor
	start, end int
}

const defaultBlockBundles = 8

// buildBlocks splits every type processor of batch into blocks of at most
// blockBundles bundles each (spec §4.6's "target ~4-16 bundles per
// block"), appending into dst[:0] so a caller on the hot path can hand in
// a buffer it owns and reuse its backing array call after call instead of
// allocating a fresh slice every stage.
func buildBlocks(batch *constraintBatch, blockBundles int, dst []block) []block {
	if blockBundles <= 0 {
		blockBundles = defaultBlockBundles
	}
	blocks := dst[:0]
	for _, proc := range batch.processors {
		total := proc.BundleCount()
		for start := 0; start < total; start += blockBundles {
			end := start + blockBundles
			if end > total {
				end = total
			}
			blocks = append(blocks, block{proc: proc, start: start, end: end})
		}
	}
	return blocks
}

// cacheLineSize and claimCell replicate the retrieval pack's false-sharing
// guard (grounded on
// other_examples/iamvalenciia-kick-game-stream__lockfree_queue.go's
// Padding [CacheLineSize]byte fields around its atomic head/tail
// counters): each claim cell is padded out to its own cache line so two
// workers claiming adjacent blocks never bounce the same line between
// cores.
const cacheLineSize = 64

type claimCell struct {
	generation int64
	_          [cacheLineSize - 8]byte
}

// Scheduler dispatches stages (a (function, batch) pair, spec §4.6) across
// a fixed worker pool. Claiming is a claim-polarity swap on a per-block
// cell, with each worker starting at a distinct, uniformly-distributed
// offset into the block list to reduce contention — the same idiom as the
// retrieval pack's lock-free ring buffer (atomic swap + runtime.Gosched on
// contention), adapted from a queue's head/tail claim to a flat block
// array's per-cell claim.
//
// blocks and claimed are owned scratch buffers, not reallocated per call
// (spec §5: "the solve stage itself never allocates"): RunStage is called
// many times per sub-step (substep.go's warm-start/solve loop), so each
// call reuses the prior call's backing arrays, growing them only the
// first few times block/claim counts increase. Re-claiming on every call
// is done by bumping generation rather than zeroing claimed, which would
// otherwise cost an allocation-free but still O(n) reset every stage.
type Scheduler struct {
	WorkerCount  int
	BlockBundles int

	blocks     []block
	claimed    []claimCell
	generation int64
}

func NewScheduler(workerCount, blockBundles int) *Scheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	if blockBundles < 1 {
		blockBundles = defaultBlockBundles
	}
	return &Scheduler{WorkerCount: workerCount, BlockBundles: blockBundles}
}

// RunStage runs dispatch over every block of batch, in parallel, blocking
// until all blocks are claimed and executed (the stage barrier of spec
// §4.6: "Between stages, a barrier synchronizes all workers").
func (s *Scheduler) RunStage(batch *constraintBatch, dispatch func(proc TypeProcessor, start, end int)) {
	s.blocks = buildBlocks(batch, s.BlockBundles, s.blocks)
	blocks := s.blocks
	n := len(blocks)
	if n == 0 {
		return
	}

	if len(s.claimed) < n {
		grown := make([]claimCell, growCapacity(len(s.claimed), n, LaneWidth))
		copy(grown, s.claimed)
		s.claimed = grown
	}
	s.generation++
	generation := s.generation

	var wg sync.WaitGroup
	for w := 0; w < s.WorkerCount; w++ {
		wg.Add(1)
		startOffset := (w * n) / s.WorkerCount
		go func(start int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				idx := (start + i) % n
				if atomic.SwapInt64(&s.claimed[idx].generation, generation) != generation {
					b := blocks[idx]
					dispatch(b.proc, b.start, b.end)
				} else {
					runtime.Gosched()
				}
			}
		}(startOffset)
	}
	wg.Wait()
}
