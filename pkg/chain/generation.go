package chain

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const generationStripes = 256

// generations versions keys so that a fill which started before an
// invalidation cannot land after it. Keys share striped counters; a collision
// only costs a skipped fill.
type generations struct {
	stripes [generationStripes]struct {
		mu  sync.Mutex
		gen uint64
	}
}

func (g *generations) index(key string) int {
	return int(xxhash.Sum64String(key) % generationStripes)
}

// token returns the current generation of key. It must be taken before the
// value that will be filled is read.
func (g *generations) token(key string) uint64 {
	s := &g.stripes[g.index(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// invalidate bumps the generation of keys and runs fn while their stripes are
// held, so no fill can interleave with the deletion fn performs.
func (g *generations) invalidate(keys []string, fn func() error) error {
	idx := make([]int, 0, len(keys))
	for _, key := range keys {
		idx = append(idx, g.index(key))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		g.stripes[i].mu.Lock()
		g.stripes[i].gen++
	}
	defer func() {
		for _, i := range idx {
			g.stripes[i].mu.Unlock()
		}
	}()

	return fn()
}

// Apply runs write only while token is still current for key.
func (g *generations) Apply(key string, token uint64, write func() error) (bool, error) {
	s := &g.stripes[g.index(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != token {
		return false, nil
	}
	return true, write()
}
