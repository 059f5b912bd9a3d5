package ids

import (
	"sync"
	"testing"
)

func TestNodeIDsUniqueAndIncreasing(t *testing.T) {
	n := NewNode(7)
	var last int64
	for i := 0; i < 10000; i++ {
		id := n.Next()
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		if got := (id >> seqBits) & maxNode; got != 7 {
			t.Fatalf("node bits = %d, want 7", got)
		}
		last = id
	}
}

func TestGenerateConcurrent(t *testing.T) {
	const workers, per = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id := Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("got %d unique ids, want %d", len(seen), workers*per)
	}
}

func TestNewNodeClampsRange(t *testing.T) {
	if NewNode(5000).ID() != 1 {
		t.Fatal("out of range node id should fall back to 1")
	}
}
