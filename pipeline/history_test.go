package pipeline_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/sdcmon/pipeline"
)

func TestRingOverwritesOldest(t *testing.T) {
	// GOAL: Verify the ring keeps only the newest elements once full
	//
	// TEST SCENARIO: Append 5 values to a capacity-3 ring → last 3 kept in arrival order → evictions reported

	r := pipeline.NewRing[int](3)

	var evictions int
	for i := 1; i <= 5; i++ {
		if r.Append(i) {
			evictions++
		}
	}

	assert.Equal(t, []int{3, 4, 5}, r.Snapshot(0), "ring MUST keep the newest elements oldest first")
	assert.Equal(t, 2, evictions, "ring MUST report one eviction per append beyond capacity")
	assert.Equal(t, 3, r.Len(), "length MUST never exceed capacity")

	last, ok := r.Last()
	require.True(t, ok, "Last MUST succeed on a non-empty ring")
	assert.Equal(t, 5, last, "Last MUST return the newest element")
}

func TestRingSnapshotLimit(t *testing.T) {
	r := pipeline.NewRing[int](10)
	for i := 0; i < 4; i++ {
		r.Append(i)
	}

	assert.Equal(t, []int{2, 3}, r.Snapshot(2), "limit MUST select the most recent elements")
	assert.Equal(t, []int{0, 1, 2, 3}, r.Snapshot(100), "limit above length MUST return everything")
	assert.Equal(t, []int{0, 1, 2, 3}, r.Snapshot(-1), "negative limit MUST return everything")
}

func TestRingReset(t *testing.T) {
	r := pipeline.NewRing[string](2)
	r.Append("a")
	r.Append("b")
	r.Append("c")

	r.Reset()

	_, ok := r.Last()
	assert.False(t, ok, "Last MUST fail after Reset")
	assert.Empty(t, r.Snapshot(0), "Snapshot MUST be empty after Reset")

	r.Append("d")
	assert.Equal(t, []string{"d"}, r.Snapshot(0), "ring MUST be reusable after Reset")
}

func TestRingPanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { pipeline.NewRing[int](0) }, "zero capacity MUST panic")
}

func TestRingConcurrentSnapshots(t *testing.T) {
	// GOAL: Verify readers never observe a torn snapshot while a writer appends
	//
	// TEST SCENARIO: One writer appends increasing values → readers snapshot concurrently → every snapshot is strictly increasing

	r := pipeline.NewRing[int](16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			r.Append(i)
		}
	}()

	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				snap := r.Snapshot(0)
				assert.LessOrEqual(t, len(snap), 16, "snapshot MUST never exceed capacity")
				for j := 1; j < len(snap); j++ {
					if !assert.Equal(t, snap[j-1]+1, snap[j], "snapshot MUST be contiguous") {
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, r.Len())
}
