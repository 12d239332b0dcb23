package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDPool_MonotonicFromOne(t *testing.T) {
	var p idPool

	assert.Equal(t, uint64(1), p.acquire())
	assert.Equal(t, uint64(2), p.acquire())
	assert.Equal(t, uint64(3), p.acquire())
}

func TestIDPool_ReusesSmallestReleased(t *testing.T) {
	var p idPool
	for range 6 {
		p.acquire()
	}

	p.release(5)
	p.release(2)
	p.release(4)

	assert.Equal(t, uint64(2), p.acquire())
	assert.Equal(t, uint64(4), p.acquire())
	assert.Equal(t, uint64(5), p.acquire())
	assert.Equal(t, uint64(7), p.acquire())
}

func TestIDPool_IgnoresUnknownIDs(t *testing.T) {
	var p idPool
	p.acquire()

	p.release(0)
	p.release(42)

	assert.Equal(t, uint64(2), p.acquire())
}
