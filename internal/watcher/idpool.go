package watcher

import "container/heap"

// idPool hands out subscription ids. Released ids are reused smallest
// first; otherwise ids grow monotonically from 1. Not safe for concurrent
// use; the registry guards it.
type idPool struct {
	free idHeap
	next uint64
}

func (p *idPool) acquire() uint64 {
	if p.free.Len() > 0 {
		return heap.Pop(&p.free).(uint64)
	}
	p.next++
	return p.next
}

func (p *idPool) release(id uint64) {
	if id == 0 || id > p.next {
		return
	}
	heap.Push(&p.free, id)
}

type idHeap []uint64

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(uint64)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
