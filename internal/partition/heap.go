package partition

import (
	"container/heap"
	"time"
)

// deadlineHeap 依下一次處理時間排序的房間（最小堆）
type deadlineHeap []*roomSlot

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	rs := x.(*roomSlot)
	rs.index = len(*h)
	*h = append(*h, rs)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	rs := old[n-1]
	old[n-1] = nil
	rs.index = -1
	*h = old[:n-1]
	return rs
}

// schedule 設定房間的下一次處理時間；零值代表沒有待辦，從堆中移除
func (h *deadlineHeap) schedule(rs *roomSlot, at time.Time) {
	if at.IsZero() {
		h.remove(rs)
		return
	}
	rs.deadline = at
	if rs.index >= 0 {
		heap.Fix(h, rs.index)
		return
	}
	heap.Push(h, rs)
}

func (h *deadlineHeap) remove(rs *roomSlot) {
	if rs.index >= 0 {
		heap.Remove(h, rs.index)
	}
	rs.deadline = time.Time{}
}

// peek 最早的處理時間（空堆回傳零值）
func (h deadlineHeap) peek() time.Time {
	if len(h) == 0 {
		return time.Time{}
	}
	return h[0].deadline
}
