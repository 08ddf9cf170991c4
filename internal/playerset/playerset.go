// Package playerset 提供以玩家槽位為索引的 128 位元集合
//
// 房間內所有「哪些玩家滿足某條件」的追蹤（已連線、已準備、已載入、
// 仍在遊戲中……）都用這個型別表示，全員檢查變成一次位元運算：
//
//	ready.Union(spectating).IsSupersetOf(connected)
//
// Set 是值型別，可以直接複製、比較（==）。
package playerset

import (
	"iter"
	"math/bits"
	"strings"
)

// Capacity 集合可容納的最大索引數
const Capacity = 128

// Set 128 位元集合，w[0] 存索引 0-63，w[1] 存索引 64-127
type Set struct {
	w [2]uint64
}

// Of 用給定索引建立集合
func Of(ids ...int) Set {
	var s Set
	for _, id := range ids {
		s.Set(id, true)
	}
	return s
}

// Has 檢查索引是否在集合中
//
// 索引超出 [0, Capacity) 會觸發 index out of range panic。
func (s Set) Has(id int) bool {
	return s.w[id>>6]&(1<<(uint(id)&63)) != 0
}

// Set 設定索引的值，回傳設定前的值
func (s *Set) Set(id int, v bool) bool {
	word := &s.w[id>>6]
	mask := uint64(1) << (uint(id) & 63)
	prev := *word&mask != 0
	if v {
		*word |= mask
	} else {
		*word &^= mask
	}
	return prev
}

// With 回傳加入 id 後的新集合
func (s Set) With(id int) Set {
	s.Set(id, true)
	return s
}

// Without 回傳移除 id 後的新集合
func (s Set) Without(id int) Set {
	s.Set(id, false)
	return s
}

// Union 聯集
func (s Set) Union(o Set) Set {
	return Set{w: [2]uint64{s.w[0] | o.w[0], s.w[1] | o.w[1]}}
}

// Intersect 交集
func (s Set) Intersect(o Set) Set {
	return Set{w: [2]uint64{s.w[0] & o.w[0], s.w[1] & o.w[1]}}
}

// Difference 差集（在 s 中但不在 o 中）
func (s Set) Difference(o Set) Set {
	return Set{w: [2]uint64{s.w[0] &^ o.w[0], s.w[1] &^ o.w[1]}}
}

// IsSubsetOf s 的每個元素都在 o 中
func (s Set) IsSubsetOf(o Set) bool {
	return s.w[0]&^o.w[0] == 0 && s.w[1]&^o.w[1] == 0
}

// IsSupersetOf o 的每個元素都在 s 中
func (s Set) IsSupersetOf(o Set) bool {
	return o.IsSubsetOf(s)
}

// IsEmpty 集合為空
func (s Set) IsEmpty() bool {
	return s.w[0] == 0 && s.w[1] == 0
}

// Len 元素數量
func (s Set) Len() int {
	return bits.OnesCount64(s.w[0]) + bits.OnesCount64(s.w[1])
}

// Next 回傳大於 after 的最小元素；after 傳 -1 代表從頭開始
func (s Set) Next(after int) (int, bool) {
	start := after + 1
	if start < 0 {
		start = 0
	}
	for i := start >> 6; i < len(s.w); i++ {
		word := s.w[i]
		if i == start>>6 {
			word &^= (uint64(1) << (uint(start) & 63)) - 1
		}
		if word != 0 {
			return i<<6 + bits.TrailingZeros64(word), true
		}
	}
	return 0, false
}

// First 最小元素
func (s Set) First() (int, bool) {
	return s.Next(-1)
}

// All 依遞增順序走訪所有元素
//
// 走訪的是呼叫當下的副本，迴圈內修改原集合不影響本次走訪。
func (s Set) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i, word := range s.w {
			for word != 0 {
				bit := bits.TrailingZeros64(word)
				if !yield(i<<6 + bit) {
					return
				}
				word &= word - 1
			}
		}
	}
}

// Except 走訪除了 id 以外的所有元素
func (s Set) Except(id int) iter.Seq[int] {
	return s.Without(id).All()
}

// String 以 0/1 字串顯示前 n 個槽位（用於日誌）
func (s Set) String() string {
	var n int
	if s.w[1] != 0 {
		n = 128 - bits.LeadingZeros64(s.w[1])
	} else {
		n = 64 - bits.LeadingZeros64(s.w[0])
	}
	if n == 0 {
		return "0"
	}
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		if s.Has(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
