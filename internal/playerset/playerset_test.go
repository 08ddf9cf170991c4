package playerset_test

import (
	"slices"
	"testing"

	"github.com/koopa0/system-design/14-rhythm-session/internal/playerset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSet_SetReturnsPrevious 測試 Set 回傳舊值
func TestSet_SetReturnsPrevious(t *testing.T) {
	var s playerset.Set

	assert.False(t, s.Set(5, true))
	assert.True(t, s.Set(5, true))
	assert.True(t, s.Set(5, false))
	assert.False(t, s.Set(5, false))
	assert.True(t, s.IsEmpty())
}

// TestSet_WordBoundaries 測試兩個 word 的邊界
func TestSet_WordBoundaries(t *testing.T) {
	s := playerset.Of(0, 63, 64, 127)

	for _, id := range []int{0, 63, 64, 127} {
		assert.True(t, s.Has(id), "id %d", id)
	}
	for _, id := range []int{1, 62, 65, 126} {
		assert.False(t, s.Has(id), "id %d", id)
	}
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []int{0, 63, 64, 127}, slices.Collect(s.All()))
}

// TestSet_OutOfRange 超出範圍的索引會 panic
func TestSet_OutOfRange(t *testing.T) {
	var s playerset.Set

	assert.Panics(t, func() { s.Has(128) })
	assert.Panics(t, func() { s.Set(-1, true) })
}

// TestSet_Algebra 測試集合代數
func TestSet_Algebra(t *testing.T) {
	a := playerset.Of(1, 2, 3, 70)
	b := playerset.Of(3, 4, 70, 100)
	empty := playerset.Set{}

	tests := []struct {
		name string
		got  bool
	}{
		{"union commutative", a.Union(b) == b.Union(a)},
		{"intersect commutative", a.Intersect(b) == b.Intersect(a)},
		{"intersect subset of both", a.Intersect(b).IsSubsetOf(a) && a.Intersect(b).IsSubsetOf(b)},
		{"both subset of union", a.IsSubsetOf(a.Union(b)) && b.IsSubsetOf(a.Union(b))},
		{"empty subset of all", empty.IsSubsetOf(a)},
		{"self subset", a.IsSubsetOf(a)},
		{"not subset", !a.IsSubsetOf(b)},
		{"superset", a.Union(b).IsSupersetOf(a)},
		{"distributive", a.Intersect(b.Union(empty)) == a.Intersect(b)},
		{"difference disjoint", a.Difference(b).Intersect(b).IsEmpty()},
		{"difference plus intersect", a.Difference(b).Union(a.Intersect(b)) == a},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.got)
		})
	}
}

// TestSet_DisjointIffEmptyIntersection isEmpty(A∩B) ⇔ A、B 不相交
func TestSet_DisjointIffEmptyIntersection(t *testing.T) {
	tests := []struct {
		name     string
		a, b     playerset.Set
		disjoint bool
	}{
		{"disjoint low", playerset.Of(0, 1), playerset.Of(2, 3), true},
		{"disjoint across words", playerset.Of(5), playerset.Of(69), true},
		{"overlap high", playerset.Of(64, 100), playerset.Of(100), false},
		{"empty with any", playerset.Set{}, playerset.Of(9), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disjoint := true
			for id := range tt.a.All() {
				if tt.b.Has(id) {
					disjoint = false
				}
			}
			assert.Equal(t, tt.disjoint, disjoint)
			assert.Equal(t, disjoint, tt.a.Intersect(tt.b).IsEmpty())
		})
	}
}

// TestSet_Iteration 測試走訪
func TestSet_Iteration(t *testing.T) {
	s := playerset.Of(9, 2, 66, 4)

	t.Run("ascending", func(t *testing.T) {
		assert.Equal(t, []int{2, 4, 9, 66}, slices.Collect(s.All()))
	})

	t.Run("restartable", func(t *testing.T) {
		seq := s.All()
		assert.Equal(t, slices.Collect(seq), slices.Collect(seq))
	})

	t.Run("early break", func(t *testing.T) {
		var got []int
		for id := range s.All() {
			got = append(got, id)
			if len(got) == 2 {
				break
			}
		}
		assert.Equal(t, []int{2, 4}, got)
	})

	t.Run("except", func(t *testing.T) {
		assert.Equal(t, []int{2, 9, 66}, slices.Collect(s.Except(4)))
		assert.Equal(t, []int{2, 4, 9, 66}, slices.Collect(s.Except(5)))
	})

	t.Run("mutation during iteration does not affect it", func(t *testing.T) {
		c := s
		var got []int
		for id := range c.All() {
			c.Set(id, false)
			got = append(got, id)
		}
		assert.Equal(t, []int{2, 4, 9, 66}, got)
		assert.True(t, c.IsEmpty())
	})
}

// TestSet_Next 測試 Next
func TestSet_Next(t *testing.T) {
	s := playerset.Of(3, 64, 90)

	tests := []struct {
		after  int
		want   int
		wantOK bool
	}{
		{-1, 3, true},
		{0, 3, true},
		{3, 64, true},
		{63, 64, true},
		{64, 90, true},
		{90, 0, false},
		{127, 0, false},
	}

	for _, tt := range tests {
		got, ok := s.Next(tt.after)
		require.Equal(t, tt.wantOK, ok, "after %d", tt.after)
		if ok {
			assert.Equal(t, tt.want, got, "after %d", tt.after)
		}
	}
}

// TestSet_String 測試日誌字串
func TestSet_String(t *testing.T) {
	assert.Equal(t, "0", playerset.Set{}.String())
	assert.Equal(t, "101", playerset.Of(0, 2).String())
	assert.Len(t, playerset.Of(64).String(), 65)
}

// BenchmarkSet_All 走訪效能
func BenchmarkSet_All(b *testing.B) {
	s := playerset.Of(0, 5, 17, 63, 64, 99, 127)
	for i := 0; i < b.N; i++ {
		n := 0
		for range s.All() {
			n++
		}
		_ = n
	}
}
