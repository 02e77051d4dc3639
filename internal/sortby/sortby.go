// Package sortby provides sorting of copies of slices.
package sortby

import (
	"cmp"
	"sort"
)

type sorter[E any] struct {
	src []E
	lt  func(left, right E) bool
}

func (s sorter[E]) Len() int {
	return len(s.src)
}

func (s sorter[E]) Swap(i, j int) {
	s.src[i], s.src[j] = s.src[j], s.src[i]
}

func (s sorter[E]) Less(i, j int) bool {
	return s.lt(s.src[i], s.src[j])
}

// Func returns a sorted copy of items. lt should return true if left comes
// before right. The sort is stable.
//
// items will not be modified.
func Func[E any](items []E, lt func(left E, right E) bool) []E {
	if len(items) == 0 || lt == nil {
		return items
	}

	s := sorter[E]{
		src: make([]E, len(items)),
		lt:  lt,
	}

	copy(s.src, items)
	sort.Stable(s)
	return s.src
}

// Key returns a copy of items sorted in ascending order of the key returned by
// key for each item. The sort is stable.
//
// items will not be modified.
func Key[E any, K cmp.Ordered](items []E, key func(E) K) []E {
	return Func(items, func(left, right E) bool {
		return key(left) < key(right)
	})
}
