package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_Lengths(t *testing.T) {
	for _, n := range []int{0, 1, 100, SmallSize, SmallSize + 1, LargeSize, LargeSize + 1} {
		b := Get(n)
		assert.Len(t, b, n)
		Put(b)
	}
}

func TestGet_SizeClasses(t *testing.T) {
	b := Get(100)
	assert.Equal(t, SmallSize, cap(b), "small requests come from the small class")
	Put(b)

	b = Get(SmallSize + 1)
	assert.Equal(t, LargeSize, cap(b), "medium requests come from the large class")
	Put(b)

	b = Get(LargeSize + 1)
	assert.Equal(t, LargeSize+1, cap(b), "oversized requests are plain allocations")
	Put(b)
}

func TestReuse(t *testing.T) {
	b := Get(64)
	b[0] = 0xAB
	Put(b)

	// a pooled buffer may come back with stale contents
	c := Get(64)
	assert.Equal(t, SmallSize, cap(c))
	Put(c)
}
