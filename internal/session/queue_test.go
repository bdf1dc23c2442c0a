package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueFIFO(t *testing.T) {
	assert := assert.New(t)
	q := newQueue(4)

	for _, f := range []string{"a", "b", "c"} {
		ok, dropped := q.push([]byte(f))
		assert.True(ok)
		assert.False(dropped)
	}
	assert.Equal(3, q.len())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.pop()
		assert.True(ok)
		assert.Equal(want, string(got))
	}
	_, ok := q.pop()
	assert.False(ok)
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	assert := assert.New(t)
	q := newQueue(2)

	q.push([]byte("1"))
	q.push([]byte("2"))
	ok, dropped := q.push([]byte("3"))
	assert.True(ok)
	assert.True(dropped)
	assert.Equal(uint64(1), q.droppedCount())
	assert.Equal(2, q.len())

	first, _ := q.pop()
	second, _ := q.pop()
	assert.Equal("2", string(first))
	assert.Equal("3", string(second))
}

func TestQueueNotifyCoalesces(t *testing.T) {
	q := newQueue(8)
	q.push([]byte("a"))
	q.push([]byte("b"))

	assert.Len(t, q.notify, 1)
}

func TestQueueClose(t *testing.T) {
	assert := assert.New(t)
	q := newQueue(2)
	q.push([]byte("a"))

	q.close()
	assert.Equal(0, q.len())

	ok, _ := q.push([]byte("b"))
	assert.False(ok)
	_, popped := q.pop()
	assert.False(popped)
}
