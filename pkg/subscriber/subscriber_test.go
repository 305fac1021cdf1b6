package subscriber

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAndDispatch(t *testing.T) {
	l := New[int]()
	var got []int

	l.Add(func(v int) { got = append(got, v) })
	l.Add(func(v int) { got = append(got, v*10) })

	l.Dispatch(3)

	assert.Equal(t, []int{3, 30}, got)
}

func TestRemoveStopsFutureDispatch(t *testing.T) {
	l := New[string]()
	var got []string

	id := l.Add(func(s string) { got = append(got, s) })
	l.Remove(id)
	l.Dispatch("hello")

	assert.Empty(t, got)
}

func TestDispatchSnapshotsBeforeCalling(t *testing.T) {
	l := New[int]()
	var secondRan bool

	var secondID int
	l.Add(func(int) {
		l.Remove(secondID) // removing a sibling mid-dispatch must not panic or corrupt state
	})
	secondID = l.Add(func(int) { secondRan = true })

	l.Dispatch(1)
	assert.True(t, secondRan, "subscriber present at dispatch start must still run")

	secondRan = false
	l.Dispatch(1)
	assert.False(t, secondRan, "subscriber removed before this dispatch must not run")
}

func TestLenReflectsRegistrations(t *testing.T) {
	l := New[int]()
	assert.Equal(t, 0, l.Len())
	id := l.Add(func(int) {})
	assert.Equal(t, 1, l.Len())
	l.Remove(id)
	assert.Equal(t, 0, l.Len())
}
