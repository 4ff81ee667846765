package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbackListDispatchOrder(t *testing.T) {
	var l CallbackList[int]
	var seen []string
	l.Add(func(int) { seen = append(seen, "a") })
	l.Add(func(int) { seen = append(seen, "b") })
	l.Add(func(int) { seen = append(seen, "c") })

	for _, fn := range l.Snapshot() {
		fn(0)
	}
	require.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestCallbackListRemoveIsIdempotent(t *testing.T) {
	var l CallbackList[int]
	remove := l.Add(func(int) {})
	l.Add(func(int) {})
	require.Equal(t, 2, l.Len())

	remove()
	remove()
	require.Equal(t, 1, l.Len())
}

func TestCallbackListUnsubscribeMidDispatch(t *testing.T) {
	var l CallbackList[int]
	var calls []string
	var removeB func()
	l.Add(func(int) {
		calls = append(calls, "a")
		removeB()
	})
	removeB = l.Add(func(int) { calls = append(calls, "b") })

	// Snapshot taken before dispatch still contains b; mid-dispatch removal
	// only affects the next dispatch.
	for _, fn := range l.Snapshot() {
		fn(0)
	}
	require.Equal(t, []string{"a", "b"}, calls)

	calls = nil
	for _, fn := range l.Snapshot() {
		fn(0)
	}
	require.Equal(t, []string{"a"}, calls)
}
