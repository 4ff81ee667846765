package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akorchemkin/confpanel/internal/core"
)

func TestRegistryCreateLookupDispose(t *testing.T) {
	d := &fakeDialer{}
	r := NewRegistry(d, fastPolicy(5))

	cred := testCred()
	key := core.SessionKey(cred.Key())

	bridge, disp, err := r.Create(context.Background(), cred)
	require.NoError(t, err)
	require.NotNil(t, bridge)
	require.NotNil(t, disp)
	require.Equal(t, 1, r.Count())

	got, _, ok := r.Lookup(key)
	require.True(t, ok)
	require.Same(t, bridge, got)

	r.Dispose(key)
	_, _, ok = r.Lookup(key)
	require.False(t, ok)
	require.Equal(t, StateClosed, bridge.State())
}

func TestRegistryCreateReplacesExistingBridge(t *testing.T) {
	d := &fakeDialer{}
	r := NewRegistry(d, fastPolicy(5))
	cred := testCred()

	first, _, err := r.Create(context.Background(), cred)
	require.NoError(t, err)

	second, _, err := r.Create(context.Background(), cred)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 1, r.Count())
	require.Equal(t, StateClosed, first.State())

	r.DisposeAll()
	require.Zero(t, r.Count())
}

func TestRegistryAuthInvalidDisposesEntry(t *testing.T) {
	d := &fakeDialer{}
	r := NewRegistry(d, fastPolicy(5))
	cred := testCred()
	key := core.SessionKey(cred.Key())

	_, _, err := r.Create(context.Background(), cred)
	require.NoError(t, err)

	conn := d.conn(0)
	conn.emit(core.BusEvent{Type: core.BusConnected, BusID: conn.busID})
	conn.emitClosed(4001, "invalid session")

	require.Eventually(t, func() bool {
		_, _, ok := r.Lookup(key)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
