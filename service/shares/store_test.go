package shares

import (
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewsFor(ids ...string) []PropertyView {
	views := make([]PropertyView, len(ids))
	for i, id := range ids {
		views[i].Config = testConfig(id)
	}
	return views
}

func TestStore_Empty(t *testing.T) {
	s := NewStore()
	snap := s.Current()
	assert.Zero(t, snap.Generation)
	assert.Empty(t, snap.Views)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)
}

func TestStore_LoadingUntilSettled(t *testing.T) {
	s := NewStore()
	gen := s.Begin()
	assert.True(t, s.Current().Loading)

	require.True(t, s.Publish(gen, nil, viewsFor("a"), time.Now()))
	snap := s.Current()
	assert.False(t, snap.Loading)
	assert.Equal(t, gen, snap.Generation)
	assert.Len(t, snap.Views, 1)
}

func TestStore_LatePassDoesNotOverwrite(t *testing.T) {
	s := NewStore()
	first := s.Begin()
	second := s.Begin()

	require.True(t, s.Publish(second, nil, viewsFor("fresh"), time.Now()))
	assert.False(t, s.Publish(first, nil, viewsFor("stale"), time.Now()))

	snap := s.Current()
	assert.Equal(t, second, snap.Generation)
	_, ok := snap.Find("fresh")
	assert.True(t, ok)
	_, ok = snap.Find("stale")
	assert.False(t, ok)
}

func TestStore_LateFailureIsIgnored(t *testing.T) {
	s := NewStore()
	first := s.Begin()
	second := s.Begin()

	require.True(t, s.Publish(second, nil, viewsFor("a"), time.Now()))
	assert.False(t, s.Fail(first, errors.New("boom")))
	assert.Empty(t, s.Current().Error)
}

func TestStore_FailureKeepsViews(t *testing.T) {
	s := NewStore()
	gen := s.Begin()
	require.True(t, s.Publish(gen, nil, viewsFor("a"), time.Now()))

	failed := s.Begin()
	require.True(t, s.Fail(failed, errors.New("rpc down")))

	snap := s.Current()
	assert.Equal(t, gen, snap.Generation)
	assert.Len(t, snap.Views, 1)
	assert.Equal(t, "rpc down", snap.Error)
	assert.False(t, snap.Loading)

	// A later success clears the error.
	next := s.Begin()
	require.True(t, s.Publish(next, nil, viewsFor("a"), time.Now()))
	assert.Empty(t, s.Current().Error)
}

func TestStore_NewPassHidesPreviousError(t *testing.T) {
	s := NewStore()
	failed := s.Begin()
	require.True(t, s.Fail(failed, errors.New("rpc down")))
	require.Equal(t, "rpc down", s.Current().Error)

	next := s.Begin()
	snap := s.Current()
	assert.True(t, snap.Loading)
	assert.Empty(t, snap.Error, "loading and error are exclusive")

	require.True(t, s.Fail(next, errors.New("still down")))
	snap = s.Current()
	assert.False(t, snap.Loading)
	assert.Equal(t, "still down", snap.Error)
}

func TestStore_EarlierFailureWhileLaterPassRuns(t *testing.T) {
	s := NewStore()
	first := s.Begin()
	second := s.Begin()
	require.True(t, s.Fail(first, errors.New("timeout")))

	snap := s.Current()
	assert.True(t, snap.Loading)
	assert.Empty(t, snap.Error)

	require.True(t, s.Publish(second, nil, viewsFor("a"), time.Now()))
	snap = s.Current()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)
}

func TestStore_LoadingWhileEarlierPassOutstanding(t *testing.T) {
	s := NewStore()
	first := s.Begin()
	second := s.Begin()
	require.True(t, s.Publish(first, nil, viewsFor("a"), time.Now()))
	assert.True(t, s.Current().Loading, "second pass still running")
	require.True(t, s.Publish(second, nil, viewsFor("a"), time.Now()))
	assert.False(t, s.Current().Loading)
}

func TestSnapshot_OwnedBy(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()

	assert.False(t, Snapshot{}.OwnedBy(owner))
	assert.False(t, Snapshot{Generation: 1}.OwnedBy(owner))
	assert.True(t, Snapshot{Generation: 1, Owner: &owner}.OwnedBy(owner))
	assert.False(t, Snapshot{Generation: 1, Owner: &owner}.OwnedBy(other))
}
