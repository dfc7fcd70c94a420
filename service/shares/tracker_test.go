package shares

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/metrics"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

type recordingNotifier struct {
	mu        sync.Mutex
	snapshots []Snapshot
	outcomes  []ActionOutcome
	err       error
}

func (n *recordingNotifier) SnapshotPublished(ctx context.Context, snap Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots = append(n.snapshots, snap)
	return n.err
}

func (n *recordingNotifier) ActionCompleted(ctx context.Context, outcome ActionOutcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, outcome)
	return n.err
}

func newTestTracker(chain Chain, configs ...catalog.PropertyConfig) *Tracker {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewTracker(NewReader(chain, testProgramID, testLogger()), configs, m, testLogger())
}

func TestTracker_RefreshPublishes(t *testing.T) {
	chain := newFakeChain()
	owner := solana.NewWallet().PublicKey()
	fx := seedProperty(t, chain, testConfig("villa-alpha"), owner)
	notifier := &recordingNotifier{}
	tracker := newTestTracker(chain, fx.cfg, testConfig("not-launched")).WithNotifier(notifier)

	snap, err := tracker.Refresh(context.Background(), &owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.True(t, snap.OwnedBy(owner))
	require.Len(t, snap.Views, 2)
	assert.True(t, snap.Views[0].IsInitialized)
	assert.False(t, snap.Views[1].IsInitialized)
	assert.False(t, snap.RefreshedAt.IsZero())

	assert.Equal(t, snap, tracker.Current())
	require.Len(t, notifier.snapshots, 1)
	assert.Equal(t, uint64(1), notifier.snapshots[0].Generation)
}

func TestTracker_RefreshFailureKeepsPreviousViews(t *testing.T) {
	chain := newFakeChain()
	fx := seedProperty(t, chain, testConfig("villa-alpha"), solana.NewWallet().PublicKey())
	tracker := newTestTracker(chain, fx.cfg)

	_, err := tracker.Refresh(context.Background(), nil)
	require.NoError(t, err)

	chain.failOn[fx.addrs.Property] = solanapkg.ErrRPCUnavailable
	snap, err := tracker.Refresh(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectivity))
	assert.True(t, errors.Is(err, solanapkg.ErrRPCUnavailable))

	assert.Equal(t, uint64(1), snap.Generation)
	assert.Len(t, snap.Views, 1)
	assert.NotEmpty(t, snap.Error)
	assert.False(t, snap.Loading)

	// A later pass may succeed.
	delete(chain.failOn, fx.addrs.Property)
	snap, err = tracker.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Generation)
	assert.Empty(t, snap.Error)
}

func TestTracker_NotifierErrorDoesNotFailRefresh(t *testing.T) {
	chain := newFakeChain()
	tracker := newTestTracker(chain, testConfig("villa-alpha")).
		WithNotifier(&recordingNotifier{err: errors.New("nats down")})

	_, err := tracker.Refresh(context.Background(), nil)
	assert.NoError(t, err)
}

func TestTracker_SlowPassCannotOverwriteFasterLaterPass(t *testing.T) {
	chain := newFakeChain()
	fx := seedProperty(t, chain, testConfig("villa-alpha"), solana.NewWallet().PublicKey())
	tracker := newTestTracker(chain, fx.cfg)

	chain.delays[fx.addrs.Property] = 80 * time.Millisecond
	slowDone := make(chan Snapshot)
	go func() {
		snap, _ := tracker.Refresh(context.Background(), nil)
		slowDone <- snap
	}()

	// Wait until the slow pass has begun before starting the fast one.
	require.Eventually(t, func() bool { return tracker.Current().Loading }, time.Second, time.Millisecond)
	chain.mu.Lock()
	chain.delays[fx.addrs.Property] = 0
	chain.balances[fx.atas.VaultSharesATA] = 7
	chain.mu.Unlock()

	fast, err := tracker.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fast.Generation)

	<-slowDone
	snap := tracker.Current()
	assert.Equal(t, uint64(2), snap.Generation)
	view, ok := snap.Find("villa-alpha")
	require.True(t, ok)
	assert.Equal(t, uint64(7), view.AvailableShares)
}

func TestTracker_Run(t *testing.T) {
	chain := newFakeChain()
	tracker := newTestTracker(chain, testConfig("villa-alpha"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx, 10*time.Millisecond, func() *solana.PublicKey { return nil })
		close(done)
	}()

	require.Eventually(t, func() bool { return tracker.Current().Generation >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
