package nats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/shares"
)

func testNotifier(pub Publisher) *Notifier {
	return NewNotifier(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testSnapshot() shares.Snapshot {
	owner := solana.NewWallet().PublicKey()
	return shares.Snapshot{
		Generation:  4,
		Owner:       &owner,
		RefreshedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Views: []shares.PropertyView{
			{
				Config:          catalog.PropertyConfig{PropertyID: "villa-alpha", TotalShares: 1000, PricePerShare: 66_500_000},
				IsInitialized:   true,
				AvailableShares: 990,
				UserShares:      10,
				PendingRewards:  42,
			},
			{Config: catalog.PropertyConfig{PropertyID: "loft-beta", TotalShares: 500}},
		},
	}
}

func TestNotifier_SnapshotPublished(t *testing.T) {
	pub := NewRecordingPublisher()
	snap := testSnapshot()

	require.NoError(t, testNotifier(pub).SnapshotPublished(context.Background(), snap))

	events := pub.PropertyEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "villa-alpha", events[0].PropertyID)
	assert.Equal(t, uint64(4), events[0].Generation)
	assert.True(t, events[0].Initialized)
	assert.Equal(t, uint64(990), events[0].AvailableShares)
	assert.Equal(t, uint64(42), events[0].PendingRewards)
	assert.Equal(t, snap.Owner.String(), events[0].Owner)
	assert.Equal(t, snap.RefreshedAt, events[0].RefreshedAt)
	assert.False(t, events[1].Initialized)
}

func TestNotifier_SnapshotPublishedError(t *testing.T) {
	pub := NewRecordingPublisher()
	pub.FailWith(errors.New("no responders"))

	err := testNotifier(pub).SnapshotPublished(context.Background(), testSnapshot())
	assert.EqualError(t, err, "no responders")
	assert.Empty(t, pub.PropertyEvents())

	pub.FailWith(nil)
	require.NoError(t, testNotifier(pub).SnapshotPublished(context.Background(), testSnapshot()))
	assert.Len(t, pub.PropertyEvents(), 2)
}

func TestNotifier_ActionCompleted(t *testing.T) {
	pub := NewRecordingPublisher()
	outcome := shares.ActionOutcome{
		ID:         uuid.New(),
		Action:     shares.ActionBuyShares,
		PropertyID: "villa-alpha",
		Signer:     "signer",
		Amount:     5,
		Signature:  "sig",
		Status:     "success",
		Duration:   1500 * time.Millisecond,
		Generation: 9,
	}

	require.NoError(t, testNotifier(pub).ActionCompleted(context.Background(), outcome))

	events := pub.ActionEvents()
	require.Len(t, events, 1)
	assert.Equal(t, outcome.ID.String(), events[0].ID)
	assert.Equal(t, shares.ActionBuyShares, events[0].Action)
	assert.Equal(t, int64(1500), events[0].DurationMS)
	assert.Equal(t, uint64(9), events[0].Generation)
	assert.False(t, events[0].PublishedAt.IsZero())
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "homepass.snapshots.villa-alpha", SnapshotSubject("villa-alpha"))
	assert.Equal(t, "homepass.actions.villa_alpha_2", ActionSubject("villa.alpha*2"))
}

func TestRecordingPublisher_Close(t *testing.T) {
	pub := NewRecordingPublisher()
	assert.False(t, pub.Closed())
	require.NoError(t, pub.Close())
	assert.True(t, pub.Closed())
}

func TestRecordingPublisher_DeduplicatesByMsgID(t *testing.T) {
	pub := NewRecordingPublisher()
	notifier := testNotifier(pub)
	snap := testSnapshot()

	require.NoError(t, notifier.SnapshotPublished(context.Background(), snap))
	require.NoError(t, notifier.SnapshotPublished(context.Background(), snap))
	assert.Len(t, pub.PropertyEvents(), 2, "a republished generation is stored once")

	snap.Generation++
	require.NoError(t, notifier.SnapshotPublished(context.Background(), snap))
	assert.Len(t, pub.PropertyEvents(), 4)
}

func TestMsgID(t *testing.T) {
	prop := &PropertyEvent{PropertyID: "villa-alpha", Generation: 3, Owner: "abc"}
	assert.Equal(t, "snapshot/villa-alpha/3/abc", prop.MsgID())
	assert.NotEqual(t, prop.MsgID(), (&PropertyEvent{PropertyID: "villa-alpha", Generation: 3}).MsgID())

	action := &ActionEvent{ID: "1234"}
	assert.Equal(t, "action/1234", action.MsgID())
}

func TestStreamConfig(t *testing.T) {
	cfg := StreamConfig()
	assert.Equal(t, StreamName, cfg.Name)
	assert.ElementsMatch(t, []string{"homepass.snapshots.*", "homepass.actions.*"}, cfg.Subjects)
	assert.Equal(t, DuplicateWindow, cfg.Duplicates)
}
