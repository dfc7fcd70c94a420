package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/homepass/service/shares"
)

// PropertyEvent is one property's state from a published snapshot.
// This is published to the subject "homepass.snapshots.{property_id}" in JetStream.
type PropertyEvent struct {
	Generation  uint64 `json:"generation"`
	PropertyID  string `json:"property_id"`
	Initialized bool   `json:"initialized"`

	// Balances in smallest units
	AvailableShares  uint64 `json:"available_shares"`
	TotalShares      uint64 `json:"total_shares"`
	PricePerShare    uint64 `json:"price_per_share"`
	VaultUSDCBalance uint64 `json:"vault_usdc_balance"`
	PoolUSDCBalance  uint64 `json:"pool_usdc_balance"`

	// Connected identity, if any
	Owner          string `json:"owner,omitempty"`
	UserShares     uint64 `json:"user_shares"`
	PendingRewards uint64 `json:"pending_rewards"`

	RefreshedAt time.Time `json:"refreshed_at"`
	PublishedAt time.Time `json:"published_at"`
}

// ActionEvent reports a share action that reached the ledger.
// This is published to the subject "homepass.actions.{property_id}" in JetStream.
type ActionEvent struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	PropertyID  string    `json:"property_id"`
	Signer      string    `json:"signer"`
	Amount      uint64    `json:"amount"`
	Signature   string    `json:"signature,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	DurationMS  int64     `json:"duration_ms"`
	Generation  uint64    `json:"generation"`
	PublishedAt time.Time `json:"published_at"`
}

// MsgID identifies the event for stream de-duplication. The same property,
// generation and owner always yield the same id.
func (e *PropertyEvent) MsgID() string {
	return fmt.Sprintf("snapshot/%s/%d/%s", e.PropertyID, e.Generation, e.Owner)
}

// MsgID identifies the event for stream de-duplication.
func (e *ActionEvent) MsgID() string {
	return "action/" + e.ID
}

// FromSnapshot converts a published snapshot to one event per property.
func FromSnapshot(snap shares.Snapshot) []*PropertyEvent {
	now := time.Now().UTC()
	owner := ""
	if snap.Owner != nil {
		owner = snap.Owner.String()
	}

	events := make([]*PropertyEvent, 0, len(snap.Views))
	for _, v := range snap.Views {
		events = append(events, &PropertyEvent{
			Generation:       snap.Generation,
			PropertyID:       v.Config.PropertyID,
			Initialized:      v.IsInitialized,
			AvailableShares:  v.AvailableShares,
			TotalShares:      v.Config.TotalShares,
			PricePerShare:    v.Config.PricePerShare,
			VaultUSDCBalance: v.VaultUSDCBalance,
			PoolUSDCBalance:  v.PoolUSDCBalance,
			Owner:            owner,
			UserShares:       v.UserShares,
			PendingRewards:   v.PendingRewards,
			RefreshedAt:      snap.RefreshedAt,
			PublishedAt:      now,
		})
	}
	return events
}

// FromActionOutcome converts an executor outcome to an ActionEvent for publishing.
func FromActionOutcome(o shares.ActionOutcome) *ActionEvent {
	return &ActionEvent{
		ID:          o.ID.String(),
		Action:      o.Action,
		PropertyID:  o.PropertyID,
		Signer:      o.Signer,
		Amount:      o.Amount,
		Signature:   o.Signature,
		Status:      o.Status,
		Error:       o.Error,
		SubmittedAt: o.SubmittedAt,
		DurationMS:  o.Duration.Milliseconds(),
		Generation:  o.Generation,
		PublishedAt: time.Now().UTC(),
	}
}
