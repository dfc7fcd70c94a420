package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/homepass/service/db"
	"github.com/brojonat/homepass/service/shares"
)

func seedReceipts(t *testing.T) (*db.TestStore, []shares.ActionOutcome) {
	t.Helper()
	store := db.OpenTestStore(t)

	base := time.Now().UTC().Truncate(time.Microsecond)
	outcomes := []shares.ActionOutcome{
		{
			ID: uuid.New(), Action: shares.ActionBuyShares, PropertyID: "villa-alpha",
			Signer: "alice", Amount: 10, Signature: "3okSig", Status: "success",
			SubmittedAt: base.Add(-2 * time.Minute), Duration: time.Second, Generation: 1,
		},
		{
			ID: uuid.New(), Action: shares.ActionClaim, PropertyID: "villa-alpha",
			Signer: "bob", Amount: 250_000, Status: "failed", Error: "blockhash not found",
			SubmittedAt: base.Add(-time.Minute), Duration: 3 * time.Second, Generation: 2,
		},
		{
			ID: uuid.New(), Action: shares.ActionDepositYield, PropertyID: "loft-beta",
			Signer: "alice", Amount: 5_000_000, Signature: "4depSig", Status: "success",
			SubmittedAt: base, Duration: 2 * time.Second, Generation: 2,
		},
	}
	for _, o := range outcomes {
		require.NoError(t, store.RecordAction(context.Background(), o))
	}
	return store, outcomes
}

func TestListReceiptsCommand(t *testing.T) {
	_, outcomes := seedReceipts(t)
	dbURL := db.TestDatabaseURL()

	tests := []struct {
		name      string
		args      []string
		checkFunc func(t *testing.T, output string)
	}{
		{
			name: "all receipts",
			args: []string{"--database-url", dbURL, "db", "list-receipts"},
			checkFunc: func(t *testing.T, output string) {
				for _, o := range outcomes {
					assert.Contains(t, output, o.ID.String())
				}
				assert.Contains(t, output, "deposit_yield")
			},
		},
		{
			name: "filter by property",
			args: []string{"--database-url", dbURL, "db", "list-receipts", "--property", "loft-beta"},
			checkFunc: func(t *testing.T, output string) {
				assert.Contains(t, output, outcomes[2].ID.String())
				assert.NotContains(t, output, outcomes[0].ID.String())
			},
		},
		{
			name: "filter by status",
			args: []string{"--database-url", dbURL, "db", "list-receipts", "--status", "failed"},
			checkFunc: func(t *testing.T, output string) {
				assert.Contains(t, output, outcomes[1].ID.String())
				assert.NotContains(t, output, outcomes[2].ID.String())
			},
		},
		{
			name: "json output newest first",
			args: []string{"--json", "--database-url", dbURL, "db", "list-receipts", "--signer", "alice"},
			checkFunc: func(t *testing.T, output string) {
				var got []db.Receipt
				require.NoError(t, json.Unmarshal([]byte(output), &got))
				require.Len(t, got, 2)
				assert.Equal(t, outcomes[2].ID, got[0].ID)
				assert.Equal(t, outcomes[0].ID, got[1].ID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runApp(t, tt.args...)
			require.NoError(t, err)
			tt.checkFunc(t, out)
		})
	}
}

func TestGetReceiptCommand(t *testing.T) {
	_, outcomes := seedReceipts(t)
	dbURL := db.TestDatabaseURL()

	out, err := runApp(t, "--database-url", dbURL, "db", "get-receipt", outcomes[1].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "claim")
	assert.Contains(t, out, "blockhash not found")

	_, err = runApp(t, "--database-url", dbURL, "db", "get-receipt", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get receipt")

	_, err = runApp(t, "--database-url", dbURL, "db", "get-receipt", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid receipt id")
}

func TestMigrateCommand(t *testing.T) {
	db.OpenTestStore(t)

	out, err := runApp(t, "--database-url", db.TestDatabaseURL(), "db", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date")
}

func TestDBCommands_RequireURL(t *testing.T) {
	_, err := runApp(t, "db", "list-receipts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url is required")
}
