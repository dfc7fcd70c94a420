package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/shares"
)

func testSnapshot() shares.Snapshot {
	return shares.Snapshot{
		Generation:  7,
		RefreshedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Views: []shares.PropertyView{
			{
				Config: catalog.PropertyConfig{
					PropertyID:    "villa-alpha",
					TokenName:     "Villa Alpha",
					TokenSymbol:   "VILLA",
					TotalShares:   1000,
					PricePerShare: 66_500_000,
				},
				IsInitialized:   true,
				PricePerShareUI: decimal.RequireFromString("66.5"),
				AvailableShares: 990,
				UserShares:      10,
			},
			{
				Config: catalog.PropertyConfig{
					PropertyID:    "loft-beta",
					TokenName:     "Loft Beta",
					TokenSymbol:   "LOFT",
					TotalShares:   500,
					PricePerShare: 10_000_000,
				},
				PricePerShareUI: decimal.RequireFromString("10"),
			},
		},
	}
}

// newShareServer serves a fixed snapshot and canned action responses.
func newShareServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/properties", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(testSnapshot())
	})
	mux.HandleFunc("POST /api/v1/properties/{id}/buy", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Shares int64 `json:"shares"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if r.PathValue("id") == "loft-beta" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": "property is not launched",
				"kind":  shares.KindNotInitialized,
			})
			return
		}
		if body.Shares > 100 {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": "transaction failed",
				"kind":  shares.KindSubmission,
				"outcome": shares.ActionOutcome{
					Action:     shares.ActionBuyShares,
					PropertyID: r.PathValue("id"),
					Amount:     uint64(body.Shares),
					Signature:  "5sig",
					Status:     "failed",
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(shares.ActionOutcome{
			Action:     shares.ActionBuyShares,
			PropertyID: r.PathValue("id"),
			Amount:     uint64(body.Shares),
			Signature:  "3okSig",
			Status:     "success",
			Generation: 8,
		})
	})
	mux.HandleFunc("GET /api/v1/resolve/{listing}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"property_id": "villa-alpha"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPropertiesCommand(t *testing.T) {
	srv := newShareServer(t)

	t.Run("table", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "shares", "properties")
		require.NoError(t, err)
		assert.Contains(t, out, "villa-alpha")
		assert.Contains(t, out, "live")
		assert.Contains(t, out, "66.50")
		assert.Contains(t, out, "not launched")
		assert.Contains(t, out, "Generation 7")
	})

	t.Run("where filters views", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "shares", "properties", "--where", ".is_initialized")
		require.NoError(t, err)
		assert.Contains(t, out, "villa-alpha")
		assert.NotContains(t, out, "loft-beta")
	})

	t.Run("json", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "--json", "shares", "properties")
		require.NoError(t, err)
		var snap shares.Snapshot
		require.NoError(t, json.Unmarshal([]byte(out), &snap))
		assert.Equal(t, uint64(7), snap.Generation)
		assert.Len(t, snap.Views, 2)
	})

	t.Run("jq", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "shares", "properties",
			"--jq", ".properties[] | .config.property_id")
		require.NoError(t, err)
		assert.Equal(t, "\"villa-alpha\"\n\"loft-beta\"\n", out)
	})

	t.Run("bad where expression", func(t *testing.T) {
		_, err := runApp(t, "--server-url", srv.URL, "shares", "properties", "--where", ".[")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse jq filter")
	})
}

func TestBuyCommand(t *testing.T) {
	srv := newShareServer(t)

	t.Run("confirmed", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "shares", "buy", "--shares", "3", "villa-alpha")
		require.NoError(t, err)
		assert.Contains(t, out, "buy_shares confirmed")
		assert.Contains(t, out, "3okSig")
	})

	t.Run("rejected", func(t *testing.T) {
		_, err := runApp(t, "--server-url", srv.URL, "shares", "buy", "-n", "3", "loft-beta")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "action rejected (not_initialized)")
		assert.Contains(t, err.Error(), "property is not launched")
	})

	t.Run("submission failure reports signature", func(t *testing.T) {
		_, err := runApp(t, "--server-url", srv.URL, "shares", "buy", "-n", "500", "villa-alpha")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "submission_failed")
		assert.Contains(t, err.Error(), "5sig")
	})

	t.Run("missing argument", func(t *testing.T) {
		_, err := runApp(t, "--server-url", srv.URL, "shares", "buy", "-n", "1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "property id")
	})
}

func TestResolveCommand(t *testing.T) {
	srv := newShareServer(t)

	out, err := runApp(t, "--server-url", srv.URL, "shares", "resolve", "42")
	require.NoError(t, err)
	assert.Equal(t, "villa-alpha\n", out)

	_, err = runApp(t, "--server-url", srv.URL, "shares", "resolve", "forty-two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid listing id")
}

func TestJQFilterMatching(t *testing.T) {
	view := map[string]interface{}{
		"is_initialized":   true,
		"available_shares": 990,
		"config": map[string]interface{}{
			"property_id":  "villa-alpha",
			"token_symbol": "VILLA",
		},
	}

	tests := []struct {
		name     string
		filter   string
		expected bool
	}{
		{"boolean field", ".is_initialized", true},
		{"numeric comparison", ".available_shares > 100", true},
		{"numeric comparison false", ".available_shares > 1000", false},
		{"nested string match", `.config.token_symbol == "VILLA"`, true},
		{"string prefix", `.config.property_id | startswith("villa")`, true},
		{"missing field is null", ".authority", false},
		{"and", `.is_initialized and .available_shares > 0`, true},
		{"or", `.is_initialized == false or .available_shares == 0`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := compileJQ(tt.filter)
			require.NoError(t, err)
			results, err := runJQ(code, view)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, tt.expected, isTruthy(results[0]))
		})
	}
}

func TestRunJQ_RuntimeError(t *testing.T) {
	code, err := compileJQ(".config.property_id | tonumber")
	require.NoError(t, err)
	_, err = runJQ(code, map[string]interface{}{"config": map[string]interface{}{"property_id": "villa"}})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "jq:"))
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0.0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}
