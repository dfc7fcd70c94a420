package shares

import (
	"github.com/shopspring/decimal"
)

// Holding is the connected identity's position in one property.
type Holding struct {
	PropertyID  string          `json:"property_id"`
	TokenName   string          `json:"token_name"`
	TokenSymbol string          `json:"token_symbol"`
	Shares      uint64          `json:"shares"`
	TotalShares uint64          `json:"total_shares"`
	Price       decimal.Decimal `json:"price"`
	Value       decimal.Decimal `json:"value"`
	Income      decimal.Decimal `json:"income"`
	// OwnershipPercent is Shares as a percentage of TotalShares.
	OwnershipPercent decimal.Decimal `json:"ownership_percent"`
	// GrowthPercent is pending income relative to value. It is an
	// indicator only; it does not account for time held.
	GrowthPercent decimal.Decimal `json:"growth_percent"`
}

// Portfolio sums the holdings of one snapshot.
type Portfolio struct {
	Holdings   []Holding       `json:"holdings"`
	TotalValue decimal.Decimal `json:"total_value"`
	// TotalIncome is the sum of pending rewards across holdings.
	TotalIncome decimal.Decimal `json:"total_income"`
}

var hundred = decimal.NewFromInt(100)

// Holdings lists the initialized properties in which the snapshot's owner
// holds shares, in snapshot order.
func Holdings(views []PropertyView) Portfolio {
	p := Portfolio{
		Holdings:    []Holding{},
		TotalValue:  decimal.Zero,
		TotalIncome: decimal.Zero,
	}
	for _, v := range views {
		if !v.IsInitialized || v.UserShares == 0 {
			continue
		}
		shares := decimalFromUint64(v.UserShares)
		value := shares.Mul(v.PricePerShareUI)
		income := PriceUI(v.PendingRewards)

		h := Holding{
			PropertyID:       v.Config.PropertyID,
			TokenName:        v.Config.TokenName,
			TokenSymbol:      v.Config.TokenSymbol,
			Shares:           v.UserShares,
			TotalShares:      v.Config.TotalShares,
			Price:            v.PricePerShareUI,
			Value:            value,
			Income:           income,
			OwnershipPercent: decimal.Zero,
			GrowthPercent:    decimal.Zero,
		}
		if v.Config.TotalShares > 0 {
			h.OwnershipPercent = shares.Mul(hundred).Div(decimalFromUint64(v.Config.TotalShares)).Round(2)
		}
		if value.IsPositive() {
			h.GrowthPercent = income.Mul(hundred).Div(value).Round(2)
		}
		p.Holdings = append(p.Holdings, h)
		p.TotalValue = p.TotalValue.Add(value)
		p.TotalIncome = p.TotalIncome.Add(income)
	}
	return p
}
