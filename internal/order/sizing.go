package order

import "math"

// MaxStrengthMultiplier caps how much a strong signal can scale a buy.
const MaxStrengthMultiplier = 1.2

// StrengthMultiplier scales a buy by 0.2 per 100 points of strength, capped at 1.2.
func StrengthMultiplier(strength float64) float64 {
	m := 1 + strength/100*0.2
	if m > MaxStrengthMultiplier {
		return MaxStrengthMultiplier
	}
	if m < 0 {
		return 0
	}
	return m
}

// BuyQuantity sizes a buy as whole units of capital*allocation%*multiplier at price,
// never spending more than cash. A negative cash means the cash is unknown and
// only the allocation bounds the order.
func BuyQuantity(capital, allocationPercent, multiplier, price, cash float64) float64 {
	if price <= 0 || capital <= 0 || allocationPercent <= 0 || multiplier <= 0 {
		return 0
	}
	budget := capital * allocationPercent / 100 * multiplier
	if cash >= 0 && budget > cash {
		budget = cash
	}
	return math.Floor(budget / price)
}

// SellFraction maps the magnitude of a sell signal to the share of the holding to sell.
func SellFraction(strength float64) float64 {
	s := math.Abs(strength)
	switch {
	case s >= 50:
		return 0.8
	case s >= 30:
		return 0.5
	default:
		return 0.3
	}
}

// SellQuantity returns whole units to sell out of holding, at least one when
// anything is held.
func SellQuantity(holding, strength float64) float64 {
	if holding <= 0 {
		return 0
	}
	qty := math.Floor(holding * SellFraction(strength))
	if qty < 1 {
		qty = math.Min(1, holding)
	}
	return qty
}
