package utils

import "math"

// RoundToLotSize rounds a quantity down to the nearest multiple of the
// exchange's lot size, e.g. 0.123456 BTC with lot size 0.001 -> 0.123 BTC.
// A non-positive lotSize is treated as "no rounding".
func RoundToLotSize(quantity, lotSize float64) float64 {
	if lotSize <= 0 {
		return quantity
	}
	steps := math.Floor(quantity/lotSize + 1e-9)
	return steps * lotSize
}

// RoundToLotSizeUp rounds a quantity up to the nearest multiple of lotSize.
func RoundToLotSizeUp(quantity, lotSize float64) float64 {
	if lotSize <= 0 {
		return quantity
	}
	steps := math.Ceil(quantity/lotSize - 1e-9)
	return steps * lotSize
}

// RoundToLotSizeNearest rounds a quantity to the nearest multiple of lotSize.
func RoundToLotSizeNearest(quantity, lotSize float64) float64 {
	if lotSize <= 0 {
		return quantity
	}
	steps := math.Round(quantity / lotSize)
	return steps * lotSize
}

// CalculateSpread returns the percentage spread between two prices:
// (priceHigh - priceLow) / priceLow * 100.
func CalculateSpread(priceHigh, priceLow float64) float64 {
	if priceLow <= 0 {
		return 0
	}
	return (priceHigh - priceLow) / priceLow * 100
}

// CalculateSpreadFromPrices returns the absolute percentage spread between
// two prices regardless of which one is larger.
func CalculateSpreadFromPrices(priceA, priceB float64) float64 {
	if priceA <= 0 || priceB <= 0 {
		return 0
	}
	high, low := priceA, priceB
	if low > high {
		high, low = low, high
	}
	return CalculateSpread(high, low)
}

// CalculateNetSpread subtracts round-trip commission on both legs from a
// gross spread: spread - 2*(feeA + feeB), with fees expressed as fractions
// (0.0004 == 0.04%).
func CalculateNetSpread(grossSpreadPct, feeA, feeB float64) float64 {
	return grossSpreadPct - 2*(feeA+feeB)*100
}

// CalculateNetSpreadDirect computes the net spread directly from two prices
// and two fee fractions.
func CalculateNetSpreadDirect(priceHigh, priceLow, feeA, feeB float64) float64 {
	return CalculateNetSpread(CalculateSpread(priceHigh, priceLow), feeA, feeB)
}

// CalculateWeightedAverage computes the volume-weighted average price over
// a set of (price, weight) levels. Negative weights are ignored.
func CalculateWeightedAverage(values, weights []float64) float64 {
	if len(values) != len(weights) || len(values) == 0 {
		return 0
	}
	var totalValue, totalWeight float64
	for i, v := range values {
		w := weights[i]
		if w < 0 {
			continue
		}
		totalValue += v * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return totalValue / totalWeight
}

// OrderBookLevel is one price/volume rung of an order book side.
type OrderBookLevel struct {
	Price  float64
	Volume float64
}

// simulateMarketFill walks levels in the given order, consuming up to
// targetVolume, and returns (avgPrice, filled, slippagePct against the
// first level's price).
func simulateMarketFill(levels []OrderBookLevel, targetVolume float64) (float64, float64, float64) {
	if len(levels) == 0 || targetVolume <= 0 {
		return 0, 0, 0
	}
	topPrice := levels[0].Price
	remaining := targetVolume
	var totalCost, filled float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Volume
		if take > remaining {
			take = remaining
		}
		totalCost += lvl.Price * take
		filled += take
		remaining -= take
	}
	if filled == 0 {
		return 0, 0, 0
	}
	avgPrice := totalCost / filled
	slippage := 0.0
	if topPrice > 0 {
		slippage = (avgPrice - topPrice) / topPrice * 100
	}
	return avgPrice, filled, slippage
}

// SimulateMarketBuy walks the ask side to estimate fill price, filled
// volume, and slippage percentage for a market buy of targetVolume.
func SimulateMarketBuy(asks []OrderBookLevel, targetVolume float64) (float64, float64, float64) {
	return simulateMarketFill(asks, targetVolume)
}

// SimulateMarketSell walks the bid side to estimate fill price, filled
// volume, and slippage percentage for a market sell of targetVolume.
func SimulateMarketSell(bids []OrderBookLevel, targetVolume float64) (float64, float64, float64) {
	return simulateMarketFill(bids, targetVolume)
}

// CalculatePNL computes absolute P&L for one leg given its side.
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	switch side {
	case "long":
		return (currentPrice - entryPrice) * quantity
	case "short":
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// CalculateTotalPNL sums the P&L of a long leg and a short leg of a pair
// trade, both sized at qty.
func CalculateTotalPNL(longEntry, longExit, shortEntry, shortExit, qty float64) float64 {
	return CalculatePNL("long", longEntry, longExit, qty) + CalculatePNL("short", shortEntry, shortExit, qty)
}

// SplitVolume divides totalVolume into nParts equal, lot-rounded chunks.
func SplitVolume(totalVolume float64, nParts int, lotSize float64) []float64 {
	if nParts <= 0 || totalVolume <= 0 {
		return nil
	}
	part := RoundToLotSizeNearest(totalVolume/float64(nParts), lotSize)
	parts := make([]float64, nParts)
	for i := range parts {
		parts[i] = part
	}
	return parts
}

// IsSpreadSufficient reports whether spread meets or exceeds threshold.
func IsSpreadSufficient(spread, threshold float64) bool {
	return spread >= threshold
}

// ShouldExit reports whether spread has compressed to or below the exit
// threshold.
func ShouldExit(spread, exitThreshold float64) bool {
	return spread <= exitThreshold
}

// IsStopLossHit reports whether an absolute P&L has breached an absolute
// stop-loss magnitude. A zero/negative stopLoss means the stop is disabled.
func IsStopLossHit(pnl, stopLoss float64) bool {
	if stopLoss <= 0 {
		return false
	}
	return pnl <= -stopLoss
}

// Clamp constrains v to [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampWithFlag is Clamp plus whether clamping actually occurred, used by
// the configuration loader to log a warning only when a value was out of
// range.
func ClampWithFlag(v, min, max float64) (float64, bool) {
	clamped := Clamp(v, min, max)
	return clamped, clamped != v
}
