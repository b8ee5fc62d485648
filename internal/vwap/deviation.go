package vwap

import "github.com/shopspring/decimal"

// deviationCache holds ((close - central) / tick)^2 for every processed bar,
// indexed by absolute bar number.
type deviationCache struct {
	values []decimal.Decimal
}

// record stores the squared normalized deviation for index and returns it.
// index must not exceed the current length; entries at or after index are
// replaced.
func (c *deviationCache) record(index int, closePrice, central, tick decimal.Decimal) decimal.Decimal {
	d := closePrice.Sub(central).Div(tick)
	sq := d.Mul(d)
	c.values = append(c.values[:index], sq)
	return sq
}

// seed stores a zero deviation for bar 0.
func (c *deviationCache) seed() decimal.Decimal {
	c.values = append(c.values[:0], decimal.Zero)
	return decimal.Zero
}

func (c *deviationCache) at(index int) decimal.Decimal { return c.values[index] }

func (c *deviationCache) truncate(n int) {
	if n < len(c.values) {
		c.values = c.values[:n]
	}
}
