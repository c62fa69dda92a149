package domain

import "fmt"

// Cents is a monetary amount in minor currency units.
type Cents int64

func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// WholeUnits truncates to whole currency units.
func (c Cents) WholeUnits() int64 { return int64(c) / 100 }

// ApplyBasisPoints returns c * bps / 10000 rounded half away from zero.
func (c Cents) ApplyBasisPoints(bps int64) Cents {
	n := int64(c) * bps
	if n >= 0 {
		return Cents((n + 5000) / 10000)
	}
	return Cents((n - 5000) / 10000)
}
