package convert

import (
	"github.com/shopspring/decimal"
)

// ThreeDecimals rounds half to even, the way reported kW values are presented.
func ThreeDecimals(number float64) float64 {
	return RoundFloat64(number, 3)
}

func RoundFloat64(number float64, decimals int) float64 {
	return decimal.NewFromFloat(number).RoundBank(int32(decimals)).InexactFloat64()
}

// KWh is the energy of a constant power held for the given number of hours.
func KWh(kW, hours float64) float64 {
	return kW * hours
}
