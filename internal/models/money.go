package models

import "math"

// RoundHalfUp rounds v to the given number of decimal places, halves away
// from zero. The epsilon absorbs binary representation error so that values
// like 2.455 (stored as 2.45499...) still round up.
func RoundHalfUp(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	if v < 0 {
		return -math.Floor(-v*p+0.5+1e-9) / p
	}
	return math.Floor(v*p+0.5+1e-9) / p
}

// Cents converts a 2-decimal currency amount to minor units.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
