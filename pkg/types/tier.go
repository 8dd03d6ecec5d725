package types

import "time"

// Tier is a time-window bucket over an item's last access, used to bound
// retrieval latency by searching recent items first. Membership is a pure
// function of the access timestamp and is never stored redundantly.
type Tier string

const (
	// TierHot covers items accessed within the last 7 days.
	TierHot Tier = "hot"

	// TierWarm covers items accessed between 7 and 30 days ago.
	TierWarm Tier = "warm"

	// TierCold covers items not accessed for more than 30 days.
	// The read path never queries cold; only compaction touches it.
	TierCold Tier = "cold"
)

const (
	// HotWindowDays is the upper bound (inclusive) of the hot tier.
	HotWindowDays = 7

	// WarmWindowDays is the upper bound (inclusive) of the warm tier.
	WarmWindowDays = 30
)

// TierOf returns the tier for an item last accessed at t, evaluated at now.
func TierOf(t, now time.Time) Tier {
	age := now.Sub(t)
	switch {
	case age <= HotWindowDays*24*time.Hour:
		return TierHot
	case age <= WarmWindowDays*24*time.Hour:
		return TierWarm
	default:
		return TierCold
	}
}

// Window returns the tier's day bounds as (minDays, maxDays). A maxDays of 0
// means unbounded (cold tier). Stores translate these into server-side
// last-accessed filters.
func (t Tier) Window() (minDays, maxDays int) {
	switch t {
	case TierHot:
		return 0, HotWindowDays
	case TierWarm:
		return HotWindowDays, WarmWindowDays
	default:
		return WarmWindowDays, 0
	}
}
