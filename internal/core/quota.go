package core

import (
	"time"

	"promptstudio-backend-go/internal/models"
)

// Limits are the monthly generation allowances per plan.
type Limits struct {
	Free     int `json:"FREE_LIMIT"`
	Pro      int `json:"PRO_LIMIT"`
	ProBoost int `json:"PRO_BOOST_LIMIT"`
}

// QuotaPolicy enforces the monthly usage bucket of an account.
type QuotaPolicy struct {
	Limits Limits
}

// MonthKey formats the calendar month of t as "YYYY-MM".
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// FirstDayNextMonth returns midnight of the first day of the month after t,
// in unix milliseconds and in t's location.
func FirstDayNextMonth(t time.Time) int64 {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location()).UnixMilli()
}

// EnsureMonthlyBucket zeroes the usage counters when the stored month key is
// not the current one. It reports whether the bucket was reset.
func EnsureMonthlyBucket(acc *models.Account, now time.Time) bool {
	mk := MonthKey(now)
	if acc.Usage.MonthKey == mk {
		return false
	}
	acc.Usage = models.Usage{MonthKey: mk}
	return true
}

// RenewAt is the Stripe period end when known, otherwise the next month start.
func RenewAt(acc *models.Account, now time.Time) int64 {
	if acc.Stripe.CurrentPeriodEnd > 0 {
		return acc.Stripe.CurrentPeriodEnd
	}
	return FirstDayNextMonth(now)
}

// CancelAt is the scheduled cancellation time in ms, or 0.
func CancelAt(acc *models.Account) int64 {
	if acc.Stripe.CancelAt > 0 {
		return acc.Stripe.CancelAt
	}
	return 0
}

// LimitFor returns the monthly limit of the account's plan.
func (p QuotaPolicy) LimitFor(acc *models.Account) int {
	if acc.IsPro() {
		return p.Limits.Pro
	}
	return p.Limits.Free
}

// Check decides whether one more generation is allowed. It may reset a stale
// monthly bucket but never changes the counters otherwise. A rejection is
// returned as *QuotaError.
func (p QuotaPolicy) Check(acc *models.Account, wantsBoost bool, now time.Time) error {
	EnsureMonthlyBucket(acc, now)

	used := acc.Usage.Used
	limit := p.LimitFor(acc)
	if used >= limit {
		return &QuotaError{
			Tag:        TagQuotaReached,
			Used:       used,
			Limit:      limit,
			BoostUsed:  acc.Usage.BoostUsed,
			BoostLimit: p.Limits.ProBoost,
			RenewAt:    RenewAt(acc, now),
		}
	}
	if !wantsBoost {
		return nil
	}
	if !acc.IsPro() {
		return &QuotaError{Tag: TagBoostRequiresPro, Used: used, Limit: limit}
	}
	if acc.Usage.BoostUsed >= p.Limits.ProBoost {
		return &QuotaError{
			Tag:        TagBoostQuotaReached,
			Used:       used,
			Limit:      limit,
			BoostUsed:  acc.Usage.BoostUsed,
			BoostLimit: p.Limits.ProBoost,
			RenewAt:    RenewAt(acc, now),
		}
	}
	return nil
}

// MarkUsage records one successful generation.
func MarkUsage(acc *models.Account, wantsBoost bool, now time.Time) {
	EnsureMonthlyBucket(acc, now)
	acc.Usage.Used++
	if wantsBoost {
		acc.Usage.BoostUsed++
	}
	acc.Usage.LastTs = now.UnixMilli()
}
