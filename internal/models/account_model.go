package models

import "strings"

// Plan is the subscription tier of an account.
type Plan string

const (
	PlanFree Plan = "FREE"
	PlanPro  Plan = "PRO"
)

// ParsePlan normalizes a user supplied plan name. ok is false for anything
// other than FREE or PRO.
func ParsePlan(s string) (Plan, bool) {
	switch Plan(strings.ToUpper(strings.TrimSpace(s))) {
	case PlanFree:
		return PlanFree, true
	case PlanPro:
		return PlanPro, true
	}
	return "", false
}

// Account is the per-account record mirrored to the store.
// Timestamps are unix milliseconds, matching the persisted document format.
type Account struct {
	AccountID string     `json:"accountId" firestore:"accountId"`
	UserID    string     `json:"userId" firestore:"userId"`
	CreatedAt int64      `json:"createdAt" firestore:"createdAt"`
	UpdatedAt int64      `json:"updatedAt,omitempty" firestore:"updatedAt,omitempty"`
	Plan      Plan       `json:"plan" firestore:"plan"`
	Stripe    StripeInfo `json:"stripe" firestore:"stripe"`
	Usage     Usage      `json:"usage" firestore:"usage"`
	Trial     Trial      `json:"trial" firestore:"trial"`
}

// IsPro reports whether the account is on the paid plan. Unknown values count as FREE.
func (a *Account) IsPro() bool {
	return strings.EqualFold(string(a.Plan), string(PlanPro))
}

// EffectivePlan returns PRO or FREE, never an unknown value.
func (a *Account) EffectivePlan() Plan {
	if a.IsPro() {
		return PlanPro
	}
	return PlanFree
}

// Clone returns a deep copy so store internals are never shared with callers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Trial.Events != nil {
		c.Trial.Events = append([]int64(nil), a.Trial.Events...)
	}
	return &c
}

// StripeInfo mirrors the billing provider state of an account.
type StripeInfo struct {
	Mode              string `json:"mode" firestore:"mode"`
	CustomerID        string `json:"customerId" firestore:"customerId"`
	SubscriptionID    string `json:"subscriptionId" firestore:"subscriptionId"`
	Status            string `json:"status" firestore:"status"`
	CurrentPeriodEnd  int64  `json:"currentPeriodEnd" firestore:"currentPeriodEnd"`
	CancelAt          int64  `json:"cancelAt" firestore:"cancelAt"`
	CancelAtPeriodEnd bool   `json:"cancelAtPeriodEnd" firestore:"cancelAtPeriodEnd"`
}

// Usage is the monthly quota bucket.
type Usage struct {
	MonthKey  string `json:"monthKey" firestore:"monthKey"`
	Used      int    `json:"used" firestore:"used"`
	BoostUsed int    `json:"boostUsed" firestore:"boostUsed"`
	LastTs    int64  `json:"lastTs" firestore:"lastTs"`
}

// Trial keeps the timestamps of server-key trial generations, newest first.
type Trial struct {
	Events []int64 `json:"events" firestore:"events"`
}

// Snapshot is the full persisted document of the file store.
type Snapshot struct {
	Accounts  map[string]*Account `json:"accounts"`
	Customers map[string]string   `json:"customers"`
}
