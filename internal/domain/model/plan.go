package model

import (
	"strings"
	"time"
)

// Tier is the feature level a plan grants. Higher rank means more features.
type Tier string

const (
	TierFree     Tier = "free"
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// Rank orders tiers for upgrade/downgrade decisions. Unknown tiers rank 0.
func (t Tier) Rank() int {
	switch t {
	case TierBasic:
		return 1
	case TierStandard:
		return 2
	case TierPro:
		return 3
	default:
		return 0
	}
}

// Duration is the billing cadence encoded in the plan id suffix.
type Duration string

const (
	DurationMonthly   Duration = "monthly"
	DurationQuarterly Duration = "quarterly"
	DurationYearly    Duration = "yearly"
)

// IntervalMonths returns the number of months in one billing period.
func (d Duration) IntervalMonths() int {
	switch d {
	case DurationQuarterly:
		return 3
	case DurationYearly:
		return 12
	default:
		return 1
	}
}

// AddTo returns the end of a billing period starting at t.
func (d Duration) AddTo(t time.Time) time.Time {
	return t.AddDate(0, d.IntervalMonths(), 0)
}

// ParsePlanID splits an id such as "standard_quarterly" into tier and duration.
func ParsePlanID(planID string) (Tier, Duration, bool) {
	i := strings.LastIndexByte(planID, '_')
	if i <= 0 || i == len(planID)-1 {
		return "", "", false
	}
	tier := Tier(planID[:i])
	dur := Duration(planID[i+1:])
	if tier.Rank() == 0 {
		return "", "", false
	}
	switch dur {
	case DurationMonthly, DurationQuarterly, DurationYearly:
	default:
		return "", "", false
	}
	return tier, dur, true
}

// Features is the entitlement bundle of a tier.
type Features struct {
	AITutor            bool `json:"aiTutor"`
	DailyConversations int  `json:"dailyConversations"`
	VoiceSessions      bool `json:"voiceSessions"`
	PronunciationCoach bool `json:"pronunciationCoach"`
	OfflinePacks       bool `json:"offlinePacks"`
}

// PlanSnapshot freezes plan data at order time so later catalog edits do not
// change what the user bought.
type PlanSnapshot struct {
	PlanID         string   `json:"planId"`
	Name           string   `json:"name"`
	Tier           Tier     `json:"tier"`
	Duration       Duration `json:"duration"`
	IntervalCount  int      `json:"intervalCount"`
	Currency       string   `json:"currency"`
	OriginalAmount int64    `json:"originalAmount"` // full plan price, minor units
	Features       Features `json:"features"`
}

// LocaleSignal is what the request tells us about the caller's region.
type LocaleSignal struct {
	Country  string
	Language string
}
