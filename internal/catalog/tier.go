package catalog

import (
	"strings"
	"time"
)

// Tier is the visibility class of a provider, house or service.
type Tier string

const (
	TierStandard  Tier = "standard"
	TierDestacado Tier = "destacado"
	TierPremium   Tier = "premium"
)

const DateLayout = "2006-01-02"

var tierRank = map[Tier]int{
	TierStandard:  1,
	TierDestacado: 2,
	TierPremium:   3,
}

// ParseTier normalises a stored or submitted tier. ok is false for values
// outside the known set; the returned tier is then standard.
func ParseTier(raw string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierRank[t]; ok {
		return t, true
	}
	return TierStandard, false
}

// Rank orders tiers. Unknown values rank as standard.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return tierRank[TierStandard]
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	if !a.Valid() {
		return TierStandard
	}
	return a
}

// Slot is a time bounded homepage placement. Start and End are whole days
// and the window is inclusive on both ends.
type Slot struct {
	Type   Tier
	Start  time.Time
	End    time.Time
	Active bool
}

// Day truncates t to midnight in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ParseDay reads a YYYY-MM-DD date in loc.
func ParseDay(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, strings.TrimSpace(raw), loc)
}

// ActiveOn reports whether the slot covers the calendar day of d in loc.
func (s Slot) ActiveOn(d time.Time, loc *time.Location) bool {
	if !s.Active {
		return false
	}
	day := Day(d, loc)
	start := Day(s.Start, loc)
	end := Day(s.End, loc)
	return !day.Before(start) && !day.After(end)
}

// EffectiveTier is the highest of base and every slot active on now.
func EffectiveTier(base Tier, slots []Slot, now time.Time, loc *time.Location) Tier {
	best := MaxTier(TierStandard, base)
	for _, s := range slots {
		if s.ActiveOn(now, loc) {
			best = MaxTier(best, s.Type)
		}
	}
	return best
}

// WindowsOverlap reports whether two inclusive day windows share a day.
func WindowsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}
