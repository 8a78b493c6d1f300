package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDay(t *testing.T, raw string, loc *time.Location) time.Time {
	t.Helper()
	d, err := ParseDay(raw, loc)
	require.NoError(t, err)
	return d
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		raw    string
		want   Tier
		wantOK bool
	}{
		{"premium", TierPremium, true},
		{"  Destacado ", TierDestacado, true},
		{"STANDARD", TierStandard, true},
		{"gold", TierStandard, false},
		{"", TierStandard, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseTier(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestTierRankOrder(t *testing.T) {
	assert.Less(t, TierStandard.Rank(), TierDestacado.Rank())
	assert.Less(t, TierDestacado.Rank(), TierPremium.Rank())
	assert.Equal(t, TierStandard.Rank(), Tier("bogus").Rank())
	assert.Equal(t, TierStandard, MaxTier(Tier("bogus"), Tier("other")))
}

func TestEffectiveTier(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, loc)

	slot := func(tier Tier, start, end string, active bool) Slot {
		return Slot{Type: tier, Start: mustDay(t, start, loc), End: mustDay(t, end, loc), Active: active}
	}

	tests := []struct {
		name  string
		base  Tier
		slots []Slot
		want  Tier
	}{
		{"no slots keeps base", TierDestacado, nil, TierDestacado},
		{"active premium slot lifts standard", TierStandard, []Slot{slot(TierPremium, "2026-03-01", "2026-03-31", true)}, TierPremium},
		{"slot never lowers base", TierPremium, []Slot{slot(TierDestacado, "2026-03-01", "2026-03-31", true)}, TierPremium},
		{"inactive slot ignored", TierStandard, []Slot{slot(TierPremium, "2026-03-01", "2026-03-31", false)}, TierStandard},
		{"expired slot ignored", TierStandard, []Slot{slot(TierPremium, "2026-02-01", "2026-03-09", true)}, TierStandard},
		{"future slot ignored", TierStandard, []Slot{slot(TierPremium, "2026-03-11", "2026-04-11", true)}, TierStandard},
		{"window start is inclusive", TierStandard, []Slot{slot(TierDestacado, "2026-03-10", "2026-03-20", true)}, TierDestacado},
		{"window end is inclusive", TierStandard, []Slot{slot(TierDestacado, "2026-03-01", "2026-03-10", true)}, TierDestacado},
		{"highest of several wins", TierStandard, []Slot{
			slot(TierDestacado, "2026-03-01", "2026-03-31", true),
			slot(TierPremium, "2026-03-05", "2026-03-15", true),
		}, TierPremium},
		{"unknown base is standard", Tier("gold"), nil, TierStandard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveTier(tt.base, tt.slots, now, loc))
		})
	}
}

func TestActiveOnUsesLocationDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	s := Slot{Type: TierPremium, Start: mustDay(t, "2026-03-10", loc), End: mustDay(t, "2026-03-10", loc), Active: true}

	// 02:00 UTC on the 11th is still the 10th in Santiago.
	late := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	assert.True(t, s.ActiveOn(late, loc))
	assert.False(t, s.ActiveOn(late, time.UTC))
}

func TestWindowsOverlap(t *testing.T) {
	d := func(raw string) time.Time { return mustDay(t, raw, time.UTC) }
	assert.True(t, WindowsOverlap(d("2026-01-01"), d("2026-01-10"), d("2026-01-10"), d("2026-01-20")))
	assert.True(t, WindowsOverlap(d("2026-01-05"), d("2026-01-06"), d("2026-01-01"), d("2026-01-31")))
	assert.False(t, WindowsOverlap(d("2026-01-01"), d("2026-01-09"), d("2026-01-10"), d("2026-01-20")))
}
