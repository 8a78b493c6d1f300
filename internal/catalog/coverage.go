package catalog

import "sort"

type DeltaOp string

const (
	DeltaInclude DeltaOp = "include"
	DeltaExclude DeltaOp = "exclude"
)

func (op DeltaOp) Valid() bool {
	return op == DeltaInclude || op == DeltaExclude
}

type CoverageDelta struct {
	RegionCode string  `json:"region_code" db:"region_code"`
	Op         DeltaOp `json:"op" db:"op"`
}

const (
	CoverageSourceService  = "service"
	CoverageSourceProvider = "provider"
)

// BaseCoverage picks the service's own regions when it has any, otherwise
// the provider's, and reports which one was used.
func BaseCoverage(service, provider []string) ([]string, string) {
	if len(service) > 0 {
		return service, CoverageSourceService
	}
	return provider, CoverageSourceProvider
}

// EffectiveCoverage applies deltas to base in order. A later delta for the
// same region replaces an earlier one. The result is sorted by catalog order,
// with codes outside the catalog last in lexical order.
func EffectiveCoverage(base []string, deltas []CoverageDelta) []string {
	set := make(map[string]bool, len(base)+len(deltas))
	for _, c := range base {
		set[c] = true
	}
	for _, d := range deltas {
		switch d.Op {
		case DeltaInclude:
			set[d.RegionCode] = true
		case DeltaExclude:
			delete(set, d.RegionCode)
		}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	SortRegionCodes(out)
	return out
}

// CollapseDeltas keeps the last op per region, which is what the store holds.
func CollapseDeltas(deltas []CoverageDelta) []CoverageDelta {
	last := make(map[string]int, len(deltas))
	for i, d := range deltas {
		last[d.RegionCode] = i
	}
	out := make([]CoverageDelta, 0, len(last))
	for i, d := range deltas {
		if last[d.RegionCode] == i {
			out = append(out, d)
		}
	}
	return out
}

func SortRegionCodes(codes []string) {
	order := make(map[string]int)
	for i, r := range Regions() {
		order[r.Code] = i
	}
	sort.SliceStable(codes, func(i, j int) bool {
		oi, iok := order[codes[i]]
		oj, jok := order[codes[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return codes[i] < codes[j]
		}
	})
}
