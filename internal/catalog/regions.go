package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var regionsYAML []byte

type Region struct {
	Code    string `yaml:"code" json:"code"`
	Name    string `yaml:"name" json:"name"`
	Ordinal string `yaml:"ordinal" json:"ordinal"`
}

var (
	regionsOnce sync.Once
	regionList  []Region
	regionIndex map[string]Region
	regionsErr  error
)

func loadRegions() {
	var doc struct {
		Regions []Region `yaml:"regions"`
	}
	if err := yaml.Unmarshal(regionsYAML, &doc); err != nil {
		regionsErr = fmt.Errorf("parse regions catalog: %w", err)
		return
	}
	regionIndex = make(map[string]Region, len(doc.Regions))
	for _, r := range doc.Regions {
		r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
		if _, dup := regionIndex[r.Code]; dup {
			regionsErr = fmt.Errorf("duplicate region code %q", r.Code)
			return
		}
		regionIndex[r.Code] = r
		regionList = append(regionList, r)
	}
}

// Regions returns the catalog in north to south order.
func Regions() []Region {
	regionsOnce.Do(loadRegions)
	out := make([]Region, len(regionList))
	copy(out, regionList)
	return out
}

func RegionsErr() error {
	regionsOnce.Do(loadRegions)
	return regionsErr
}

// LookupRegion finds a region by code, case-insensitively.
func LookupRegion(code string) (Region, bool) {
	regionsOnce.Do(loadRegions)
	r, ok := regionIndex[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// NormalizeRegionCodes upper-cases, dedupes and validates a list of codes,
// keeping first-seen order. Unknown codes are returned separately.
func NormalizeRegionCodes(codes []string) (valid []string, unknown []string) {
	seen := make(map[string]bool, len(codes))
	valid = make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		if _, ok := LookupRegion(c); !ok {
			unknown = append(unknown, c)
			continue
		}
		valid = append(valid, c)
	}
	return valid, unknown
}
