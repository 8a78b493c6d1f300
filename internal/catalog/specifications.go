package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SpecItem is one label/value line of a house specification sheet.
type SpecItem struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type SpecGroup struct {
	Name  string     `json:"name"`
	Items []SpecItem `json:"items"`
}

var ErrInvalidSpecifications = errors.New("specifications must be a list of groups or an object of groups")

// NormalizeSpecifications accepts either the list form
// [{name, items:[{label, value}]}] or the object form {group: {label: value}}
// and returns the list form. Object keys are sorted. Items with empty labels
// and groups left without items are dropped.
func NormalizeSpecifications(raw json.RawMessage) ([]SpecGroup, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []SpecGroup{}, nil
	}

	switch trimmed[0] {
	case '[':
		var groups []struct {
			Name  string            `json:"name"`
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(raw, &groups); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpecifications, err)
		}
		out := make([]SpecGroup, 0, len(groups))
		for _, g := range groups {
			group := SpecGroup{Name: strings.TrimSpace(g.Name)}
			for _, rawItem := range g.Items {
				var item struct {
					Label string `json:"label"`
					Value any    `json:"value"`
				}
				if err := json.Unmarshal(rawItem, &item); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidSpecifications, err)
				}
				group.add(item.Label, item.Value)
			}
			if len(group.Items) > 0 {
				out = append(out, group)
			}
		}
		return out, nil

	case '{':
		var groups map[string]map[string]any
		if err := json.Unmarshal(raw, &groups); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpecifications, err)
		}
		names := make([]string, 0, len(groups))
		for name := range groups {
			names = append(names, name)
		}
		sort.Strings(names)

		out := make([]SpecGroup, 0, len(names))
		for _, name := range names {
			labels := make([]string, 0, len(groups[name]))
			for label := range groups[name] {
				labels = append(labels, label)
			}
			sort.Strings(labels)

			group := SpecGroup{Name: strings.TrimSpace(name)}
			for _, label := range labels {
				group.add(label, groups[name][label])
			}
			if len(group.Items) > 0 {
				out = append(out, group)
			}
		}
		return out, nil
	}
	return nil, ErrInvalidSpecifications
}

func (g *SpecGroup) add(label string, value any) {
	label = strings.TrimSpace(label)
	if label == "" {
		return
	}
	g.Items = append(g.Items, SpecItem{Label: label, Value: specValueString(value)})
}

func specValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "Sí"
		}
		return "No"
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", t), "0"), ".")
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
