package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSpecificationsListForm(t *testing.T) {
	raw := json.RawMessage(`[
		{"name": "Estructura", "items": [
			{"label": "Muros", "value": "SIP 90mm"},
			{"label": "  ", "value": "ignored"},
			{"label": "Pisos", "value": 2}
		]},
		{"name": "Vacio", "items": [{"label": "", "value": "x"}]}
	]`)

	got, err := NormalizeSpecifications(raw)
	require.NoError(t, err)
	assert.Equal(t, []SpecGroup{
		{Name: "Estructura", Items: []SpecItem{{"Muros", "SIP 90mm"}, {"Pisos", "2"}}},
	}, got)
}

func TestNormalizeSpecificationsObjectFormSorted(t *testing.T) {
	raw := json.RawMessage(`{
		"Terminaciones": {"Ventanas": "PVC termopanel", "Cocina": true},
		"Estructura": {"Muros": "SIP", "Altura": 2.45}
	}`)

	got, err := NormalizeSpecifications(raw)
	require.NoError(t, err)
	assert.Equal(t, []SpecGroup{
		{Name: "Estructura", Items: []SpecItem{{"Altura", "2.45"}, {"Muros", "SIP"}}},
		{Name: "Terminaciones", Items: []SpecItem{{"Cocina", "Sí"}, {"Ventanas", "PVC termopanel"}}},
	}, got)
}

func TestNormalizeSpecificationsEmptyAndInvalid(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		got, err := NormalizeSpecifications(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Empty(t, got)
	}

	for _, raw := range []string{`"text"`, `42`, `[1,2]`, `{"a": 1}`} {
		_, err := NormalizeSpecifications(json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrInvalidSpecifications, raw)
	}
}
