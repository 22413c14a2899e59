package fields

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVariants(t *testing.T) {
	core, err := Default(VariantNERIS)
	require.NoError(t, err)
	fire, err := Default(VariantFire)
	require.NoError(t, err)
	all, err := Default(VariantNERISFire)
	require.NoError(t, err)

	assert.Equal(t, core.Len()+fire.Len(), all.Len())
	assert.Equal(t, "incident_neris_id", all.Names()[0])
	assert.Equal(t, "outside_fire_acres_burned", all.Names()[all.Len()-1])
	assert.True(t, core.Has("incident_location"))
	assert.False(t, core.Has("structure_fire_cause"))
	assert.True(t, fire.Has("structure_fire_cause"))
	assert.Equal(t, []string{"neris", "fire", "neris_fire"}, Variants())
}

func TestDefaultEmptyVariantIsExtended(t *testing.T) {
	cat, err := Default("")
	require.NoError(t, err)
	assert.Equal(t, VariantNERISFire, cat.Variant())
}

func TestDefaultUnknownVariant(t *testing.T) {
	_, err := Default("nfirs")
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestDescriptionsCarryFormatHints(t *testing.T) {
	cat, err := Default(VariantNERIS)
	require.NoError(t, err)
	desc, ok := cat.Describe("fire")
	require.True(t, ok)
	assert.Contains(t, desc, "'true' or 'false' as strings")
	desc, _ = cat.Describe("incident_displaced_number")
	assert.Contains(t, desc, "integer as string")
	desc, _ = cat.Describe("incident_actions_taken")
	assert.Contains(t, desc, "'; '")
	assert.Len(t, cat.Descriptions(), cat.Len())
}

func TestNewRejectsDuplicatesAndBlanks(t *testing.T) {
	_, err := New("x", []Descriptor{{Name: "a"}, {Name: " a "}})
	require.Error(t, err)
	_, err = New("x", []Descriptor{{Name: "  "}})
	require.Error(t, err)
	_, err = New("x", nil)
	require.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestNamesIsACopy(t *testing.T) {
	cat, err := Default(VariantFire)
	require.NoError(t, err)
	names := cat.Names()
	names[0] = "mutated"
	assert.NotEqual(t, "mutated", cat.Names()[0])
}

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema("")
	require.NoError(t, err)
	assert.Equal(t, SchemaConfidence, s)
	s, err = ParseSchema(" Simple ")
	require.NoError(t, err)
	assert.Equal(t, SchemaSimple, s)
	_, err = ParseSchema("xml")
	require.Error(t, err)
}

func TestParseCatalogFile(t *testing.T) {
	doc := []byte(`
variant: dispatch_min
fields:
  - name: incident_location
    description: |
      Address of the incident
      (street, city).
  - name: medical
    description: "'true'/'false' as strings"
`)
	cat, err := Parse(doc, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "dispatch_min", cat.Variant())
	assert.Equal(t, []string{"incident_location", "medical"}, cat.Names())
	desc, _ := cat.Describe("incident_location")
	assert.Equal(t, "Address of the incident (street, city).", desc)
}

func TestParseCatalogFileRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"no fields":     "variant: x\n",
		"empty fields":  "fields: []\n",
		"numeric name":  "fields:\n  - name: 12\n",
		"unknown key":   "fields:\n  - name: a\n    format: text\n",
		"bad name":      "fields:\n  - name: \"has space\"\n",
		"duplicate":     "fields:\n  - name: a\n  - name: a\n",
		"not a mapping": "- a\n- b\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), "x")
			require.Error(t, err)
		})
	}
}

func TestManagerReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  - name: a\n"), 0o644))

	m, err := NewManager(path, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, m.Current().Names())
	assert.Equal(t, "catalog", m.Current().Variant())

	require.NoError(t, os.WriteFile(path, []byte("fields:\n  - name: a\n  - name: b\n"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	assert.Equal(t, []string{"a", "b"}, m.Current().Names())

	// A broken edit keeps the last good catalog.
	require.NoError(t, os.WriteFile(path, []byte("fields: nope\n"), 0o644))
	later := future.Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
	assert.Equal(t, []string{"a", "b"}, m.Current().Names())
}

func TestManagerWithoutFileUsesVariant(t *testing.T) {
	m, err := NewManager("", VariantNERIS, nil)
	require.NoError(t, err)
	assert.Equal(t, VariantNERIS, m.Current().Variant())

	_, err = NewManager("", "bogus", nil)
	require.ErrorIs(t, err, ErrUnknownVariant)
}
