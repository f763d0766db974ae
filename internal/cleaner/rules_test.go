package cleaner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules_Valid(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())
}

func TestParseRules_OverlaysDefaults(t *testing.T) {
	rules, err := ParseRules([]byte(`
null_policy:
  customer_id:
    action: keep
cancellation_prefixes: ["C", "A"]
title_case_descriptions: false
`))
	require.NoError(t, err)

	assert.Equal(t, NullKeep, rules.NullPolicy[ColCustomerID].Action)
	assert.Equal(t, NullDrop, rules.NullPolicy[ColInvoice].Action, "untouched columns keep their defaults")
	assert.Equal(t, NullFill, rules.NullPolicy[ColCountry].Action)
	assert.Equal(t, []string{"C", "A"}, rules.CancellationPrefixes)
	assert.False(t, rules.TitleCaseDescriptions)
	assert.True(t, rules.Deduplicate)
	assert.Equal(t, DefaultRules().ExcludedDescriptions, rules.ExcludedDescriptions)
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"keep on required column", "null_policy:\n  quantity:\n    action: keep\n"},
		{"fill without value", "null_policy:\n  country:\n    action: fill\n"},
		{"unknown action", "null_policy:\n  country:\n    action: guess\n"},
		{"unknown column", "null_policy:\n  colour:\n    action: drop\n"},
		{"no timestamp layouts", "timestamp_layouts: []\n"},
		{"malformed yaml", "null_policy: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidRules)
		})
	}
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)

	p := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(p, []byte("excluded_descriptions: [\"Bank Charges\"]\n"), 0o644))

	rules, err = LoadRules(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bank Charges"}, rules.ExcludedDescriptions)

	_, err = LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_RejectsInvalidRules(t *testing.T) {
	rules := DefaultRules()
	rules.NullPolicy[ColDescription] = ColumnPolicy{Action: NullKeep}

	_, err := New(rules, nil)
	assert.ErrorIs(t, err, ErrInvalidRules)
}
