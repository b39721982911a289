package normalize

import (
	"testing"

	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/stretchr/testify/assert"
)

func TestName_Person(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"lowercases and trims", "  John Smith  ", "john smith"},
		{"strips punctuation", "O'Brien, Patrick", "o brien patrick"},
		{"collapses whitespace", "John\t\tSmith", "john smith"},
		{"drops digits for persons", "John Smith 3rd", "john smith rd"},
		{"empty input", "", ""},
		{"whitespace only", "   \t  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Name(tt.raw, entity.KindPerson))
		})
	}
}

func TestName_Vendor(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"strips single legal suffix", "Ferguson Supply Inc.", "ferguson supply"},
		{"strips suffix without period", "Ferguson Supply Inc", "ferguson supply"},
		{"strips stacked suffixes", "Acme Trading Co Ltd", "acme trading"},
		{"keeps digits for vendors", "84 Lumber", "84 lumber"},
		{"suffix-only name survives", "Company", "company"},
		{"suffix mid-name is kept", "Coastal Co Op Supply", "coastal co op supply"},
		{"suffix in parentheses", "Ferguson Supply (Inc)", "ferguson supply"},
		{"suffix behind comma", "Smith & Sons, LLC", "smith sons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Name(tt.raw, entity.KindVendor))
		})
	}
}

func TestName_Idempotent(t *testing.T) {
	inputs := []struct {
		raw  string
		kind entity.Kind
	}{
		{"  John  SMITH ", entity.KindPerson},
		{"O'Brien, Patrick", entity.KindPerson},
		{"Ferguson Supply Inc.", entity.KindVendor},
		{"Ferguson Supply (Inc)", entity.KindVendor},
		{"Acme Trading Co Ltd", entity.KindVendor},
		{"Acme Co,", entity.KindVendor},
		{"Smith & Sons, LLC", entity.KindVendor},
		{"84 Lumber", entity.KindVendor},
	}

	for _, in := range inputs {
		once := Name(in.raw, in.kind)
		twice := Name(once, in.kind)
		assert.Equal(t, once, twice, "normalizing %q twice must be stable", in.raw)
	}
}

func TestName_PunctuatedSuffixesShareKey(t *testing.T) {
	// However a legal suffix is punctuated, spellings of the same vendor
	// must land on one canonical key or the registry splits the profile.
	spellings := []string{
		"Ferguson Supply",
		"Ferguson Supply Inc",
		"Ferguson Supply Inc.",
		"Ferguson Supply (Inc)",
		"Ferguson Supply, Inc.",
	}

	for _, raw := range spellings {
		assert.Equal(t, "ferguson supply", Name(raw, entity.KindVendor), "raw %q", raw)
	}
}

func TestName_DifferentKindsDiffer(t *testing.T) {
	// The same raw string can normalize differently per kind; vendor
	// keys keep digits and drop legal suffixes.
	raw := "Area 51 Concrete Inc"
	assert.Equal(t, "area concrete inc", Name(raw, entity.KindPerson))
	assert.Equal(t, "area 51 concrete", Name(raw, entity.KindVendor))
}
