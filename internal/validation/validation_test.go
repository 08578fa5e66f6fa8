package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSubmit(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		field string
	}{
		{"tiktok", "https://vm.tiktok.com/ZMabc123/", ""},
		{"website", "https://www.marmiton.org/recettes/crepes.aspx", ""},
		{"ftp is well formed", "ftp://example.com/recipe", ""},
		{"empty", "", "url"},
		{"blank", "   ", "url"},
		{"relative", "recettes/crepes", "url"},
		{"too long", "https://example.com/" + strings.Repeat("a", MaxURLLength), "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateSubmit(SubmitRequest{URL: tt.url})
			if tt.field == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Contains(t, errs.Error(), "url: ")
		})
	}
}

func TestParseLimit(t *testing.T) {
	n, errs := ParseLimit("", 50)
	assert.Empty(t, errs)
	assert.Equal(t, 50, n)

	n, errs = ParseLimit("10", 50)
	assert.Empty(t, errs)
	assert.Equal(t, 10, n)

	for _, raw := range []string{"0", "-1", "abc", "201"} {
		_, errs = ParseLimit(raw, 50)
		require.Len(t, errs, 1, raw)
		assert.Equal(t, "limit", errs[0].Field)
	}
}

func TestParseBool(t *testing.T) {
	b, errs := ParseBool("completed_only", "", true)
	assert.Empty(t, errs)
	assert.True(t, b)

	b, errs = ParseBool("completed_only", "false", true)
	assert.Empty(t, errs)
	assert.False(t, b)

	_, errs = ParseBool("completed_only", "maybe", true)
	require.Len(t, errs, 1)
	assert.Equal(t, "completed_only", errs[0].Field)
}
