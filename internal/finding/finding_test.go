package finding

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryWeights(t *testing.T) {
	tests := []struct {
		category Category
		weight   int
	}{
		{CategoryXSSStored, 10},
		{CategoryXSSReflected, 7},
		{CategoryXSSDOM, 5},
		{CategorySSRFMetadata, 10},
		{CategorySSRFInternal, 7},
		{CategorySSRFLocal, 5},
		{CategorySQLiError, 10},
		{CategoryCSRFRateLimit, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			assert.Equal(t, tt.weight, tt.category.Weight())
		})
	}
}

func TestEveryCategoryHasOneDetectorAndCheck(t *testing.T) {
	for c := range categories {
		assert.NotEmpty(t, c.Detector(), c)
		assert.NotEmpty(t, c.Check(), c)
		assert.Positive(t, c.Weight(), c)
	}
	xss := 0
	for c := range categories {
		if c.Detector() == DetectorXSS {
			xss++
		}
	}
	assert.Equal(t, 3, xss)
	assert.False(t, Category("nope").Known())
}

func TestNew_DerivesSeverityFromCategory(t *testing.T) {
	f := New(CategorySSRFMetadata, "Cloud metadata SSRF", "http://t/fetch", "url", "http://169.254.169.254/", "ami-id\ninstance-id")
	assert.Equal(t, Critical, f.Severity)
	assert.Equal(t, DetectorSSRF, f.Detector)
	assert.Equal(t, "ami-id instance-id", f.Evidence)
	assert.Equal(t, 10, f.Weight())
	assert.Contains(t, f.String(), "[url]")

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"severity":"Critical"`)

	assert.Panics(t, func() { New("made-up", "x", "y", "", "", "") })
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("é", 300)
	out := Excerpt(long, 11)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.LessOrEqual(t, len(out), 14)
	assert.Equal(t, "a b", Excerpt(" a \n\t b ", 10))
}

func TestWindow(t *testing.T) {
	s := "0123456789"
	assert.Equal(t, "234567", Window(s, 4, 6, 2))
	assert.Equal(t, s, Window(s, 0, 10, 5))
}
