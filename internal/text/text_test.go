package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitlify(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		disableAcro bool
		want        string
	}{
		{name: "single token is an acronym", input: "dhhr", want: "DHHR"},
		{name: "acronym detection disabled", input: "dhhr", disableAcro: true, want: "Dhhr"},
		{name: "connectors lowered mid-string", input: "department of health and human resources", want: "Department of Health and Human Resources"},
		{name: "connector kept at start", input: "of counsel", want: "Of Counsel"},
		{name: "possessive survives", input: "governor's office", want: "Governor's Office"},
		{name: "hyphens become spaces", input: "gazette-mail", want: "Gazette Mail"},
		{name: "quote runs collapse", input: "governor''s office", want: "Governor's Office"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Titlify(tc.input, tc.disableAcro))
		})
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "wv-state-police", Slugify("WV State Police"))
	assert.Equal(t, "health-human-resources", Slugify("Health & Human/Resources"))
	assert.Equal(t, "city-of-charleston", Slugify("  City of   Charleston  "))
	assert.Equal(t, "", Slugify("&&&"))

	// Slugifying a slug is a no-op.
	slug := Slugify(Titlify("wv state police", false))
	assert.Equal(t, slug, Slugify(slug))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a \t b\n c "))
	assert.Equal(t, "", CollapseWhitespace("   "))
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "wvdeptofhealthhumanresources", NormalizeToken("WV Dept. of Health & Human Resources"))
	// Same token for spellings differing only in punctuation and case.
	assert.Equal(t, NormalizeToken("WV Dept of Health and Human Resources"),
		NormalizeToken("wv dept OF health AND human resources"))
}
