package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findViolation(vs []Violation, checkID string) *Violation {
	for i := range vs {
		if vs[i].CheckID == checkID {
			return &vs[i]
		}
	}
	return nil
}

func TestAuthorityV1(t *testing.T) {
	t.Run("Recommendation Language", func(t *testing.T) {
		vs := AuthorityV1.Scan("I recommend trying the evening session")
		v := findViolation(vs, "AUTH-RECOMMENDATION")
		require.NotNil(t, v)
		assert.Equal(t, SeverityError, v.Severity)
		assert.Equal(t, "authority-v1", v.TableVersion)
	})

	t.Run("Case Insensitive", func(t *testing.T) {
		vs := AuthorityV1.Scan("YOU SHOULD do this")
		assert.NotNil(t, findViolation(vs, "AUTH-RECOMMENDATION"))
	})

	t.Run("Selection Keywords", func(t *testing.T) {
		vs := AuthorityV1.Scan("the selected_action was good")
		assert.NotNil(t, findViolation(vs, "AUTH-SELECTION-KEYWORD"))
	})

	t.Run("Guardrail Commentary", func(t *testing.T) {
		vs := AuthorityV1.Scan("despite the quiet hours rule")
		assert.NotNil(t, findViolation(vs, "AUTH-GUARDRAIL-COMMENTARY"))
	})

	t.Run("Agency Claims", func(t *testing.T) {
		vs := AuthorityV1.Scan("I decided this was best for you")
		assert.NotNil(t, findViolation(vs, "AUTH-AGENCY-CLAIM"))
	})

	t.Run("Clean Text Passes", func(t *testing.T) {
		vs := AuthorityV1.Scan("A gentle reminder to check in when you have a moment.")
		assert.Empty(t, vs)
	})

	t.Run("Word Boundary", func(t *testing.T) {
		vs := AuthorityV1.Scan("steadfast progress")
		assert.Nil(t, findViolation(vs, "AUTH-RECOMMENDATION"))
	})
}

func TestProhibitionV1(t *testing.T) {
	t.Run("Urgency Manipulation", func(t *testing.T) {
		vs := ProhibitionV1.Scan("Act now before it is too late!")
		assert.NotNil(t, findViolation(vs, "PROHIB-URGENCY"))
	})

	t.Run("Medical Claims", func(t *testing.T) {
		vs := ProhibitionV1.Scan("this will cure your insomnia")
		assert.NotNil(t, findViolation(vs, "PROHIB-MEDICAL-CLAIM"))
	})

	t.Run("PII Email Redacted", func(t *testing.T) {
		vs := ProhibitionV1.Scan("contact alice@example.com for details")
		v := findViolation(vs, "PROHIB-PII-EMAIL")
		require.NotNil(t, v)
		assert.Equal(t, "[REDACTED]", v.MatchedText)
		assert.NotContains(t, v.MatchedText, "alice")
	})

	t.Run("PII SSN Redacted", func(t *testing.T) {
		vs := ProhibitionV1.Scan("ssn 123-45-6789")
		v := findViolation(vs, "PROHIB-PII-SSN")
		require.NotNil(t, v)
		assert.Equal(t, "[REDACTED]", v.MatchedText)
	})

	t.Run("PII Phone Redacted", func(t *testing.T) {
		vs := ProhibitionV1.Scan("call (555) 123-4567")
		v := findViolation(vs, "PROHIB-PII-PHONE")
		require.NotNil(t, v)
		assert.Equal(t, "[REDACTED]", v.MatchedText)
	})

	t.Run("Clean Text Passes", func(t *testing.T) {
		vs := ProhibitionV1.Scan("A calm morning walk fits your routine today.")
		assert.Empty(t, vs)
	})
}

func TestLookup(t *testing.T) {
	tbl, err := Lookup("authority-v1")
	require.NoError(t, err)
	assert.Equal(t, AuthorityV1, tbl)

	_, err = Lookup("authority-v99")
	assert.Error(t, err)
}
