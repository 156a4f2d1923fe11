package snapshot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Title: "Login",
		URL:   "https://example.test/login",
		Clickables: []Element{
			{ID: 0, Tag: "button", Attrs: map[string]string{"id": "submit", "type": "submit"}, Text: "Sign in"},
			{ID: 1, Tag: "a", Attrs: map[string]string{"href": "/forgot"}, Text: "Forgot password?"},
		},
		Fillables: []Element{
			{ID: 2, Tag: "input", Attrs: map[string]string{"name": "email", "type": "email"}, Accessible: "Email", CurrentValue: ""},
		},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := sampleSnapshot()
	b := sampleSnapshot()

	// Rebuild one attribute map in a different insertion order; the
	// canonical form must not care.
	b.Clickables[0].Attrs = map[string]string{"type": "submit", "id": "submit"}

	fpA := Fingerprint(a)
	fpB := Fingerprint(b)
	require.Equal(t, fpA, fpB)
	assert.Len(t, fpA, 64, "sha256 hex digest")
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(sampleSnapshot())

	cases := map[string]func(*Snapshot){
		"title":       func(s *Snapshot) { s.Title = "Dashboard" },
		"url":         func(s *Snapshot) { s.URL = "https://example.test/home" },
		"text":        func(s *Snapshot) { s.Clickables[0].Text = "Log in" },
		"attr":        func(s *Snapshot) { s.Clickables[1].Attrs["href"] = "/reset" },
		"value":       func(s *Snapshot) { s.Fillables[0].CurrentValue = "x@y.z" },
		"extra":       func(s *Snapshot) { s.Clickables = append(s.Clickables, Element{ID: 3, Tag: "button"}) },
		"list switch": func(s *Snapshot) { s.Clickables, s.Fillables = s.Fillables, s.Clickables },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := sampleSnapshot()
			mutate(&s)
			assert.NotEqual(t, base, Fingerprint(s))
		})
	}
}

func TestFingerprintIgnoresScreenshot(t *testing.T) {
	s := sampleSnapshot()
	a := Observation{Snapshot: s, Fingerprint: Fingerprint(s), ScreenshotHash: "aaaa"}
	b := Observation{Snapshot: s, Fingerprint: Fingerprint(s), ScreenshotHash: "bbbb"}
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestClampBounds(t *testing.T) {
	s := Snapshot{Title: "big", URL: "https://example.test"}
	for i := 0; i < MaxElements+40; i++ {
		s.Clickables = append(s.Clickables, Element{
			ID:   i,
			Tag:  "a",
			Text: strings.Repeat("t", MaxTextLen+50),
			Attrs: map[string]string{
				"class": strings.Repeat("c", MaxTextLen+50),
			},
		})
	}
	clamp(&s)

	require.Len(t, s.Clickables, MaxElements)
	assert.Len(t, s.Clickables[0].Text, MaxTextLen)
	assert.Len(t, s.Clickables[0].Attrs["class"], MaxTextLen)
}

func TestSummary(t *testing.T) {
	s := sampleSnapshot()
	sum := s.Summary()
	assert.Contains(t, sum, "Login")
	assert.Contains(t, sum, "clickables:2")
	assert.Contains(t, sum, "fillables:1")
}
