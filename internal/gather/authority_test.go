package gather

import (
	"testing"

	"github.com/ppiankov/nocap/internal/model"
)

func TestAuthorityClassifier_Classify(t *testing.T) {
	classifier := NewAuthorityClassifier(&model.AuthorityConfig{
		PrimaryDomains:   []string{"who.int", "doi.org"},
		SecondaryDomains: []string{"reuters.com", "wikipedia.org"},
		DomainMap:        map[string]string{"blog.reuters.com": "tertiary"},
	})

	tests := []struct {
		url      string
		expected model.AuthorityTier
		desc     string
	}{
		{"https://www.who.int/news", model.TierPrimary, "primary subdomain"},
		{"https://doi.org/10.1234/x", model.TierPrimary, "primary exact"},
		{"https://www.reuters.com/fact-check/x", model.TierSecondary, "secondary subdomain"},
		{"https://en.wikipedia.org/wiki/Apollo_11", model.TierSecondary, "wikipedia"},
		{"https://blog.reuters.com/post", model.TierTertiary, "explicit domain map wins"},
		{"https://www.nasa.gov/apollo", model.TierPrimary, ".gov TLD"},
		{"https://www.ox.ac.uk/research", model.TierPrimary, ".ac.uk"},
		{"https://www.gov.uk/guidance", model.TierPrimary, "gov. second-level"},
		{"https://gov.example.com/x", model.TierTertiary, "gov label alone"},
		{"https://notreuters.com/x", model.TierTertiary, "suffix without dot boundary"},
		{"https://WWW.WHO.INT:443/x", model.TierPrimary, "case and port"},
		{"not a url", model.TierTertiary, "unparseable"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := classifier.Classify(tt.url); got != tt.expected {
				t.Errorf("Classify(%s) = %v, want %v", tt.url, got, tt.expected)
			}
		})
	}
}

func TestAuthorityClassifier_Rank(t *testing.T) {
	classifier := NewAuthorityClassifier(nil)

	results := []model.WebResult{
		{URL: "https://someblog.example/moon"},
		{URL: "https://www.reuters.com/moon"},
		{URL: "https://forum.example/moon"},
		{URL: "https://www.nasa.gov/apollo"},
		{URL: "https://apnews.com/moon"},
	}

	ranked := classifier.Rank(results)

	want := []string{
		"https://www.nasa.gov/apollo",
		"https://www.reuters.com/moon",
		"https://apnews.com/moon",
		"https://someblog.example/moon",
		"https://forum.example/moon",
	}
	for i, u := range want {
		if ranked[i].URL != u {
			t.Errorf("Rank()[%d] = %s, want %s", i, ranked[i].URL, u)
		}
	}
	if ranked[0].Authority != model.TierPrimary || ranked[4].Authority != model.TierTertiary {
		t.Errorf("Expected authority to be set on ranked results")
	}
	if results[0].Authority != model.TierUnknown {
		t.Error("Rank must not modify its input")
	}
}
