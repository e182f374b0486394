package gather

import (
	"net/url"
	"sort"
	"strings"

	"github.com/ppiankov/nocap/internal/model"
)

// AuthorityClassifier classifies sources into authority tiers
type AuthorityClassifier struct {
	domainMap    map[string]model.AuthorityTier
	primaryMap   map[string]bool
	secondaryMap map[string]bool
}

// NewAuthorityClassifier creates a new authority classifier
func NewAuthorityClassifier(config *model.AuthorityConfig) *AuthorityClassifier {
	if config == nil {
		config = &model.DefaultConfig().Authority
	}

	classifier := &AuthorityClassifier{
		domainMap:    make(map[string]model.AuthorityTier),
		primaryMap:   make(map[string]bool),
		secondaryMap: make(map[string]bool),
	}

	for host, tier := range config.DomainMap {
		classifier.domainMap[strings.ToLower(host)] = parseTierString(tier)
	}
	for _, domain := range config.PrimaryDomains {
		classifier.primaryMap[strings.ToLower(domain)] = true
	}
	for _, domain := range config.SecondaryDomains {
		classifier.secondaryMap[strings.ToLower(domain)] = true
	}

	return classifier
}

// Classify classifies a URL into an authority tier
func (a *AuthorityClassifier) Classify(rawURL string) model.AuthorityTier {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return model.TierTertiary
	}

	host := strings.ToLower(parsed.Hostname())

	if tier, ok := a.domainMap[host]; ok {
		return tier
	}
	if matchesDomain(host, a.primaryMap) {
		return model.TierPrimary
	}
	if matchesDomain(host, a.secondaryMap) {
		return model.TierSecondary
	}

	// Government and academic TLDs
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") ||
		strings.HasSuffix(host, ".ac.uk") || strings.Contains(host, ".gov.") {
		return model.TierPrimary
	}

	return model.TierTertiary
}

// Rank sets each result's authority and orders results by tier, keeping
// search order within a tier
func (a *AuthorityClassifier) Rank(results []model.WebResult) []model.WebResult {
	ranked := make([]model.WebResult, len(results))
	copy(ranked, results)

	for i := range ranked {
		ranked[i].Authority = a.Classify(ranked[i].URL)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Authority < ranked[j].Authority
	})
	return ranked
}

// matchesDomain reports whether host is a listed domain or a subdomain of one
func matchesDomain(host string, domains map[string]bool) bool {
	if domains[host] {
		return true
	}
	for domain := range domains {
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// parseTierString converts a tier string to AuthorityTier
func parseTierString(tier string) model.AuthorityTier {
	switch strings.ToLower(tier) {
	case "primary", "1":
		return model.TierPrimary
	case "secondary", "2":
		return model.TierSecondary
	default:
		return model.TierTertiary
	}
}
