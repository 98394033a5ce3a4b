package normalize

import (
	"net/url"
	"strings"

	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
)

// Scorer computes the additive completeness score used for ranking
type Scorer struct {
	weights common.ScoreConfig
	trusted []string
}

// NewScorer creates a scorer with the given weights and trusted source markers
func NewScorer(weights common.ScoreConfig, trusted []string) *Scorer {
	s := &Scorer{weights: weights}
	for _, t := range trusted {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			s.trusted = append(s.trusted, t)
		}
	}
	return s
}

// Score awards the configured points for each field that is present
func (s *Scorer) Score(e *models.CleanEventRecord) int {
	w := s.weights
	score := 0
	if strings.TrimSpace(e.Title) != "" {
		score += w.Title
	}
	if !e.StartTS.IsZero() {
		score += w.Start
	}
	if e.VenueGeometry != nil {
		score += w.Geometry
	}
	if strings.TrimSpace(e.VenueName) != "" {
		score += w.VenueName
	}
	if len(strings.TrimSpace(e.Description)) > w.DescriptionMinLength {
		score += w.Description
	}
	if e.PriceVal != nil {
		score += w.Price
	}
	if s.Trusted(e.Source, e.URL) {
		score += w.TrustedSource
	}
	if e.URL != "" {
		score += w.URL
	}
	if e.ImageURL != "" {
		score += w.Image
	}
	if len(e.Tags) > 0 {
		score += w.Tags
	}
	return score
}

// Trusted reports whether the source name or the URL host names a trusted producer
func (s *Scorer) Trusted(source, rawURL string) bool {
	candidates := []string{strings.ToLower(source)}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		candidates = append(candidates, strings.ToLower(u.Host))
	}
	for _, c := range candidates {
		for _, t := range s.trusted {
			if strings.Contains(c, t) {
				return true
			}
		}
	}
	return false
}
