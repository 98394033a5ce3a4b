package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips diacritics ("Café Semba" -> "cafe semba")
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// NormalizeTitle is the title form that goes into the fingerprint
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// Fingerprint hashes title, start day and region into the dedup key.
// The start day is taken in the timestamp's own zone.
func Fingerprint(title string, start time.Time, metroID int64, length int) (string, error) {
	normalized := NormalizeTitle(title)
	if normalized == "" {
		return "", fmt.Errorf("fingerprint: empty title")
	}
	if start.IsZero() {
		return "", fmt.Errorf("fingerprint: missing start")
	}
	if metroID <= 0 {
		return "", fmt.Errorf("fingerprint: missing region")
	}

	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d", normalized, start.Format("2006-01-02"), metroID)))
	fp := hex.EncodeToString(sum[:])
	if length > 0 && length < len(fp) {
		fp = fp[:length]
	}
	return fp, nil
}

// keywordMatcher finds whole-word phrases in folded text
type keywordMatcher struct {
	name    string
	pattern *regexp.Regexp
}

func newKeywordMatcher(name string, keywords []string) *keywordMatcher {
	var alts []string
	for _, k := range keywords {
		if k = strings.TrimSpace(Fold(k)); k != "" {
			alts = append(alts, regexp.QuoteMeta(k))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return &keywordMatcher{
		name:    name,
		pattern: regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`),
	}
}

// Tagger assigns category tags from keyword lists
type Tagger struct {
	matchers []*keywordMatcher
}

// NewTagger compiles the tag -> keywords table
func NewTagger(table map[string][]string) *Tagger {
	t := &Tagger{}
	for tag, keywords := range table {
		if m := newKeywordMatcher(tag, keywords); m != nil {
			t.matchers = append(t.matchers, m)
		}
	}
	sort.Slice(t.matchers, func(i, j int) bool { return t.matchers[i].name < t.matchers[j].name })
	return t
}

// Tags returns the sorted set of tags whose keywords appear in any of the texts
func (t *Tagger) Tags(texts ...string) []string {
	content := Fold(strings.Join(texts, " "))
	tags := []string{}
	for _, m := range t.matchers {
		if m.pattern.MatchString(content) {
			tags = append(tags, m.name)
		}
	}
	return tags
}

// CityMatcher recovers a city name from an address or a title
type CityMatcher struct {
	known []*keywordMatcher
}

// NewCityMatcher compiles the known-city list, longest names first
func NewCityMatcher(cities []string) *CityMatcher {
	sorted := append([]string(nil), cities...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	c := &CityMatcher{}
	for _, city := range sorted {
		if m := newKeywordMatcher(city, []string{city}); m != nil {
			c.known = append(c.known, m)
		}
	}
	return c
}

var postalLike = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 -]{1,9}$`)

// FromAddress scans comma-separated parts from the end, skipping the first part (the street),
// postal codes, bare numbers and short country or state codes
func (c *CityMatcher) FromAddress(address string) string {
	parts := strings.Split(address, ",")
	for i := len(parts) - 1; i >= 1; i-- {
		part := cleanText(parts[i])
		if len(part) <= 2 || isDigits(part) {
			continue
		}
		if strings.ContainsAny(part, "0123456789") && postalLike.MatchString(part) {
			continue
		}
		if len(part) <= 3 && strings.ToUpper(part) == part {
			continue
		}
		return part
	}
	return ""
}

// FromTitle returns the first known city named in the title
func (c *CityMatcher) FromTitle(title string) string {
	folded := Fold(title)
	for _, m := range c.known {
		if m.pattern.MatchString(folded) {
			return m.name
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
