package discovery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/tempo/internal/models"
)

const (
	tagRegionPrefix = "region:"
	tagTermSep      = "_term:"
	tagRunSep       = "_run:"
)

// SanitizeTerm makes a search term safe to embed in a correlation tag.
// Underscores would collide with the tag separators, so they become spaces.
func SanitizeTerm(term string) string {
	term = strings.ReplaceAll(term, "_", " ")
	return strings.Join(strings.Fields(term), " ")
}

// EncodeTag builds region:<id>_term:<term>_run:<unix seconds>
func EncodeTag(metroID int64, term string, runAt time.Time) string {
	return fmt.Sprintf("%s%d%s%s%s%d", tagRegionPrefix, metroID, tagTermSep, SanitizeTerm(term), tagRunSep, runAt.Unix())
}

// DecodeTag recovers the producer context from a tag built by EncodeTag
func DecodeTag(tag string) (models.TaskContext, error) {
	var tc models.TaskContext

	if !strings.HasPrefix(tag, tagRegionPrefix) {
		return tc, fmt.Errorf("tag %q: missing region prefix", tag)
	}
	rest := strings.TrimPrefix(tag, tagRegionPrefix)

	termAt := strings.Index(rest, tagTermSep)
	runAt := strings.LastIndex(rest, tagRunSep)
	if termAt < 0 || runAt < 0 || runAt < termAt {
		return tc, fmt.Errorf("tag %q: malformed", tag)
	}

	metroID, err := strconv.ParseInt(rest[:termAt], 10, 64)
	if err != nil || metroID <= 0 {
		return tc, fmt.Errorf("tag %q: invalid region id", tag)
	}

	term := rest[termAt+len(tagTermSep) : runAt]
	if term == "" {
		return tc, fmt.Errorf("tag %q: empty term", tag)
	}

	unix, err := strconv.ParseInt(rest[runAt+len(tagRunSep):], 10, 64)
	if err != nil {
		return tc, fmt.Errorf("tag %q: invalid run timestamp", tag)
	}

	tc.MetroID = metroID
	tc.Term = term
	tc.RunAt = time.Unix(unix, 0).UTC()
	return tc, nil
}
