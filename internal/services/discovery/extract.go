package discovery

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Hosts whose event URLs carry tracking query strings that would defeat dedup
var queryStrippedHosts = map[string]bool{
	"allevents.in":   true,
	"eventbrite.com": true,
	"facebook.com":   true,
}

// urlSet collects URLs in first-seen order
type urlSet struct {
	seen  map[string]bool
	urls  []string
	limit int
}

func newURLSet(limit int) *urlSet {
	return &urlSet{seen: make(map[string]bool), limit: limit}
}

func (s *urlSet) add(raw string) {
	if s.limit > 0 && len(s.urls) >= s.limit {
		return
	}
	if !isValidURL(raw) || s.seen[raw] {
		return
	}
	s.seen[raw] = true
	s.urls = append(s.urls, raw)
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ExtractURLs walks a task result array and returns every distinct http(s) URL found in
// url, domain and links fields at any depth. limit <= 0 means no limit.
func ExtractURLs(result gjson.Result, limit int) []string {
	set := newURLSet(limit)
	result.ForEach(func(_, block gjson.Result) bool {
		block.Get("items").ForEach(func(_, item gjson.Result) bool {
			walkURLs(item, set)
			return true
		})
		walkURLs(block, set)
		return true
	})
	return set.urls
}

func walkURLs(node gjson.Result, set *urlSet) {
	if !node.IsObject() {
		return
	}

	if u := node.Get("url"); u.Type == gjson.String && strings.HasPrefix(u.Str, "http") {
		set.add(u.Str)
	}
	if d := node.Get("domain"); d.Type == gjson.String && d.Str != "" {
		if strings.HasPrefix(d.Str, "http") {
			set.add(d.Str)
		} else {
			set.add("https://" + d.Str)
		}
	}
	node.Get("links").ForEach(func(_, link gjson.Result) bool {
		if u := link.Get("url"); u.Type == gjson.String && strings.HasPrefix(u.Str, "http") {
			set.add(u.Str)
		}
		return true
	})
	node.Get("items").ForEach(func(_, sub gjson.Result) bool {
		walkURLs(sub, set)
		return true
	})

	node.ForEach(func(key, value gjson.Result) bool {
		switch key.Str {
		case "url", "domain", "links", "items":
			return true
		}
		if value.IsObject() {
			walkURLs(value, set)
		} else if value.IsArray() {
			value.ForEach(func(_, sub gjson.Result) bool {
				walkURLs(sub, set)
				return true
			})
		}
		return true
	})
}

// EventItems returns the object items of every result block
func EventItems(result gjson.Result) []gjson.Result {
	var items []gjson.Result
	result.ForEach(func(_, block gjson.Result) bool {
		block.Get("items").ForEach(func(_, item gjson.Result) bool {
			if item.IsObject() {
				items = append(items, item)
			}
			return true
		})
		return true
	})
	return items
}

// ItemID derives a stable producer-scoped id for a search result item.
// Returns "" when the item carries nothing to identify it by.
func ItemID(item gjson.Result) string {
	if id := item.Get("event_id"); id.Exists() && id.String() != "" {
		return id.String()
	}

	if raw := item.Get("url").String(); raw != "" {
		if u, err := url.Parse(raw); err == nil && queryStrippedHosts[strings.ToLower(u.Host)] {
			return u.Scheme + "://" + u.Host + u.Path
		}
		return raw
	}

	title := item.Get("title").String()
	start := item.Get("event_dates.start_datetime").String()
	if title != "" && start != "" {
		sum := md5.Sum([]byte(title + "|" + start))
		return hex.EncodeToString(sum[:])
	}
	return ""
}
