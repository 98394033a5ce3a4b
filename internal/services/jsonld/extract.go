// Package jsonld pulls schema.org JSON-LD blocks out of rendered HTML.
package jsonld

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extract returns every JSON-LD object embedded in the page. Top-level arrays and
// @graph containers are flattened, so each returned blob is a single JSON object.
// Blocks that fail to decode are skipped; their count is returned for logging.
func Extract(html string) ([]json.RawMessage, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var blobs []json.RawMessage
	invalid := 0

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptType, _ := s.Attr("type")
		if !strings.EqualFold(strings.TrimSpace(scriptType), "application/ld+json") {
			return
		}

		text := cleanScript(s.Text())
		if text == "" {
			return
		}

		var value interface{}
		decoder := json.NewDecoder(strings.NewReader(text))
		decoder.UseNumber()
		if err := decoder.Decode(&value); err != nil {
			invalid++
			return
		}

		for _, obj := range flatten(value) {
			raw, err := marshal(obj)
			if err != nil {
				invalid++
				continue
			}
			blobs = append(blobs, raw)
		}
	})

	return blobs, invalid, nil
}

// cleanScript strips wrappers some CMSs put around the JSON
func cleanScript(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "<!--")
	text = strings.TrimSuffix(text, "-->")
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "//<![CDATA[")
	text = strings.TrimPrefix(text, "<![CDATA[")
	text = strings.TrimSuffix(text, "//]]>")
	text = strings.TrimSuffix(text, "]]>")
	return strings.TrimSpace(text)
}

// flatten expands arrays and @graph containers into plain objects.
// A @graph member inherits the container's @context when it has none.
func flatten(value interface{}) []map[string]interface{} {
	switch v := value.(type) {
	case []interface{}:
		var out []map[string]interface{}
		for _, item := range v {
			out = append(out, flatten(item)...)
		}
		return out

	case map[string]interface{}:
		graph, ok := v["@graph"].([]interface{})
		if !ok {
			return []map[string]interface{}{v}
		}
		var out []map[string]interface{}
		for _, item := range graph {
			for _, obj := range flatten(item) {
				if _, has := obj["@context"]; !has {
					if ctx, ok := v["@context"]; ok {
						obj["@context"] = ctx
					}
				}
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}

// marshal encodes without escaping &, < and > so URLs survive unchanged
func marshal(obj map[string]interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Types returns the @type values of a blob with any schema.org prefix removed.
// @type may be a string or a list.
func Types(blob map[string]interface{}) []string {
	var types []string
	switch t := blob["@type"].(type) {
	case string:
		types = append(types, shortType(t))
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok {
				types = append(types, shortType(s))
			}
		}
	}
	return types
}

func shortType(t string) string {
	t = strings.TrimSpace(t)
	for _, prefix := range []string{"https://schema.org/", "http://schema.org/", "schema:"} {
		if strings.HasPrefix(t, prefix) {
			return strings.TrimPrefix(t, prefix)
		}
	}
	return t
}
