package jsonld

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!doctype html>
<html><head>
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "Event", "name": "Salsa Night", "url": "https://example.com/?a=1&b=2"}
</script>
<script type="Application/LD+JSON">
[{"@type": "Organization", "name": "Org"}, {"@type": ["Event", "DanceEvent"], "name": "Bachata"}]
</script>
<script type="application/ld+json">
{"@context": "https://schema.org", "@graph": [
	{"@type": "WebPage", "name": "Listing"},
	{"@type": "schema:Event", "name": "Kizomba", "@context": "https://schema.org/"}
]}
</script>
<script type="application/ld+json"><!-- {"@type": "Event", "name": "Wrapped"} --></script>
<script type="application/ld+json">{ not json</script>
<script type="application/ld+json">   </script>
<script type="text/javascript">var x = {"@type": "Event"};</script>
</head><body></body></html>`

func decode(t *testing.T, raw json.RawMessage) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestExtract(t *testing.T) {
	blobs, invalid, err := Extract(page)
	require.NoError(t, err)
	assert.Equal(t, 1, invalid)
	require.Len(t, blobs, 6)

	first := decode(t, blobs[0])
	assert.Equal(t, "Salsa Night", first["name"])
	assert.Contains(t, string(blobs[0]), `https://example.com/?a=1&b=2`)

	assert.Equal(t, "Org", decode(t, blobs[1])["name"])
	assert.Equal(t, []string{"Event", "DanceEvent"}, Types(decode(t, blobs[2])))

	listing := decode(t, blobs[3])
	assert.Equal(t, "https://schema.org", listing["@context"], "graph members inherit the context")
	kizomba := decode(t, blobs[4])
	assert.Equal(t, "https://schema.org/", kizomba["@context"])
	assert.Equal(t, []string{"Event"}, Types(kizomba))

	assert.Equal(t, "Wrapped", decode(t, blobs[5])["name"])
}

func TestExtract_NoBlocks(t *testing.T) {
	blobs, invalid, err := Extract(`<html><body><p>nothing here</p></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, blobs)
	assert.Zero(t, invalid)
}

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"Event"}, Types(map[string]interface{}{"@type": "http://schema.org/Event"}))
	assert.Empty(t, Types(map[string]interface{}{"name": "x"}))
	assert.Equal(t, []string{"Place"}, Types(map[string]interface{}{"@type": []interface{}{"Place", 7}}))
}
