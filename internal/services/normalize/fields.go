package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/tidwall/gjson"
)

// Address is a structured postal address
type Address struct {
	Street     string
	Locality   string
	PostalCode string
	Region     string
	Country    string
}

// String joins the non-empty components
func (a *Address) String() string {
	var parts []string
	for _, p := range []string{a.Street, a.Locality, a.PostalCode, a.Region, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Fields are the typed values pulled out of one raw payload
type Fields struct {
	Title         string
	Description   string
	URL           string
	Start         time.Time
	End           *time.Time
	VenueName     string
	VenueAddress  string
	Address       *Address // nil when the payload only has free text
	Geo           *models.Point
	ImageURL      string
	PriceVal      *float64
	PriceCcy      string
	Identifier    string
	HasAnyAddress bool
}

// ExtractFields picks the extractor for the payload shape. Missing title or start is an error.
func ExtractFields(source string, payload []byte) (*Fields, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: invalid JSON", models.ErrUnknownPayload)
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return nil, models.ErrUnknownPayload
	}

	var f *Fields
	var err error
	switch {
	case source == models.SourceSearchItem || doc.Get("event_item_data").IsObject():
		item := doc.Get("event_item_data")
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: missing event_item_data", models.ErrUnknownPayload)
		}
		f = searchItemFields(item)
	case doc.Get("@type").Exists() || doc.Get("name").Exists():
		f, err = jsonLDFields(doc)
	default:
		return nil, models.ErrUnknownPayload
	}
	if err != nil {
		return nil, err
	}

	if f.Title == "" {
		return nil, models.ErrMissingTitle
	}
	if f.Start.IsZero() {
		return nil, models.ErrMissingStart
	}
	return f, nil
}

func jsonLDFields(doc gjson.Result) (*Fields, error) {
	if types := doc.Get("@type"); types.Exists() && !isEventType(types) {
		return nil, models.ErrNoEvent
	}

	f := &Fields{
		Title:       cleanText(firstString(doc.Get("name"))),
		Description: cleanText(firstString(doc.Get("description"))),
		URL:         strings.TrimSpace(firstString(doc.Get("url"))),
		ImageURL:    imageURL(doc.Get("image")),
		Identifier:  identifier(doc.Get("identifier")),
	}
	f.Start, _ = common.ParseTimestamp(firstString(doc.Get("startDate")))
	if end, ok := common.ParseTimestamp(firstString(doc.Get("endDate"))); ok {
		f.End = &end
	}

	location := firstObject(doc.Get("location"))
	switch {
	case location.IsObject():
		f.VenueName = cleanText(firstString(location.Get("name")))

		address := firstOf(location.Get("address"))
		if address.IsObject() {
			a := &Address{
				Street:     cleanText(address.Get("streetAddress").String()),
				Locality:   cleanText(address.Get("addressLocality").String()),
				PostalCode: cleanText(address.Get("postalCode").String()),
				Region:     cleanText(address.Get("addressRegion").String()),
				Country:    cleanText(country(address.Get("addressCountry"))),
			}
			if a.String() != "" {
				f.Address = a
				f.VenueAddress = a.String()
			}
		} else if address.Type == gjson.String {
			f.VenueAddress = cleanText(address.Str)
		}

		if geo := location.Get("geo"); geo.IsObject() {
			f.Geo = point(geo.Get("latitude"), geo.Get("longitude"))
		}

		if f.URL == "" && isOnline(doc, location) {
			f.URL = strings.TrimSpace(location.Get("url").String())
		}
	case location.Type == gjson.String:
		f.VenueAddress = cleanText(location.Str)
	}

	f.PriceVal, f.PriceCcy = offerPrice(doc.Get("offers"))
	f.HasAnyAddress = f.Address != nil || f.VenueAddress != ""
	return f, nil
}

func searchItemFields(item gjson.Result) *Fields {
	f := &Fields{
		Title:        cleanText(item.Get("title").String()),
		Description:  cleanText(item.Get("description").String()),
		URL:          strings.TrimSpace(item.Get("url").String()),
		VenueName:    cleanText(item.Get("location_info.name").String()),
		VenueAddress: cleanText(item.Get("location_info.address").String()),
		ImageURL:     strings.TrimSpace(item.Get("image_url").String()),
		Identifier:   item.Get("event_id").String(),
	}
	f.Start, _ = common.ParseTimestamp(item.Get("event_dates.start_datetime").String())
	if end, ok := common.ParseTimestamp(item.Get("event_dates.end_datetime").String()); ok {
		f.End = &end
	}
	if lat, lon := item.Get("location_info.latitude"), item.Get("location_info.longitude"); lat.Exists() && lon.Exists() {
		f.Geo = point(lat, lon)
	}
	if ticket := item.Get("ticket_info"); ticket.IsObject() {
		f.PriceVal, f.PriceCcy = priceOf(ticket.Get("price"), ticket.Get("currency"))
	}
	f.HasAnyAddress = f.VenueAddress != ""
	return f
}

// isEventType accepts Event and every schema.org subtype (MusicEvent, DanceEvent, ...)
func isEventType(types gjson.Result) bool {
	found := false
	check := func(t string) {
		t = strings.TrimSpace(t)
		if i := strings.LastIndexAny(t, "/:"); i >= 0 {
			t = t[i+1:]
		}
		if strings.HasSuffix(t, "Event") || t == "SocialDance" {
			found = true
		}
	}
	if types.IsArray() {
		types.ForEach(func(_, v gjson.Result) bool {
			check(v.String())
			return !found
		})
	} else {
		check(types.String())
	}
	return found
}

func isOnline(doc, location gjson.Result) bool {
	if strings.Contains(doc.Get("eventAttendanceMode").String(), "Online") {
		return true
	}
	return strings.Contains(location.Get("@type").String(), "VirtualLocation")
}

// offerPrice takes the first offer carrying both a numeric price and a currency
func offerPrice(offers gjson.Result) (*float64, string) {
	var price *float64
	var ccy string
	each(offers, func(offer gjson.Result) bool {
		if !offer.IsObject() {
			return true
		}
		price, ccy = priceOf(offer.Get("price"), offer.Get("priceCurrency"))
		return price == nil
	})
	return price, ccy
}

func priceOf(priceValue, currencyValue gjson.Result) (*float64, string) {
	currency := strings.TrimSpace(currencyValue.String())
	if !priceValue.Exists() || currency == "" {
		return nil, ""
	}
	v, err := cast.ToFloat64E(strings.TrimSpace(priceValue.String()))
	if err != nil {
		return nil, ""
	}
	currency = strings.ToUpper(currency)
	if len(currency) > 3 {
		currency = currency[:3]
	}
	return &v, currency
}

func point(latValue, lonValue gjson.Result) *models.Point {
	lat, err := cast.ToFloat64E(latValue.String())
	if err != nil || latValue.String() == "" {
		return nil
	}
	lon, err := cast.ToFloat64E(lonValue.String())
	if err != nil || lonValue.String() == "" {
		return nil
	}
	p := models.Point{Lat: lat, Lon: lon}
	if !p.Valid() || (lat == 0 && lon == 0) {
		return nil
	}
	return &p
}

func imageURL(image gjson.Result) string {
	image = firstOf(image)
	if image.IsObject() {
		return strings.TrimSpace(image.Get("url").String())
	}
	if image.Type == gjson.String {
		return strings.TrimSpace(image.Str)
	}
	return ""
}

func identifier(id gjson.Result) string {
	id = firstOf(id)
	if id.IsObject() {
		return strings.TrimSpace(id.Get("value").String())
	}
	if id.Type == gjson.String || id.Type == gjson.Number {
		return strings.TrimSpace(id.String())
	}
	return ""
}

func country(c gjson.Result) string {
	if c.IsObject() {
		return c.Get("name").String()
	}
	return c.String()
}

// firstOf unwraps a list to its first element
func firstOf(v gjson.Result) gjson.Result {
	if v.IsArray() {
		arr := v.Array()
		if len(arr) == 0 {
			return gjson.Result{}
		}
		return arr[0]
	}
	return v
}

func firstObject(v gjson.Result) gjson.Result {
	if !v.IsArray() {
		return v
	}
	for _, item := range v.Array() {
		if item.IsObject() {
			return item
		}
	}
	return firstOf(v)
}

func firstString(v gjson.Result) string {
	v = firstOf(v)
	if v.Type == gjson.String {
		return v.Str
	}
	if v.Type == gjson.Number {
		return v.Raw
	}
	return ""
}

func each(v gjson.Result, fn func(gjson.Result) bool) {
	if v.IsArray() {
		v.ForEach(func(_, item gjson.Result) bool { return fn(item) })
		return
	}
	if v.Exists() {
		fn(v)
	}
}

// cleanText trims and collapses internal whitespace
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
