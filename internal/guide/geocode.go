package guide

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	logx "factbot/pkg/logx"
)

// maxVenueDistanceKm rejects geocoder hits that are clearly not the place
// the fact talks about (same-named places in other cities).
const maxVenueDistanceKm = 50

// Geocoder resolves a search query to coordinates via OpenStreetMap
// Nominatim. Best-effort; every failure means "no venue", never an error
// surfaced to the user.
type Geocoder struct {
	http      *http.Client
	log       logx.Logger
	userAgent string
	endpoint  string
}

func NewGeocoder(log logx.Logger) *Geocoder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Geocoder{
		http:      &http.Client{Timeout: 5 * time.Second},
		log:       log,
		userAgent: "factbot/1.0",
		endpoint:  "https://nominatim.openstreetmap.org/search",
	}
}

type nominatimResult struct {
	Lat        string  `json:"lat"`
	Lon        string  `json:"lon"`
	Type       string  `json:"type"`
	Importance float64 `json:"importance"`
	Display    string  `json:"display_name"`
}

// Lookup resolves query near the given position. ok is false when nothing
// plausible was found.
func (g *Geocoder) Lookup(ctx context.Context, query string, nearLat, nearLon float64) (lat, lon float64, ok bool) {
	if query == "" {
		return 0, 0, false
	}
	results, err := g.search(ctx, query)
	if err != nil || len(results) == 0 {
		g.log.Debug("geocode miss", logx.String("query", query), logx.Err(err))
		return 0, 0, false
	}

	best := -1
	bestScore := math.Inf(-1)
	for i, res := range results {
		rlat, err1 := strconv.ParseFloat(res.Lat, 64)
		rlon, err2 := strconv.ParseFloat(res.Lon, 64)
		if err1 != nil || err2 != nil || rlat < -90 || rlat > 90 || rlon < -180 || rlon > 180 {
			continue
		}
		if haversineKm(nearLat, nearLon, rlat, rlon) > maxVenueDistanceKm {
			continue
		}
		score := res.Importance
		switch res.Type {
		case "building", "house", "amenity", "historic":
			score += 3
		case "street", "road":
			score += 2
		case "suburb", "neighbourhood":
			score += 1
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	lat, _ = strconv.ParseFloat(results[best].Lat, 64)
	lon, _ = strconv.ParseFloat(results[best].Lon, 64)
	return lat, lon, true
}

func (g *Geocoder) search(ctx context.Context, query string) ([]nominatimResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "5")
	q.Set("accept-language", "ru,en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("nominatim status " + resp.Status)
	}
	var out []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
