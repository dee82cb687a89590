package app

import (
	"context"

	"factbot/internal/guide"
	"factbot/internal/storage"
	"factbot/internal/tracker"
	logx "factbot/pkg/logx"
)

// factGenerator adapts the guide service to the tracker's Generator
// interface, resolving the companion venue coordinate when the model
// suggested a search query.
type factGenerator struct {
	guide    *guide.Service
	geocoder *guide.Geocoder
	log      logx.Logger
}

func (g *factGenerator) Generate(ctx context.Context, pos tracker.Position, exclude []string, language string) (tracker.Content, error) {
	c, err := g.guide.NearbyFact(ctx, guide.Request{
		Lat:      pos.Lat,
		Lon:      pos.Lon,
		Language: language,
		Exclude:  exclude,
		Live:     true,
	})
	if err != nil {
		return tracker.Content{}, err
	}
	out := tracker.Content{Place: c.Place, Fact: c.Fact}
	if g.geocoder != nil && c.Search != "" {
		if lat, lon, ok := g.geocoder.Lookup(ctx, c.Search, pos.Lat, pos.Lon); ok {
			out.Venue = &tracker.Venue{Lat: lat, Lon: lon, Title: c.Place}
		}
	}
	return out, nil
}

// storeArchiver persists delivery records into the optional store.
type storeArchiver struct {
	store storage.Store
}

func (a *storeArchiver) Record(ctx context.Context, rec tracker.Record) error {
	return a.store.AppendFact(ctx, storage.FactEntry{
		At:        rec.At,
		SessionID: rec.SessionID,
		UserID:    rec.UserID,
		ChatID:    rec.ChatID,
		Seq:       rec.Seq,
		Lat:       rec.Position.Lat,
		Lon:       rec.Position.Lon,
		Place:     rec.Place,
		Fact:      rec.Fact,
		Failed:    rec.Failed,
	})
}
