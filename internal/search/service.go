package search

import (
	"context"
	"fmt"
	"strings"

	"staycal/api/internal/integrity"
	"staycal/api/internal/log"
	"staycal/api/internal/store"
)

// GuestStore is the store surface used for fallback search and reindexing.
type GuestStore interface {
	ListHosts(ctx context.Context) ([]store.Host, error)
	ListGuests(ctx context.Context, hostID string) ([]store.Guest, error)
	SearchGuests(ctx context.Context, hostID, text string, limit int) ([]store.Guest, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// store. It also keeps the index current as an integrity listener.
type Service struct {
	meili  *Meili
	guests GuestStore
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, guests GuestStore) *Service {
	return &Service{meili: meili, guests: guests}
}

func (s *Service) indexReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if s.indexReady() && q.Text != "" {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
		}
		log.Error("meilisearch search failed, falling back to store", err, "host_id", q.HostID)
	}

	guests, err := s.guests.SearchGuests(ctx, q.HostID, q.Text, q.Limit)
	if err != nil {
		return Response{}, fmt.Errorf("search guests: %w", err)
	}
	results := make([]Result, 0, len(guests))
	for _, g := range guests {
		results = append(results, resultOf(g))
	}
	return Response{Results: results, Total: len(results), Query: q.Text}, nil
}

// HandleEvent mirrors guest writes into the index.
func (s *Service) HandleEvent(_ context.Context, ev integrity.Event) error {
	if ev.Kind != integrity.KindGuest || !s.indexReady() {
		return nil
	}
	switch ev.Op {
	case integrity.OpCreated, integrity.OpUpdated:
		records := make([]GuestRecord, 0, len(ev.Guests))
		for _, g := range ev.Guests {
			records = append(records, recordOf(g))
		}
		if err := s.meili.IndexGuests(records); err != nil {
			return fmt.Errorf("index guests: %w", err)
		}
	case integrity.OpDeleted:
		if err := s.meili.DeleteGuests(ev.IDs); err != nil {
			return fmt.Errorf("unindex guests: %w", err)
		}
	}
	return nil
}

// ReindexAll pushes every guest of every host to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) error {
	if !s.indexReady() {
		return nil
	}
	hosts, err := s.guests.ListHosts(ctx)
	if err != nil {
		return fmt.Errorf("list hosts: %w", err)
	}
	indexed := 0
	for _, host := range hosts {
		guests, err := s.guests.ListGuests(ctx, host.ID)
		if err != nil {
			return fmt.Errorf("list guests of %s: %w", host.ID, err)
		}
		records := make([]GuestRecord, 0, len(guests))
		for _, g := range guests {
			records = append(records, recordOf(g))
		}
		if err := s.meili.IndexGuests(records); err != nil {
			return fmt.Errorf("reindex guests of %s: %w", host.ID, err)
		}
		indexed += len(records)
	}
	log.Info("guest index rebuilt", "guests", indexed)
	return nil
}

func recordOf(g store.Guest) GuestRecord {
	return GuestRecord{ID: g.ID, HostID: g.HostID, Name: g.Name, Phone: g.Phone, Email: g.Email, Returning: g.Returning}
}

func resultOf(g store.Guest) Result {
	return Result{ID: g.ID, HostID: g.HostID, Name: g.Name, Phone: g.Phone, Email: g.Email, Returning: g.Returning}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
