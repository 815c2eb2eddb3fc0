package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"staycal/api/internal/log"
)

const idxGuests = "staycal_guests"

// Meili indexes guests in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the guest index.
// An unreachable server is retried by the health loop.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Error("meilisearch unavailable", err, "url", url)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxGuests,
		PrimaryKey: "id",
	}); err != nil {
		log.Debug("meilisearch create index (may already exist)", "index", idxGuests, "err", err.Error())
	}

	index := m.client.Index(idxGuests)
	filterable := []interface{}{"hostId", "returning"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Error("meilisearch update filterable attributes", err, "index", idxGuests)
	}
	searchable := []string{"name", "email", "phone"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Error("meilisearch update searchable attributes", err, "index", idxGuests)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{guestRequest(q)},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func guestRequest(q Query) *meili.SearchRequest {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}
	return &meili.SearchRequest{
		IndexUID:              idxGuests,
		Query:                 q.Text,
		Limit:                 limit,
		AttributesToHighlight: []string{"name"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
		Filter:                []string{fmt.Sprintf("hostId = %q", q.HostID)},
	}
}

func hitToResult(hit meili.Hit) Result {
	var returning bool
	if raw, ok := hit["returning"]; ok {
		_ = json.Unmarshal(raw, &returning)
	}
	r := Result{
		ID:        decodeString(hit, "id"),
		HostID:    decodeString(hit, "hostId"),
		Name:      decodeString(hit, "name"),
		Phone:     decodeString(hit, "phone"),
		Email:     decodeString(hit, "email"),
		Returning: returning,
	}
	if formatted := decodeFormattedString(hit, "name"); formatted != r.Name {
		r.Highlight = formatted
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func (m *Meili) IndexGuests(guests []GuestRecord) error {
	if len(guests) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGuests).AddDocuments(guests, nil)
	return err
}

func (m *Meili) DeleteGuests(ids []string) error {
	index := m.client.Index(idxGuests)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete guest %s: %w", id, err)
		}
	}
	return nil
}
