// Package conflict compares a new booking with the nights the external
// platform reported as blocked during the last sync. The answer is advisory;
// bookings are never rejected here.
package conflict

import (
	"context"
	"fmt"
	"sync"

	"staycal/api/internal/calendar"
	"staycal/api/internal/feed"
)

type Candidate struct {
	RoomID   string
	Start    calendar.Date
	Duration int
}

// Result lists the blocked segments the candidate overlaps. With no
// overlap, BlockExternally asks the caller to block the same nights on the
// external platform so it cannot sell them twice.
type Result struct {
	Overlaps        []feed.Segment `json:"overlaps"`
	BlockExternally bool           `json:"blockExternally"`
}

// Check tests the inclusive night interval of c against every blocked
// segment of its room.
func Check(c Candidate, blocked map[string][]feed.Segment) Result {
	duration := c.Duration
	if duration < 1 {
		duration = 1
	}
	first, last := c.Start, c.Start.AddDays(duration-1)

	var res Result
	for _, seg := range blocked[c.RoomID] {
		if seg.Nights < 1 {
			continue
		}
		if !seg.Start.After(last) && !seg.Last().Before(first) {
			res.Overlaps = append(res.Overlaps, seg)
		}
	}
	res.BlockExternally = len(res.Overlaps) == 0
	return res
}

// AdvisoryStore keeps the blocked segments of the last sync per calendar.
// A calendar never synced loads as an empty map.
type AdvisoryStore interface {
	SaveBlocked(ctx context.Context, calendarID string, blocked map[string][]feed.Segment) error
	LoadBlocked(ctx context.Context, calendarID string) (map[string][]feed.Segment, error)
}

type Detector struct {
	store AdvisoryStore
}

func NewDetector(store AdvisoryStore) *Detector {
	return &Detector{store: store}
}

// CheckCalendar runs Check against the stored advisory of calendarID.
func (d *Detector) CheckCalendar(ctx context.Context, calendarID string, c Candidate) (Result, error) {
	blocked, err := d.store.LoadBlocked(ctx, calendarID)
	if err != nil {
		return Result{}, fmt.Errorf("load blocked segments: %w", err)
	}
	return Check(c, blocked), nil
}

// MemoryAdvisoryStore holds advisories in process memory.
type MemoryAdvisoryStore struct {
	mu      sync.RWMutex
	blocked map[string]map[string][]feed.Segment
}

func NewMemoryAdvisoryStore() *MemoryAdvisoryStore {
	return &MemoryAdvisoryStore{blocked: map[string]map[string][]feed.Segment{}}
}

func (s *MemoryAdvisoryStore) SaveBlocked(_ context.Context, calendarID string, blocked map[string][]feed.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[calendarID] = copyBlocked(blocked)
	return nil
}

func (s *MemoryAdvisoryStore) LoadBlocked(_ context.Context, calendarID string) (map[string][]feed.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBlocked(s.blocked[calendarID]), nil
}

func copyBlocked(in map[string][]feed.Segment) map[string][]feed.Segment {
	out := make(map[string][]feed.Segment, len(in))
	for room, segs := range in {
		out[room] = append([]feed.Segment(nil), segs...)
	}
	return out
}
