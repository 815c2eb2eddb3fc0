// Package reconcile mirrors external platform calendars into the booking
// core. Reserved nights become external bookings; blocked nights are only
// kept as advisory data for the conflict detector.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"staycal/api/internal/calendar"
	"staycal/api/internal/config"
	"staycal/api/internal/conflict"
	"staycal/api/internal/feed"
	"staycal/api/internal/log"
	"staycal/api/internal/rangeops"
)

const maxConcurrentBookings = 4

// Booker is the part of the range engine a sync writes through.
type Booker interface {
	BookDays(ctx context.Context, req rangeops.BookRequest) ([]calendar.Day, error)
	UnbookAirBnB(ctx context.Context, req rangeops.UnbookExternalRequest) ([]calendar.Day, error)
	Today() calendar.Date
}

type Fetcher interface {
	Fetch(ctx context.Context, src feed.Source) (feed.Result, error)
}

type Archiver interface {
	Archive(ctx context.Context, calendarID, roomID string, body []byte, at time.Time) error
}

type FeedLink struct {
	RoomID string `json:"room" validate:"required"`
	Link   string `json:"link" validate:"required"`
}

type Request struct {
	CalendarID string
	GuestID    string
	Feeds      []FeedLink
}

type Result struct {
	Reserved []calendar.Day            `json:"reserved"`
	Blocked  map[string][]feed.Segment `json:"blocked"`
}

type Options struct {
	Labels      config.FeedLabels
	HorizonDays int
	Location    *time.Location
	// Archive and Advisory are optional.
	Archive  Archiver
	Advisory conflict.AdvisoryStore
}

type Reconciler struct {
	booker   Booker
	fetcher  Fetcher
	archive  Archiver
	advisory conflict.AdvisoryStore
	labels   config.FeedLabels
	horizon  int
	loc      *time.Location
	now      func() time.Time
}

func New(booker Booker, fetcher Fetcher, opts Options) *Reconciler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = config.DefaultPolicy().HorizonDays
	}
	return &Reconciler{
		booker:   booker,
		fetcher:  fetcher,
		archive:  opts.Archive,
		advisory: opts.Advisory,
		labels:   opts.Labels,
		horizon:  opts.HorizonDays,
		loc:      opts.Location,
		now:      time.Now,
	}
}

type roomSegments struct {
	roomID string
	feed.Classified
}

// Sync fetches every feed in order and stops at the first feed that cannot
// be fetched or read; nothing is written in that case. Otherwise future
// external stays of the synced rooms are replaced by the feeds' reserved
// segments, and the call fails if any of those bookings fails.
func (r *Reconciler) Sync(ctx context.Context, req Request) (Result, error) {
	if req.CalendarID == "" {
		return Result{}, calendar.Validation("Calendar is required.")
	}
	if req.GuestID == "" {
		return Result{}, calendar.Validation("Guest is required.")
	}

	today := r.booker.Today()
	rooms := make([]roomSegments, 0, len(req.Feeds))
	for _, link := range req.Feeds {
		if link.RoomID == "" {
			return Result{}, calendar.Validation("Room is required.")
		}
		segs, err := r.readFeed(ctx, req.CalendarID, link, today)
		if err != nil {
			return Result{}, err
		}
		rooms = append(rooms, roomSegments{roomID: link.RoomID, Classified: segs})
	}

	roomIDs := make([]string, 0, len(rooms))
	for _, room := range rooms {
		roomIDs = append(roomIDs, room.roomID)
	}
	if len(roomIDs) > 0 {
		if _, err := r.booker.UnbookAirBnB(ctx, rangeops.UnbookExternalRequest{
			CalendarID: req.CalendarID,
			GuestID:    req.GuestID,
			RoomIDs:    roomIDs,
			From:       today,
		}); err != nil {
			return Result{}, fmt.Errorf("clear external stays: %w", err)
		}
	}

	reserved, err := r.book(ctx, req, rooms)
	if err != nil {
		return Result{}, err
	}

	blocked := make(map[string][]feed.Segment)
	for _, room := range rooms {
		if len(room.Blocked) > 0 {
			blocked[room.roomID] = append(blocked[room.roomID], room.Blocked...)
		}
	}
	if r.advisory != nil {
		if err := r.advisory.SaveBlocked(ctx, req.CalendarID, blocked); err != nil {
			log.Error("save blocked segments failed", err, "calendar_id", req.CalendarID)
		}
	}

	log.Info("external calendar synced",
		"calendar_id", req.CalendarID,
		"rooms", len(rooms),
		"reserved_days", len(reserved),
		"blocked_rooms", len(blocked),
	)
	return Result{Reserved: reserved, Blocked: blocked}, nil
}

func (r *Reconciler) readFeed(ctx context.Context, calendarID string, link FeedLink, today calendar.Date) (feed.Classified, error) {
	src := feed.Source{RoomID: link.RoomID, URL: link.Link}
	res, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		return feed.Classified{}, err
	}
	events, err := feed.Parse(src, res.Body)
	if err != nil {
		return feed.Classified{}, err
	}
	if r.archive != nil && !res.FromCache {
		if err := r.archive.Archive(ctx, calendarID, link.RoomID, res.Body, r.now()); err != nil {
			log.Error("feed archive failed", err, "calendar_id", calendarID, "room_id", link.RoomID)
		}
	}
	from := today.Time(r.loc)
	events = feed.Expand(events, from, from.AddDate(0, 0, r.horizon))
	return feed.Classify(events, today, r.labels, r.loc), nil
}

// book submits every reserved segment concurrently.
// externalBookingID derives the booking id of a feed event in a room. It is
// stable across syncs, so the nights of a running stay kept before today
// share an id with the nights rebooked from today on.
func externalBookingID(calendarID, roomID string, seg feed.Segment) string {
	key := seg.UID
	if key == "" {
		key = seg.Description
	}
	sum := sha256.Sum256([]byte(calendarID + "|" + roomID + "|" + key + "|" + seg.Origin.String()))
	return "ext_" + hex.EncodeToString(sum[:12])
}

func (r *Reconciler) book(ctx context.Context, req Request, rooms []roomSegments) ([]calendar.Day, error) {
	var reqs []rangeops.BookRequest
	for _, room := range rooms {
		for _, seg := range room.Reserved {
			reqs = append(reqs, rangeops.BookRequest{
				CalendarID:  req.CalendarID,
				GuestID:     req.GuestID,
				RoomID:      room.roomID,
				Date:        seg.Start,
				Duration:    seg.Nights,
				IsAirBnB:    true,
				Description: seg.Description,
				BookingID:   externalBookingID(req.CalendarID, room.roomID, seg),
			})
		}
	}

	results := make([][]calendar.Day, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBookings)
	for i, br := range reqs {
		i, br := i, br
		g.Go(func() error {
			days, err := r.booker.BookDays(gctx, br)
			if err != nil {
				return fmt.Errorf("book external stay %s from %s: %w", br.RoomID, br.Date, err)
			}
			results[i] = days
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var days []calendar.Day
	for _, batch := range results {
		days = append(days, batch...)
	}
	sort.SliceStable(days, func(i, j int) bool {
		return days[i].Date.Before(days[j].Date)
	})
	return days, nil
}
