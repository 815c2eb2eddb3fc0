package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"staycal/api/internal/log"
	"staycal/api/internal/store"
)

type HostLister interface {
	ListHosts(ctx context.Context) ([]store.Host, error)
}

// Scheduler runs Sync for every host with at least one feed link.
type Scheduler struct {
	hosts   HostLister
	rec     *Reconciler
	cron    *cron.Cron
	timeout time.Duration
}

func NewScheduler(hosts HostLister, rec *Reconciler, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		hosts:   hosts,
		rec:     rec,
		cron:    cron.New(cron.WithLocation(loc)),
		timeout: 5 * time.Minute,
	}
}

// Start schedules RunOnce with a standard five field cron spec. An empty
// spec leaves the scheduler idle.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		log.Info("feed sync schedule disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("schedule feed sync %q: %w", spec, err)
	}
	s.cron.Start()
	log.Info("feed sync scheduled", "cron", spec)
	return nil
}

// Stop halts the schedule; the returned context is done once a running
// sync has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		log.Error("scheduled feed sync failed", err)
	}
}

// RunOnce syncs every host with feed links and returns how many synced
// cleanly. One host failing does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	hosts, err := s.hosts.ListHosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list hosts: %w", err)
	}
	synced := 0
	for _, host := range hosts {
		req, ok := RequestFor(host)
		if !ok {
			continue
		}
		if _, err := s.rec.Sync(ctx, req); err != nil {
			log.Error("host feed sync failed", err, "host_id", host.ID)
			continue
		}
		synced++
	}
	return synced, nil
}

// RequestFor builds the sync request of a host from its sync map. Hosts
// without a calendar, external guest or links have nothing to sync.
func RequestFor(host store.Host) (Request, bool) {
	if host.CalendarID == "" || host.ExternalGuestID == "" || len(host.SyncMap) == 0 {
		return Request{}, false
	}
	req := Request{CalendarID: host.CalendarID, GuestID: host.ExternalGuestID}
	for roomID, link := range host.SyncMap {
		if link == "" {
			continue
		}
		req.Feeds = append(req.Feeds, FeedLink{RoomID: roomID, Link: link})
	}
	sort.Slice(req.Feeds, func(i, j int) bool { return req.Feeds[i].RoomID < req.Feeds[j].RoomID })
	return req, len(req.Feeds) > 0
}
