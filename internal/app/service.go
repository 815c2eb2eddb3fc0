package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"staycal/api/internal/calendar"
	"staycal/api/internal/config"
	"staycal/api/internal/conflict"
	"staycal/api/internal/integrity"
	"staycal/api/internal/log"
	"staycal/api/internal/occupancy"
	"staycal/api/internal/rangeops"
	"staycal/api/internal/reconcile"
	"staycal/api/internal/reconstruct"
	"staycal/api/internal/search"
	"staycal/api/internal/store"
)

type dataStore interface {
	Ping(context.Context) error
	GetHost(context.Context, string) (store.Host, error)
	GetCalendar(context.Context, string) (store.Calendar, error)
	ListRooms(context.Context, string) ([]store.Room, error)
	ListGuests(context.Context, string) ([]store.Guest, error)
	ListCohosts(context.Context, string) ([]store.Cohost, error)
}

// Deps are the collaborators of a Service. Search and Detector are
// optional.
type Deps struct {
	Store    dataStore
	Repo     *integrity.Repository
	Engine   *rangeops.Engine
	Sync     *reconcile.Reconciler
	Detector *conflict.Detector
	Search   *search.Service
	Policy   *config.Policy
}

// Service is the application facade behind the HTTP layer. It validates
// commands, resolves host and calendar context and delegates to the domain
// packages.
type Service struct {
	store    dataStore
	repo     *integrity.Repository
	engine   *rangeops.Engine
	sync     *reconcile.Reconciler
	detector *conflict.Detector
	search   *search.Service
	policy   *config.Policy
	validate *validator.Validate
}

func New(deps Deps) *Service {
	policy := deps.Policy
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	return &Service{
		store:    deps.Store,
		repo:     deps.Repo,
		engine:   deps.Engine,
		sync:     deps.Sync,
		detector: deps.Detector,
		search:   deps.Search,
		policy:   policy,
		validate: newValidator(),
	}
}

// Bootstrap repairs dangling host references left by an interrupted run and
// rebuilds the guest index.
func (s *Service) Bootstrap(ctx context.Context) error {
	repaired, err := s.repo.Verify(ctx)
	if err != nil {
		return err
	}
	if repaired > 0 {
		log.Info("repaired host references", "count", repaired)
	}
	if s.search == nil {
		return nil
	}
	if err := s.search.ReindexAll(ctx); err != nil {
		log.Error("guest reindex failed", err)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Hosts

func (s *Service) RegisterHost(ctx context.Context, cmd RegisterHostCommand) (HostView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return HostView{}, err
	}
	host, err := s.repo.RegisterHost(ctx, integrity.NewHost{Name: cmd.Name, Email: cmd.Email, Password: cmd.Password})
	if err != nil {
		return HostView{}, err
	}
	return hostView(host), nil
}

func (s *Service) GetHost(ctx context.Context, hostID string) (HostView, error) {
	host, err := s.store.GetHost(ctx, hostID)
	if err != nil {
		return HostView{}, err
	}
	return hostView(host), nil
}

func (s *Service) UpdateHost(ctx context.Context, hostID string, cmd UpdateHostCommand) (HostView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return HostView{}, err
	}
	host, err := s.repo.UpdateHost(ctx, hostID, integrity.HostPatch{Name: cmd.Name, Email: cmd.Email})
	if err != nil {
		return HostView{}, err
	}
	return hostView(host), nil
}

func (s *Service) ChangeHostPassword(ctx context.Context, hostID string, cmd ChangePasswordCommand) error {
	if err := s.checkCommand(cmd); err != nil {
		return err
	}
	return s.repo.ChangeHostPassword(ctx, hostID, cmd.Current, cmd.Next)
}

func (s *Service) DeleteHost(ctx context.Context, hostID string) error {
	return s.repo.DeleteHost(ctx, hostID)
}

func (s *Service) SetSyncLink(ctx context.Context, hostID string, cmd SyncLinkCommand) (HostView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return HostView{}, err
	}
	host, err := s.repo.SetSyncLink(ctx, hostID, cmd.RoomID, cmd.Link)
	if err != nil {
		return HostView{}, err
	}
	return hostView(host), nil
}

// Rooms

func (s *Service) CreateRoom(ctx context.Context, hostID string, cmd RoomCommand) (RoomView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return RoomView{}, err
	}
	room, err := s.repo.CreateRoom(ctx, integrity.RoomInput{HostID: hostID, Name: cmd.Name, Price: cmd.Price})
	if err != nil {
		return RoomView{}, err
	}
	return roomView(room), nil
}

func (s *Service) UpdateRoom(ctx context.Context, roomID string, cmd UpdateRoomCommand) (RoomView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return RoomView{}, err
	}
	room, err := s.repo.UpdateRoom(ctx, roomID, integrity.RoomPatch{HostID: cmd.HostID, Name: cmd.Name, Price: cmd.Price})
	if err != nil {
		return RoomView{}, err
	}
	return roomView(room), nil
}

func (s *Service) DeleteRooms(ctx context.Context, cmd IDsCommand) (DeletedView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return DeletedView{}, err
	}
	n, err := s.repo.DeleteRooms(ctx, cmd.IDs)
	return DeletedView{Deleted: n}, err
}

func (s *Service) ListRooms(ctx context.Context, hostID string) ([]RoomView, error) {
	if _, err := s.store.GetHost(ctx, hostID); err != nil {
		return nil, err
	}
	rooms, err := s.store.ListRooms(ctx, hostID)
	if err != nil {
		return nil, err
	}
	out := make([]RoomView, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, roomView(room))
	}
	return out, nil
}

// Guests

func (s *Service) CreateGuest(ctx context.Context, hostID string, cmd GuestCommand) (GuestView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return GuestView{}, err
	}
	guest, err := s.repo.CreateGuest(ctx, integrity.GuestInput{
		HostID:         hostID,
		Name:           cmd.Name,
		Phone:          cmd.Phone,
		Email:          cmd.Email,
		PriceOverrides: cmd.PriceOverrides,
		Returning:      cmd.Returning,
		Notes:          cmd.Notes,
	})
	if err != nil {
		return GuestView{}, err
	}
	return guestView(guest), nil
}

func (s *Service) UpdateGuest(ctx context.Context, guestID string, cmd UpdateGuestCommand) (GuestView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return GuestView{}, err
	}
	guest, err := s.repo.UpdateGuest(ctx, guestID, integrity.GuestPatch{
		HostID:         cmd.HostID,
		Name:           cmd.Name,
		Phone:          cmd.Phone,
		Email:          cmd.Email,
		PriceOverrides: cmd.PriceOverrides,
		Returning:      cmd.Returning,
		Notes:          cmd.Notes,
	})
	if err != nil {
		return GuestView{}, err
	}
	return guestView(guest), nil
}

func (s *Service) DeleteGuests(ctx context.Context, cmd IDsCommand) (DeletedView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return DeletedView{}, err
	}
	n, err := s.repo.DeleteGuests(ctx, cmd.IDs)
	return DeletedView{Deleted: n}, err
}

func (s *Service) ListGuests(ctx context.Context, hostID string) ([]GuestView, error) {
	if _, err := s.store.GetHost(ctx, hostID); err != nil {
		return nil, err
	}
	guests, err := s.store.ListGuests(ctx, hostID)
	if err != nil {
		return nil, err
	}
	out := make([]GuestView, 0, len(guests))
	for _, guest := range guests {
		out = append(out, guestView(guest))
	}
	return out, nil
}

// SearchGuests looks up a host's guests by name, phone or email.
func (s *Service) SearchGuests(ctx context.Context, hostID, text string, limit int) (search.Response, error) {
	if _, err := s.store.GetHost(ctx, hostID); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Guest search is not available.", nil)
	}
	return s.search.Search(ctx, search.Query{HostID: hostID, Text: strings.TrimSpace(text), Limit: limit})
}

// Cohosts

func (s *Service) CreateCohost(ctx context.Context, hostID string, cmd CohostCommand) (CohostView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return CohostView{}, err
	}
	cohost, err := s.repo.CreateCohost(ctx, integrity.CohostInput{HostID: hostID, Name: cmd.Name, Email: cmd.Email, Password: cmd.Password})
	if err != nil {
		return CohostView{}, err
	}
	return cohostView(cohost), nil
}

func (s *Service) UpdateCohost(ctx context.Context, cohostID string, cmd UpdateCohostCommand) (CohostView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return CohostView{}, err
	}
	cohost, err := s.repo.UpdateCohost(ctx, cohostID, integrity.CohostPatch{HostID: cmd.HostID, Name: cmd.Name, Email: cmd.Email})
	if err != nil {
		return CohostView{}, err
	}
	return cohostView(cohost), nil
}

func (s *Service) DeleteCohosts(ctx context.Context, cmd IDsCommand) (DeletedView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return DeletedView{}, err
	}
	n, err := s.repo.DeleteCohosts(ctx, cmd.IDs)
	return DeletedView{Deleted: n}, err
}

func (s *Service) ListCohosts(ctx context.Context, hostID string) ([]CohostView, error) {
	if _, err := s.store.GetHost(ctx, hostID); err != nil {
		return nil, err
	}
	cohosts, err := s.store.ListCohosts(ctx, hostID)
	if err != nil {
		return nil, err
	}
	out := make([]CohostView, 0, len(cohosts))
	for _, cohost := range cohosts {
		out = append(out, cohostView(cohost))
	}
	return out, nil
}

// Blocking

// selection is the resolved form of a DaysCommand.
type selection struct {
	single     *calendar.Date
	dates      []calendar.Date
	start, end calendar.Date
	isRange    bool
}

func (s *Service) selectDays(cmd DaysCommand) (selection, error) {
	if err := s.checkCommand(cmd); err != nil {
		return selection{}, err
	}
	modes := 0
	if cmd.Date != nil {
		modes++
	}
	if len(cmd.Dates) > 0 {
		modes++
	}
	if cmd.Start != nil || cmd.End != nil {
		modes++
	}
	if modes != 1 {
		return selection{}, calendar.Validation("Provide exactly one of date, dates or start and end.")
	}
	switch {
	case cmd.Date != nil:
		return selection{single: cmd.Date}, nil
	case len(cmd.Dates) > 0:
		return selection{dates: cmd.Dates}, nil
	}
	if cmd.Start == nil || cmd.End == nil {
		return selection{}, calendar.Validation("Both start and end are required.")
	}
	return selection{start: *cmd.Start, end: *cmd.End, isRange: true}, nil
}

// Block marks the selected days of a calendar as blocked.
func (s *Service) Block(ctx context.Context, calendarID string, cmd DaysCommand) (DaysView, error) {
	sel, err := s.selectDays(cmd)
	if err != nil {
		return DaysView{}, err
	}
	switch {
	case sel.single != nil:
		return s.BlockDay(ctx, calendarID, *sel.single)
	case sel.isRange:
		return s.BlockRange(ctx, calendarID, sel.start, sel.end)
	default:
		return s.BlockManyDays(ctx, calendarID, sel.dates)
	}
}

// Unblock clears the blocked flag of the selected days.
func (s *Service) Unblock(ctx context.Context, calendarID string, cmd DaysCommand) (DaysView, error) {
	sel, err := s.selectDays(cmd)
	if err != nil {
		return DaysView{}, err
	}
	switch {
	case sel.single != nil:
		return s.UnblockDay(ctx, calendarID, *sel.single)
	case sel.isRange:
		return s.UnblockRange(ctx, calendarID, sel.start, sel.end)
	default:
		return s.UnblockManyDays(ctx, calendarID, sel.dates)
	}
}

func (s *Service) BlockDay(ctx context.Context, calendarID string, date calendar.Date) (DaysView, error) {
	day, err := s.engine.BlockDay(ctx, calendarID, date)
	if err != nil {
		return DaysView{}, err
	}
	return singleDay(day), nil
}

func (s *Service) UnblockDay(ctx context.Context, calendarID string, date calendar.Date) (DaysView, error) {
	day, err := s.engine.UnblockDay(ctx, calendarID, date)
	if err != nil {
		return DaysView{}, err
	}
	return singleDay(day), nil
}

func (s *Service) BlockManyDays(ctx context.Context, calendarID string, dates []calendar.Date) (DaysView, error) {
	res, err := s.engine.BlockManyDays(ctx, calendarID, dates)
	return daysView(res), err
}

func (s *Service) UnblockManyDays(ctx context.Context, calendarID string, dates []calendar.Date) (DaysView, error) {
	res, err := s.engine.UnblockManyDays(ctx, calendarID, dates)
	return daysView(res), err
}

func (s *Service) BlockRange(ctx context.Context, calendarID string, start, end calendar.Date) (DaysView, error) {
	res, err := s.engine.BlockRange(ctx, calendarID, start, end)
	return daysView(res), err
}

func (s *Service) UnblockRange(ctx context.Context, calendarID string, start, end calendar.Date) (DaysView, error) {
	res, err := s.engine.UnblockRange(ctx, calendarID, start, end)
	return daysView(res), err
}

func (s *Service) BlockRoomDays(ctx context.Context, calendarID string, cmd RoomDaysCommand) (DaysView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return DaysView{}, err
	}
	res, err := s.engine.BlockRoomDays(ctx, calendarID, cmd.RoomID, cmd.Dates)
	return daysView(res), err
}

func (s *Service) UnblockRoomDays(ctx context.Context, calendarID string, cmd RoomDaysCommand) (DaysView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return DaysView{}, err
	}
	res, err := s.engine.UnblockRoomDays(ctx, calendarID, cmd.RoomID, cmd.Dates)
	return daysView(res), err
}

func singleDay(day calendar.Day) DaysView {
	return DaysView{Days: []calendar.Day{day}}
}

// Bookings

// BookDays books a stay and, for direct bookings, checks it against the
// blocked segments of the last external sync.
func (s *Service) BookDays(ctx context.Context, calendarID string, cmd BookCommand) (BookingView, error) {
	if err := s.checkCommand(cmd); err != nil {
		return BookingView{}, err
	}
	if cmd.Date.IsZero() {
		return BookingView{}, calendar.Validation("date is required.")
	}
	days, err := s.engine.BookDays(ctx, rangeops.BookRequest{
		CalendarID:     calendarID,
		GuestID:        cmd.GuestID,
		RoomID:         cmd.RoomID,
		Date:           cmd.Date,
		Duration:       cmd.Duration,
		NumberOfGuests: cmd.NumberOfGuests,
		IsAirBnB:       cmd.IsAirBnB,
		Price:          cmd.Price,
		Alias:          cmd.Alias,
		Notes:          cmd.Notes,
		Description:    cmd.Description,
	})
	if err != nil {
		return BookingView{}, err
	}
	view := BookingView{Days: nonNilDays(days)}
	if cmd.IsAirBnB || s.detector == nil {
		return view, nil
	}
	res, err := s.detector.CheckCalendar(ctx, calendarID, conflict.Candidate{RoomID: cmd.RoomID, Start: cmd.Date, Duration: cmd.Duration})
	if err != nil {
		log.Error("conflict check failed", err, "calendar_id", calendarID)
		return view, nil
	}
	view.Conflict = &res
	return view, nil
}

func (s *Service) UnbookGuest(ctx context.Context, bookingID string) ([]calendar.Day, error) {
	days, err := s.engine.UnbookGuest(ctx, bookingID)
	return nonNilDays(days), err
}

// UnbookAirBnB removes externally sourced slices. The guest defaults to the
// calendar host's external guest and From to today.
func (s *Service) UnbookAirBnB(ctx context.Context, calendarID string, cmd UnbookExternalCommand) ([]calendar.Day, error) {
	if err := s.checkCommand(cmd); err != nil {
		return nil, err
	}
	guestID := cmd.GuestID
	if guestID == "" {
		host, err := s.calendarHost(ctx, calendarID)
		if err != nil {
			return nil, err
		}
		guestID = host.ExternalGuestID
	}
	req := rangeops.UnbookExternalRequest{CalendarID: calendarID, GuestID: guestID, RoomIDs: cmd.RoomIDs}
	if cmd.From != nil {
		req.From = *cmd.From
	}
	days, err := s.engine.UnbookAirBnB(ctx, req)
	return nonNilDays(days), err
}

// SyncExternalCalendar reconciles the calendar with its external feeds.
// Without feeds in the command the host's stored sync links are used.
func (s *Service) SyncExternalCalendar(ctx context.Context, calendarID string, cmd SyncCommand) (reconcile.Result, error) {
	if err := s.checkCommand(cmd); err != nil {
		return reconcile.Result{}, err
	}
	host, err := s.calendarHost(ctx, calendarID)
	if err != nil {
		return reconcile.Result{}, err
	}
	req, ok := reconcile.RequestFor(host)
	if len(cmd.Feeds) > 0 {
		req = reconcile.Request{CalendarID: calendarID, GuestID: host.ExternalGuestID, Feeds: cmd.Feeds}
		ok = true
	}
	if !ok {
		return reconcile.Result{}, calendar.Validation("No external calendars to sync.")
	}
	return s.sync.Sync(ctx, req)
}

// Views

// Days lists the stored days of a calendar in [from, to].
func (s *Service) Days(ctx context.Context, calendarID string, from, to calendar.Date) ([]calendar.Day, error) {
	days, err := s.engine.Days(ctx, calendarID, from, to)
	return nonNilDays(days), err
}

// Stays groups the days in [from, to] into contiguous stays.
func (s *Service) Stays(ctx context.Context, calendarID string, from, to calendar.Date) ([]reconstruct.Stay, error) {
	host, err := s.calendarHost(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	days, err := s.engine.Days(ctx, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	stays := reconstruct.Stays(days, host.ExternalGuestID)
	if stays == nil {
		stays = []reconstruct.Stay{}
	}
	return stays, nil
}

// ExternalStays is Stays restricted to externally sourced stays.
func (s *Service) ExternalStays(ctx context.Context, calendarID string, from, to calendar.Date) ([]reconstruct.Stay, error) {
	stays, err := s.Stays(ctx, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]reconstruct.Stay, 0, len(stays))
	for _, stay := range stays {
		if stay.External {
			out = append(out, stay)
		}
	}
	return out, nil
}

// Occupancy reports room occupancy for one month of a calendar.
func (s *Service) Occupancy(ctx context.Context, calendarID string, year int, month time.Month) (occupancy.Report, error) {
	if month < time.January || month > time.December || year < 1 {
		return occupancy.Report{}, calendar.Validation("Invalid month.")
	}
	host, err := s.calendarHost(ctx, calendarID)
	if err != nil {
		return occupancy.Report{}, err
	}
	first := calendar.NewDate(year, month, 1)
	last := calendar.NewDate(year, month, calendar.DaysIn(year, month))
	days, err := s.engine.Days(ctx, calendarID, first, last)
	if err != nil {
		return occupancy.Report{}, err
	}
	rooms, err := s.store.ListRooms(ctx, host.ID)
	if err != nil {
		return occupancy.Report{}, err
	}
	return occupancy.Calculate(occupancy.Input{
		Year:            year,
		Month:           month,
		Days:            days,
		Rooms:           rooms,
		ExcludeRoomName: s.policy.OccupancyExcludedRoom,
	}), nil
}

func (s *Service) calendarHost(ctx context.Context, calendarID string) (store.Host, error) {
	cal, err := s.store.GetCalendar(ctx, calendarID)
	if err != nil {
		return store.Host{}, referenceOr(err, "Calendar not found.")
	}
	host, err := s.store.GetHost(ctx, cal.HostID)
	if err != nil {
		return store.Host{}, referenceOr(err, "Host not found.")
	}
	return host, nil
}

func referenceOr(err error, message string) error {
	if isNotFound(err) {
		return &calendar.Error{Kind: calendar.KindReference, Message: message, Err: err}
	}
	return err
}
