package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"staycal/api/internal/calendar"
	"staycal/api/internal/config"
	"staycal/api/internal/conflict"
	"staycal/api/internal/feed"
	"staycal/api/internal/integrity"
	"staycal/api/internal/rangeops"
	"staycal/api/internal/reconcile"
	"staycal/api/internal/search"
	"staycal/api/internal/store"
)

const testFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Test//Feed//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:res-1@test\r\n" +
	"DTSTAMP:20251101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20251202\r\n" +
	"DTEND;VALUE=DATE:20251204\r\n" +
	"SUMMARY:Reserved\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:blk-1@test\r\n" +
	"DTSTAMP:20251101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20251208\r\n" +
	"DTEND;VALUE=DATE:20251211\r\n" +
	"SUMMARY:Airbnb (Not available)\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type feedStub struct {
	bodies map[string]string
}

func (f *feedStub) Fetch(_ context.Context, src feed.Source) (feed.Result, error) {
	body, ok := f.bodies[src.URL]
	if !ok {
		return feed.Result{}, calendar.ExternalFetch("Could not fetch calendar.", errors.New("unreachable"))
	}
	return feed.Result{Source: src, Body: []byte(body)}, nil
}

type testApp struct {
	svc     *Service
	handler http.Handler
	store   *store.MemoryStore
	feeds   *feedStub
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	mem := store.NewMemoryStore()
	policy := config.DefaultPolicy()
	policy.OccupancyExcludedRoom = "Storage"

	searchSvc := search.NewService(nil, mem)
	repo := integrity.NewRepository(mem, policy.PhoneRegion, searchSvc)
	engine := rangeops.New(mem, time.UTC)
	engine.SetClock(func() time.Time { return time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC) })

	feeds := &feedStub{bodies: map[string]string{}}
	advisory := conflict.NewMemoryAdvisoryStore()
	rec := reconcile.New(engine, feeds, reconcile.Options{
		Labels:      policy.FeedLabels,
		HorizonDays: policy.HorizonDays,
		Location:    time.UTC,
		Advisory:    advisory,
	})

	svc := New(Deps{
		Store:    mem,
		Repo:     repo,
		Engine:   engine,
		Sync:     rec,
		Detector: conflict.NewDetector(advisory),
		Search:   searchSvc,
		Policy:   policy,
	})
	return &testApp{svc: svc, handler: NewHTTPServer(svc, "*").Handler(), store: mem, feeds: feeds}
}

func (a *testApp) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	if out != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: parse response %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr.Code
}

// seedHost registers a host with one room and one guest through the API.
func (a *testApp) seedHost(t *testing.T) (HostView, RoomView, GuestView) {
	t.Helper()
	var host HostView
	if code := a.do(t, http.MethodPost, "/api/hosts", map[string]any{
		"name": "Lucía", "email": "Lucia@Example.com", "password": "correct-horse",
	}, &host); code != http.StatusCreated {
		t.Fatalf("register host: status %d", code)
	}
	var room RoomView
	if code := a.do(t, http.MethodPost, "/api/hosts/"+host.ID+"/rooms", map[string]any{
		"name": "Blue", "price": "60",
	}, &room); code != http.StatusCreated {
		t.Fatalf("create room: status %d", code)
	}
	var guest GuestView
	if code := a.do(t, http.MethodPost, "/api/hosts/"+host.ID+"/guests", map[string]any{
		"name": "Ana Pérez", "phone": "612345678", "email": "ana@example.com",
	}, &guest); code != http.StatusCreated {
		t.Fatalf("create guest: status %d", code)
	}
	host, err := a.svc.GetHost(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("reload host: %v", err)
	}
	return host, room, guest
}

func TestRegisterHostHidesCredentials(t *testing.T) {
	app := newTestApp(t)
	rr := httptest.NewRecorder()
	raw := `{"name":"Lucía","email":"lucia@example.com","password":"correct-horse"}`
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/hosts", strings.NewReader(raw)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(strings.ToLower(rr.Body.String()), "password") {
		t.Fatalf("response leaks credentials: %s", rr.Body.String())
	}
	var host HostView
	if err := json.Unmarshal(rr.Body.Bytes(), &host); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if host.CalendarID == "" || host.ExternalGuestID == "" {
		t.Fatalf("expected calendar and external guest, got %+v", host)
	}
}

func TestCommandValidationMessages(t *testing.T) {
	app := newTestApp(t)
	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{name: "missing name", body: map[string]any{"email": "a@example.com", "password": "correct-horse"}, want: "name is required."},
		{name: "bad email", body: map[string]any{"name": "A", "email": "nope", "password": "correct-horse"}, want: "Invalid email address."},
		{name: "short password", body: map[string]any{"name": "A", "email": "a@example.com", "password": "short"}, want: "password must be at least 8."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			code := app.do(t, http.MethodPost, "/api/hosts", tt.body, &body)
			if code != http.StatusBadRequest || body["code"] != "VALIDATION_ERROR" {
				t.Fatalf("expected 400 VALIDATION_ERROR, got %d %v", code, body)
			}
			if body["error"] != tt.want {
				t.Fatalf("expected %q, got %v", tt.want, body["error"])
			}
		})
	}
}

func TestInvalidJSONBody(t *testing.T) {
	app := newTestApp(t)
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/hosts", strings.NewReader("{")))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "INVALID_BODY") {
		t.Fatalf("expected INVALID_BODY, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestBookStaysAndOccupancy(t *testing.T) {
	app := newTestApp(t)
	host, room, guest := app.seedHost(t)
	cal := "/api/calendars/" + host.CalendarID

	var booking BookingView
	code := app.do(t, http.MethodPost, cal+"/bookings", map[string]any{
		"guest": guest.ID, "room": room.ID, "date": "2025-12-01", "duration": 3, "numberOfGuests": 2,
	}, &booking)
	if code != http.StatusCreated {
		t.Fatalf("book: status %d", code)
	}
	if len(booking.Days) != 3 {
		t.Fatalf("expected 3 booked days, got %d", len(booking.Days))
	}
	if booking.Conflict == nil || !booking.Conflict.BlockExternally {
		t.Fatalf("expected a clear advisory, got %+v", booking.Conflict)
	}

	var stays struct {
		Stays []struct {
			GuestID   string `json:"guestId"`
			StartDate string `json:"startDate"`
			Duration  int    `json:"duration"`
			External  bool   `json:"external"`
		} `json:"stays"`
	}
	if code := app.do(t, http.MethodGet, cal+"/stays?from=2025-12-01&to=2025-12-31", nil, &stays); code != http.StatusOK {
		t.Fatalf("stays: status %d", code)
	}
	if len(stays.Stays) != 1 || stays.Stays[0].Duration != 3 || stays.Stays[0].StartDate != "2025-12-01" || stays.Stays[0].External {
		t.Fatalf("unexpected stays %+v", stays.Stays)
	}

	var report struct {
		DaysInMonth int     `json:"daysInMonth"`
		Total       float64 `json:"total"`
	}
	if code := app.do(t, http.MethodGet, cal+"/occupancy?year=2025&month=12", nil, &report); code != http.StatusOK {
		t.Fatalf("occupancy: status %d", code)
	}
	if report.DaysInMonth != 31 || report.Total != 9.68 {
		t.Fatalf("unexpected occupancy %+v", report)
	}
}

func TestBlockedDayRejectsBooking(t *testing.T) {
	app := newTestApp(t)
	host, room, guest := app.seedHost(t)
	cal := "/api/calendars/" + host.CalendarID

	var blocked DaysView
	if code := app.do(t, http.MethodPost, cal+"/block", map[string]any{"start": "2025-12-05", "end": "2025-12-07"}, &blocked); code != http.StatusOK {
		t.Fatalf("block: status %d", code)
	}
	if blocked.Summary.Upserted != 3 {
		t.Fatalf("expected 3 upserted days, got %+v", blocked.Summary)
	}

	var body map[string]any
	code := app.do(t, http.MethodPost, cal+"/bookings", map[string]any{
		"guest": guest.ID, "room": room.ID, "date": "2025-12-04", "duration": 2,
	}, &body)
	if code != http.StatusConflict || body["code"] != "CONSISTENCY_ERROR" {
		t.Fatalf("expected 409 CONSISTENCY_ERROR, got %d %v", code, body)
	}

	var days struct {
		Days []calendar.Day `json:"days"`
	}
	app.do(t, http.MethodGet, cal+"/days?from=2025-12-01&to=2025-12-31", nil, &days)
	for _, d := range days.Days {
		if len(d.Bookings) > 0 {
			t.Fatalf("rejected booking left a slice on %s", d.Date)
		}
	}
}

func TestDaySelectionModes(t *testing.T) {
	app := newTestApp(t)
	host, _, _ := app.seedHost(t)
	cal := "/api/calendars/" + host.CalendarID

	var body map[string]any
	code := app.do(t, http.MethodPost, cal+"/block", map[string]any{"date": "2025-12-05", "dates": []string{"2025-12-06"}}, &body)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for two modes, got %d", code)
	}
	code = app.do(t, http.MethodPost, cal+"/block", map[string]any{"start": "2025-12-05"}, &body)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an open range, got %d", code)
	}

	var res DaysView
	if code := app.do(t, http.MethodPost, cal+"/block", map[string]any{"dates": []string{"2025-12-06", "2025-12-08"}}, &res); code != http.StatusOK {
		t.Fatalf("block many: status %d", code)
	}
	if len(res.Days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(res.Days))
	}
	if code := app.do(t, http.MethodPost, cal+"/unblock", map[string]any{"date": "2025-12-06"}, &res); code != http.StatusOK {
		t.Fatalf("unblock: status %d", code)
	}
	if len(res.Days) != 1 || res.Days[0].IsBlocked {
		t.Fatalf("expected one unblocked day, got %+v", res.Days)
	}
}

func TestSyncThenConflictAdvisory(t *testing.T) {
	app := newTestApp(t)
	host, room, guest := app.seedHost(t)
	cal := "/api/calendars/" + host.CalendarID
	link := "https://feeds.test/blue.ics"
	app.feeds.bodies[link] = testFeed

	var updated HostView
	if code := app.do(t, http.MethodPut, "/api/hosts/"+host.ID+"/sync", map[string]any{"room": room.ID, "link": link}, &updated); code != http.StatusOK {
		t.Fatalf("set sync link: status %d", code)
	}
	if updated.SyncMap[room.ID] != link {
		t.Fatalf("sync link not stored: %+v", updated.SyncMap)
	}

	var synced reconcile.Result
	if code := app.do(t, http.MethodPost, cal+"/sync", nil, &synced); code != http.StatusOK {
		t.Fatalf("sync: status %d", code)
	}
	if len(synced.Reserved) != 2 {
		t.Fatalf("expected 2 reserved days, got %d", len(synced.Reserved))
	}
	if segs := synced.Blocked[room.ID]; len(segs) != 1 || segs[0].Nights != 3 {
		t.Fatalf("unexpected blocked segments %+v", synced.Blocked)
	}

	var booking BookingView
	app.do(t, http.MethodPost, cal+"/bookings", map[string]any{
		"guest": guest.ID, "room": room.ID, "date": "2025-12-09", "duration": 2,
	}, &booking)
	if booking.Conflict == nil || booking.Conflict.BlockExternally || len(booking.Conflict.Overlaps) != 1 {
		t.Fatalf("expected an overlap advisory, got %+v", booking.Conflict)
	}

	var external struct {
		Stays []struct {
			External bool `json:"external"`
		} `json:"stays"`
	}
	app.do(t, http.MethodGet, cal+"/external-stays?from=2025-12-01&to=2025-12-31", nil, &external)
	if len(external.Stays) != 1 || !external.Stays[0].External {
		t.Fatalf("expected one external stay, got %+v", external.Stays)
	}

	var removed struct {
		Days []calendar.Day `json:"days"`
	}
	if code := app.do(t, http.MethodDelete, cal+"/external-stays", nil, &removed); code != http.StatusOK {
		t.Fatalf("unbook external: status %d", code)
	}
	if len(removed.Days) != 2 {
		t.Fatalf("expected 2 days touched, got %d", len(removed.Days))
	}
	app.do(t, http.MethodGet, cal+"/external-stays?from=2025-12-01&to=2025-12-31", nil, &external)
	if len(external.Stays) != 0 {
		t.Fatalf("external stays survived unbooking: %+v", external.Stays)
	}
}

func TestSyncWithoutLinks(t *testing.T) {
	app := newTestApp(t)
	host, _, _ := app.seedHost(t)
	var body map[string]any
	code := app.do(t, http.MethodPost, "/api/calendars/"+host.CalendarID+"/sync", nil, &body)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %v", code, body)
	}
}

func TestSyncFetchFailure(t *testing.T) {
	app := newTestApp(t)
	host, room, _ := app.seedHost(t)
	var body map[string]any
	code := app.do(t, http.MethodPost, "/api/calendars/"+host.CalendarID+"/sync", map[string]any{
		"feeds": []map[string]string{{"room": room.ID, "link": "https://feeds.test/missing.ics"}},
	}, &body)
	if code != http.StatusBadGateway || body["code"] != "EXTERNAL_FETCH_ERROR" {
		t.Fatalf("expected 502 EXTERNAL_FETCH_ERROR, got %d %v", code, body)
	}
}

func TestDeleteRoomStripsBookings(t *testing.T) {
	app := newTestApp(t)
	host, room, guest := app.seedHost(t)
	cal := "/api/calendars/" + host.CalendarID
	app.do(t, http.MethodPost, cal+"/bookings", map[string]any{
		"guest": guest.ID, "room": room.ID, "date": "2025-12-01", "duration": 2,
	}, nil)

	var deleted DeletedView
	if code := app.do(t, http.MethodDelete, "/api/rooms/"+room.ID, nil, &deleted); code != http.StatusOK {
		t.Fatalf("delete room: status %d", code)
	}
	if deleted.Deleted != 1 {
		t.Fatalf("expected 1 deleted room, got %d", deleted.Deleted)
	}

	var days struct {
		Days []calendar.Day `json:"days"`
	}
	app.do(t, http.MethodGet, cal+"/days?from=2025-12-01&to=2025-12-31", nil, &days)
	for _, d := range days.Days {
		if len(d.Bookings) != 0 {
			t.Fatalf("booking of a deleted room survived on %s", d.Date)
		}
	}
	var rooms struct {
		Rooms []RoomView `json:"rooms"`
	}
	app.do(t, http.MethodGet, "/api/hosts/"+host.ID+"/rooms", nil, &rooms)
	if len(rooms.Rooms) != 0 {
		t.Fatalf("expected no rooms, got %+v", rooms.Rooms)
	}
}

func TestUnbookGuestByBookingID(t *testing.T) {
	app := newTestApp(t)
	host, room, guest := app.seedHost(t)
	var booking BookingView
	app.do(t, http.MethodPost, "/api/calendars/"+host.CalendarID+"/bookings", map[string]any{
		"guest": guest.ID, "room": room.ID, "date": "2025-12-01", "duration": 2,
	}, &booking)
	if len(booking.Days) == 0 || len(booking.Days[0].Bookings) != 1 {
		t.Fatalf("unexpected booking %+v", booking)
	}
	var removed struct {
		Days []calendar.Day `json:"days"`
	}
	if code := app.do(t, http.MethodDelete, "/api/bookings/"+booking.Days[0].Bookings[0].ID, nil, &removed); code != http.StatusOK {
		t.Fatalf("unbook: status %d", code)
	}
	if len(removed.Days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(removed.Days))
	}
}

func TestGuestSearchFallsBackToStore(t *testing.T) {
	app := newTestApp(t)
	host, _, guest := app.seedHost(t)
	var res search.Response
	if code := app.do(t, http.MethodGet, "/api/hosts/"+host.ID+"/guests?q=ana", nil, &res); code != http.StatusOK {
		t.Fatalf("search: status %d", code)
	}
	if res.Total != 1 || res.Results[0].ID != guest.ID {
		t.Fatalf("unexpected search results %+v", res)
	}
}

func TestCohostLifecycle(t *testing.T) {
	app := newTestApp(t)
	host, _, _ := app.seedHost(t)
	var cohost CohostView
	if code := app.do(t, http.MethodPost, "/api/hosts/"+host.ID+"/cohosts", map[string]any{
		"name": "Marta", "email": "marta@example.com", "password": "another-horse",
	}, &cohost); code != http.StatusCreated {
		t.Fatalf("create cohost: status %d", code)
	}
	var deleted DeletedView
	app.do(t, http.MethodDelete, "/api/hosts/"+host.ID+"/cohosts", map[string]any{"ids": []string{cohost.ID}}, &deleted)
	if deleted.Deleted != 1 {
		t.Fatalf("expected 1 deleted cohost, got %d", deleted.Deleted)
	}
	reloaded, err := app.svc.GetHost(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("get host: %v", err)
	}
	if len(reloaded.CohostIDs) != 0 {
		t.Fatalf("cohost id left on host: %v", reloaded.CohostIDs)
	}
}

func TestMissingHostIsNotFound(t *testing.T) {
	app := newTestApp(t)
	var body map[string]any
	if code := app.do(t, http.MethodGet, "/api/hosts/nope", nil, &body); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := app.do(t, http.MethodGet, "/api/calendars/nope/stays?from=2025-12-01&to=2025-12-02", nil, &body); code != http.StatusNotFound || body["code"] != "REFERENCE_ERROR" {
		t.Fatalf("expected 404 REFERENCE_ERROR, got %d %v", code, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	app := newTestApp(t)
	var body map[string]any
	if code := app.do(t, http.MethodPatch, "/api/hosts", nil, &body); code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{calendar.Validation("bad"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{calendar.Consistency("bad"), http.StatusConflict, "CONSISTENCY_ERROR"},
		{calendar.Duplicate("bad"), http.StatusConflict, "DUPLICATE"},
		{calendar.Reference("bad"), http.StatusNotFound, "REFERENCE_ERROR"},
		{calendar.ExternalFetch("bad", errors.New("io")), http.StatusBadGateway, "EXTERNAL_FETCH_ERROR"},
		{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		status, code, _, _ := mapError(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Errorf("mapError(%v) = %d %s, want %d %s", tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}
