package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"staycal/api/internal/calendar"
	"staycal/api/internal/log"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "hosts":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body RegisterHostCommand
		if !readBody(w, r, &body) {
			return
		}
		host, err := s.service.RegisterHost(r.Context(), body)
		respond(w, http.StatusCreated, host, err)
	case len(parts) >= 3 && parts[1] == "hosts":
		s.handleHosts(w, r, parts[2], parts[3:])
	case len(parts) == 3 && parts[1] == "rooms":
		s.handleRoom(w, r, parts[2])
	case len(parts) == 3 && parts[1] == "guests":
		s.handleGuest(w, r, parts[2])
	case len(parts) == 3 && parts[1] == "cohosts":
		s.handleCohost(w, r, parts[2])
	case len(parts) == 3 && parts[1] == "bookings":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		days, err := s.service.UnbookGuest(r.Context(), parts[2])
		respond(w, http.StatusOK, map[string]any{"days": days}, err)
	case len(parts) == 4 && parts[1] == "calendars":
		s.handleCalendar(w, r, parts[2], parts[3])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleHosts(w http.ResponseWriter, r *http.Request, hostID string, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			host, err := s.service.GetHost(ctx, hostID)
			respond(w, http.StatusOK, host, err)
		case http.MethodPut:
			var body UpdateHostCommand
			if !readBody(w, r, &body) {
				return
			}
			host, err := s.service.UpdateHost(ctx, hostID, body)
			respond(w, http.StatusOK, host, err)
		case http.MethodDelete:
			err := s.service.DeleteHost(ctx, hostID)
			respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			methodNotAllowed(w)
		}
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch rest[0] {
	case "password":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var body ChangePasswordCommand
		if !readBody(w, r, &body) {
			return
		}
		err := s.service.ChangeHostPassword(ctx, hostID, body)
		respond(w, http.StatusOK, map[string]any{"ok": true}, err)
	case "sync":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var body SyncLinkCommand
		if !readBody(w, r, &body) {
			return
		}
		host, err := s.service.SetSyncLink(ctx, hostID, body)
		respond(w, http.StatusOK, host, err)
	case "rooms":
		switch r.Method {
		case http.MethodGet:
			rooms, err := s.service.ListRooms(ctx, hostID)
			respond(w, http.StatusOK, map[string]any{"rooms": rooms}, err)
		case http.MethodPost:
			var body RoomCommand
			if !readBody(w, r, &body) {
				return
			}
			room, err := s.service.CreateRoom(ctx, hostID, body)
			respond(w, http.StatusCreated, room, err)
		case http.MethodDelete:
			var body IDsCommand
			if !readBody(w, r, &body) {
				return
			}
			deleted, err := s.service.DeleteRooms(ctx, body)
			respond(w, http.StatusOK, deleted, err)
		default:
			methodNotAllowed(w)
		}
	case "guests":
		switch r.Method {
		case http.MethodGet:
			if q := r.URL.Query(); q.Has("q") {
				limit, _ := strconv.Atoi(q.Get("limit"))
				res, err := s.service.SearchGuests(ctx, hostID, q.Get("q"), limit)
				respond(w, http.StatusOK, res, err)
				return
			}
			guests, err := s.service.ListGuests(ctx, hostID)
			respond(w, http.StatusOK, map[string]any{"guests": guests}, err)
		case http.MethodPost:
			var body GuestCommand
			if !readBody(w, r, &body) {
				return
			}
			guest, err := s.service.CreateGuest(ctx, hostID, body)
			respond(w, http.StatusCreated, guest, err)
		case http.MethodDelete:
			var body IDsCommand
			if !readBody(w, r, &body) {
				return
			}
			deleted, err := s.service.DeleteGuests(ctx, body)
			respond(w, http.StatusOK, deleted, err)
		default:
			methodNotAllowed(w)
		}
	case "cohosts":
		switch r.Method {
		case http.MethodGet:
			cohosts, err := s.service.ListCohosts(ctx, hostID)
			respond(w, http.StatusOK, map[string]any{"cohosts": cohosts}, err)
		case http.MethodPost:
			var body CohostCommand
			if !readBody(w, r, &body) {
				return
			}
			cohost, err := s.service.CreateCohost(ctx, hostID, body)
			respond(w, http.StatusCreated, cohost, err)
		case http.MethodDelete:
			var body IDsCommand
			if !readBody(w, r, &body) {
				return
			}
			deleted, err := s.service.DeleteCohosts(ctx, body)
			respond(w, http.StatusOK, deleted, err)
		default:
			methodNotAllowed(w)
		}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	switch r.Method {
	case http.MethodPut:
		var body UpdateRoomCommand
		if !readBody(w, r, &body) {
			return
		}
		room, err := s.service.UpdateRoom(r.Context(), roomID, body)
		respond(w, http.StatusOK, room, err)
	case http.MethodDelete:
		deleted, err := s.service.DeleteRooms(r.Context(), IDsCommand{IDs: []string{roomID}})
		respond(w, http.StatusOK, deleted, err)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleGuest(w http.ResponseWriter, r *http.Request, guestID string) {
	switch r.Method {
	case http.MethodPut:
		var body UpdateGuestCommand
		if !readBody(w, r, &body) {
			return
		}
		guest, err := s.service.UpdateGuest(r.Context(), guestID, body)
		respond(w, http.StatusOK, guest, err)
	case http.MethodDelete:
		deleted, err := s.service.DeleteGuests(r.Context(), IDsCommand{IDs: []string{guestID}})
		respond(w, http.StatusOK, deleted, err)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleCohost(w http.ResponseWriter, r *http.Request, cohostID string) {
	switch r.Method {
	case http.MethodPut:
		var body UpdateCohostCommand
		if !readBody(w, r, &body) {
			return
		}
		cohost, err := s.service.UpdateCohost(r.Context(), cohostID, body)
		respond(w, http.StatusOK, cohost, err)
	case http.MethodDelete:
		deleted, err := s.service.DeleteCohosts(r.Context(), IDsCommand{IDs: []string{cohostID}})
		respond(w, http.StatusOK, deleted, err)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request, calendarID, action string) {
	ctx := r.Context()

	if r.Method == http.MethodGet {
		switch action {
		case "days", "stays", "external-stays":
			from, to, err := dateWindow(r)
			if err != nil {
				respond(w, http.StatusOK, nil, err)
				return
			}
			switch action {
			case "days":
				days, err := s.service.Days(ctx, calendarID, from, to)
				respond(w, http.StatusOK, map[string]any{"days": days}, err)
			case "stays":
				stays, err := s.service.Stays(ctx, calendarID, from, to)
				respond(w, http.StatusOK, map[string]any{"stays": stays}, err)
			default:
				stays, err := s.service.ExternalStays(ctx, calendarID, from, to)
				respond(w, http.StatusOK, map[string]any{"stays": stays}, err)
			}
		case "occupancy":
			year, errYear := strconv.Atoi(r.URL.Query().Get("year"))
			month, errMonth := strconv.Atoi(r.URL.Query().Get("month"))
			if errYear != nil || errMonth != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "year and month are required.", nil)
				return
			}
			report, err := s.service.Occupancy(ctx, calendarID, year, time.Month(month))
			respond(w, http.StatusOK, report, err)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch {
	case r.Method == http.MethodPost && (action == "block" || action == "unblock"):
		var body DaysCommand
		if !readBody(w, r, &body) {
			return
		}
		var (
			res DaysView
			err error
		)
		if action == "block" {
			res, err = s.service.Block(ctx, calendarID, body)
		} else {
			res, err = s.service.Unblock(ctx, calendarID, body)
		}
		respond(w, http.StatusOK, res, err)
	case r.Method == http.MethodPost && (action == "room-block" || action == "room-unblock"):
		var body RoomDaysCommand
		if !readBody(w, r, &body) {
			return
		}
		var (
			res DaysView
			err error
		)
		if action == "room-block" {
			res, err = s.service.BlockRoomDays(ctx, calendarID, body)
		} else {
			res, err = s.service.UnblockRoomDays(ctx, calendarID, body)
		}
		respond(w, http.StatusOK, res, err)
	case r.Method == http.MethodPost && action == "bookings":
		var body BookCommand
		if !readBody(w, r, &body) {
			return
		}
		res, err := s.service.BookDays(ctx, calendarID, body)
		respond(w, http.StatusCreated, res, err)
	case r.Method == http.MethodDelete && action == "external-stays":
		var body UnbookExternalCommand
		if !readBody(w, r, &body) {
			return
		}
		days, err := s.service.UnbookAirBnB(ctx, calendarID, body)
		respond(w, http.StatusOK, map[string]any{"days": days}, err)
	case r.Method == http.MethodPost && action == "sync":
		var body SyncCommand
		if !readBody(w, r, &body) {
			return
		}
		res, err := s.service.SyncExternalCalendar(ctx, calendarID, body)
		respond(w, http.StatusOK, res, err)
	default:
		methodNotAllowed(w)
	}
}

// dateWindow reads the inclusive from/to query parameters.
func dateWindow(r *http.Request) (calendar.Date, calendar.Date, error) {
	q := r.URL.Query()
	from, err := calendar.ParseDate(q.Get("from"))
	if err != nil {
		return calendar.Date{}, calendar.Date{}, calendar.Validation("from must be a YYYY-MM-DD date.")
	}
	to, err := calendar.ParseDate(q.Get("to"))
	if err != nil {
		return calendar.Date{}, calendar.Date{}, calendar.Validation("to must be a YYYY-MM-DD date.")
	}
	if to.Before(from) {
		return calendar.Date{}, calendar.Date{}, calendar.Validation("to must not be before from.")
	}
	return from, to, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// respond writes payload with status, or the mapped error when err is set.
func respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		code, errCode, message, details := mapError(err)
		if code == http.StatusInternalServerError {
			log.Error("request failed", err)
		}
		writeError(w, code, errCode, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func readBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

// decodeBody decodes a JSON body into target. An empty body leaves target
// untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
