// Package occupancy computes per-room and total monthly occupancy.
package occupancy

import (
	"math"
	"strings"
	"time"

	"staycal/api/internal/calendar"
	"staycal/api/internal/store"
)

type Input struct {
	Year  int
	Month time.Month
	Days  []calendar.Day
	Rooms []store.Room
	// ExcludeRoomName drops a room from the total, matched case-insensitively.
	ExcludeRoomName string
}

type RoomOccupancy struct {
	RoomID       string  `json:"roomId"`
	Name         string  `json:"name"`
	OccupiedDays int     `json:"occupiedDays"`
	Percent      float64 `json:"percent"`
	Excluded     bool    `json:"excluded"`
}

type Report struct {
	Year        int             `json:"year"`
	Month       time.Month      `json:"month"`
	DaysInMonth int             `json:"daysInMonth"`
	Rooms       []RoomOccupancy `json:"rooms"`
	Total       float64         `json:"total"`
}

// Calculate counts, for each room, the distinct days of the month holding
// at least one booking of that room. Days outside the month are ignored.
func Calculate(in Input) Report {
	daysInMonth := calendar.DaysIn(in.Year, in.Month)
	report := Report{
		Year:        in.Year,
		Month:       in.Month,
		DaysInMonth: daysInMonth,
		Rooms:       make([]RoomOccupancy, 0, len(in.Rooms)),
	}

	occupied := map[string]map[calendar.Date]struct{}{}
	for _, day := range in.Days {
		if day.Date.Year != in.Year || day.Date.Month != in.Month {
			continue
		}
		for _, b := range day.Bookings {
			if occupied[b.RoomID] == nil {
				occupied[b.RoomID] = map[calendar.Date]struct{}{}
			}
			occupied[b.RoomID][day.Date] = struct{}{}
		}
	}

	exclude := strings.TrimSpace(in.ExcludeRoomName)
	counted, sum := 0, 0
	for _, room := range in.Rooms {
		days := len(occupied[room.ID])
		excluded := exclude != "" && strings.EqualFold(strings.TrimSpace(room.Name), exclude)
		report.Rooms = append(report.Rooms, RoomOccupancy{
			RoomID:       room.ID,
			Name:         room.Name,
			OccupiedDays: days,
			Percent:      percent(days, daysInMonth),
			Excluded:     excluded,
		})
		if !excluded {
			counted++
			sum += days
		}
	}
	if counted > 0 {
		report.Total = percent(sum, counted*daysInMonth)
	}
	return report
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}
