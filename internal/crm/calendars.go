package crm

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"fieldservice_backend/internal/automation/executor"
)

type calendarEvent struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Address   string `json:"address"`
	Status    string `json:"appointmentStatus"`
	Contact   *struct {
		Name string `json:"name"`
	} `json:"contact,omitempty"`
}

type calendarEventsResponse struct {
	Events []calendarEvent `json:"events"`
}

// ListAppointments returns the user's non-cancelled appointments in [from, to), ordered by start.
func (c *Client) ListAppointments(ctx context.Context, locationID, userID string, from, to time.Time) ([]executor.BriefAppointment, error) {
	params := url.Values{}
	params.Set("locationId", locationID)
	params.Set("userId", userID)
	params.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))

	var out calendarEventsResponse
	if err := c.do(ctx, http.MethodGet, "/calendars/events?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}

	appointments := make([]executor.BriefAppointment, 0, len(out.Events))
	for _, e := range out.Events {
		if e.Status == "cancelled" {
			continue
		}
		start, err := time.Parse(time.RFC3339, e.StartTime)
		if err != nil {
			c.log.Warn("crm event with unparseable start time", "eventId", e.ID, "startTime", e.StartTime)
			continue
		}
		end, _ := time.Parse(time.RFC3339, e.EndTime)
		a := executor.BriefAppointment{
			ID:        e.ID,
			Title:     e.Title,
			StartTime: start.UTC(),
			EndTime:   end.UTC(),
			Address:   e.Address,
		}
		if e.Contact != nil {
			a.ContactName = e.Contact.Name
		}
		appointments = append(appointments, a)
	}
	sort.Slice(appointments, func(i, j int) bool {
		return appointments[i].StartTime.Before(appointments[j].StartTime)
	})
	return appointments, nil
}
