package gcal

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/availability-sync/backend/internal/storage/models"
)

// fromGoogleEvent converts an API event. All-day end dates are exclusive on
// the wire and inclusive in models.AllDaySpan.
func fromGoogleEvent(item *calendar.Event) models.ExternalEvent {
	ev := models.ExternalEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Status:      item.Status,
	}
	if item.ExtendedProperties != nil {
		ev.SourceBlockID = item.ExtendedProperties.Private[sourceProperty]
	}

	if item.Start == nil {
		return ev
	}

	if item.Start.Date != "" {
		span := models.AllDaySpan{StartDate: item.Start.Date}
		if item.End != nil && item.End.Date != "" {
			span.EndDate = inclusiveEnd(item.Start.Date, item.End.Date)
		}
		ev.When = span
		return ev
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return ev
	}
	span := models.TimedSpan{Start: start}
	if item.End != nil {
		if end, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
			span.End = end
		}
	}
	ev.When = span
	return ev
}

func toGoogleEvent(ev models.ExternalEvent, blockID string) (*calendar.Event, error) {
	item := &calendar.Event{
		Summary:      ev.Title,
		Description:  ev.Description,
		Transparency: "opaque",
	}
	if blockID != "" {
		item.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{sourceProperty: blockID},
		}
	}

	switch when := ev.When.(type) {
	case models.AllDaySpan:
		end := when.EndDate
		if end == "" {
			end = when.StartDate
		}
		exclusive, err := exclusiveEnd(end)
		if err != nil {
			return nil, err
		}
		item.Start = &calendar.EventDateTime{Date: when.StartDate}
		item.End = &calendar.EventDateTime{Date: exclusive}
	case models.TimedSpan:
		zone := when.Start.Location().String()
		item.Start = &calendar.EventDateTime{DateTime: when.Start.Format(time.RFC3339), TimeZone: zone}
		item.End = &calendar.EventDateTime{DateTime: when.End.Format(time.RFC3339), TimeZone: zone}
	default:
		return nil, fmt.Errorf("event %q has no start/end", ev.Title)
	}

	return item, nil
}

func inclusiveEnd(start, exclusive string) string {
	end, err := time.Parse(models.DateLayout, exclusive)
	if err != nil {
		return start
	}
	inclusive := end.AddDate(0, 0, -1).Format(models.DateLayout)
	if inclusive < start {
		return start
	}
	return inclusive
}

func exclusiveEnd(inclusive string) (string, error) {
	end, err := time.Parse(models.DateLayout, inclusive)
	if err != nil {
		return "", fmt.Errorf("invalid end date %q", inclusive)
	}
	return end.AddDate(0, 0, 1).Format(models.DateLayout), nil
}
