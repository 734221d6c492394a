package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Clock reports the current time in a timezone. Now defaults to time.Now.
// Default is used when the call names no timezone, falling back to UTC.
type Clock struct {
	Now     func() time.Time
	Default string
}

func (Clock) Name() string { return "get_current_time" }

func (Clock) Description() string {
	return "Get current date and time for a requested IANA timezone."
}

func (Clock) Parameters() map[string]any {
	return schema([]string{"timezone"}, map[string]any{
		"timezone": map[string]any{
			"type":        "string",
			"description": "IANA timezone, for example America/New_York or UTC",
		},
	})
}

func (c Clock) Call(_ context.Context, input string) (string, error) {
	tz := strings.TrimSpace(stringArg(parseArgs(input), "timezone"))
	if tz == "" {
		tz = c.Default
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("invalid timezone: %s", tz)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now()

	return encodeResult(map[string]string{
		"timezone":  tz,
		"formatted": t.In(loc).Format("Monday, January 2, 2006 at 3:04:05 PM MST"),
		"iso_utc":   t.UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}
