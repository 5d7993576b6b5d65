package domain

import "time"

// ActivityCategory tag of an activity log entry.
type ActivityCategory string

const (
	ActivityInfo      ActivityCategory = "info"
	ActivityStrategy  ActivityCategory = "strategy"
	ActivityTrade     ActivityCategory = "trade"
	ActivityError     ActivityCategory = "error"
	ActivityPortfolio ActivityCategory = "portfolio"
	ActivityTrace     ActivityCategory = "trace"
)

// ActivityEntry single user-facing activity line.
type ActivityEntry struct {
	Time     time.Time        `json:"time"`
	Category ActivityCategory `json:"category"`
	Message  string           `json:"message"`
}

// Clock HH:MM:SS representation of the entry time.
func (e ActivityEntry) Clock() string {
	return e.Time.Format(time.TimeOnly)
}
