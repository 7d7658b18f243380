package domain

import "fmt"

// Status is the display state derived from a subscription's dates and flag.
type Status string

const (
	StatusActive       Status = "active"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
	StatusInactive     Status = "inactive"
)

// ExpiringSoonWindowDays is the inclusive look-ahead for StatusExpiringSoon.
const ExpiringSoonWindowDays = 30

// Statuses lists every status in display order.
var Statuses = []Status{StatusActive, StatusExpiringSoon, StatusExpired, StatusInactive}

// ParseStatus validates a status filter value.
func ParseStatus(raw string) (Status, error) {
	for _, s := range Statuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidField, raw)
}

// Classify derives the status of sub on the given day. The user's flag wins
// over dates; a subscription expiring today is not yet expired.
func Classify(sub Subscription, today Date) Status {
	if !sub.IsActive {
		return StatusInactive
	}
	days := DaysUntilExpiry(sub, today)
	switch {
	case days < 0:
		return StatusExpired
	case days <= ExpiringSoonWindowDays:
		return StatusExpiringSoon
	default:
		return StatusActive
	}
}
