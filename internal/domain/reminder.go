package domain

// DaysUntilExpiry counts calendar days from today to the subscription's expiry
// date. It is negative once the subscription has expired.
func DaysUntilExpiry(sub Subscription, today Date) int {
	return today.DaysUntil(sub.ExpiryDate)
}

// DueReminders returns the reminders of sub that fire on today.
//
// Matching is exact: a reminder fires only on the one day where DaysBefore
// equals the days left, so a day without a run skips that reminder for the
// period. Duplicated offsets are all returned.
func DueReminders(sub Subscription, today Date) []Reminder {
	if !sub.IsActive {
		return nil
	}
	days := DaysUntilExpiry(sub, today)
	if days < 0 {
		return nil
	}

	var due []Reminder
	for _, r := range sub.Reminders {
		if r.Enabled && r.DaysBefore == days {
			due = append(due, r)
		}
	}
	return due
}

// DueReminder pairs a firing reminder with its subscription for consumers
// such as the notification UI.
type DueReminder struct {
	SubscriptionID  string   `json:"subscription_id"`
	ServiceName     string   `json:"service_name"`
	ExpiryDate      Date     `json:"expiry_date"`
	DaysUntilExpiry int      `json:"days_until_expiry"`
	Reminder        Reminder `json:"reminder"`
}
