package domain

import "time"

// Notification is the persisted record of one alert sent to one subscriber.
// It is never modified after creation except for ReadAt.
type Notification struct {
	ID           string
	SubscriberID string
	CaseID       string
	Subject      string
	Message      string
	SentAt       time.Time
	ReadAt       *time.Time
}

// NotificationQuery selects notifications by subscriber or by case. Exactly
// one of the two must be set.
type NotificationQuery struct {
	SubscriberID string
	CaseID       string
	Limit        int
}

func (q NotificationQuery) Validate() error {
	switch {
	case q.SubscriberID == "" && q.CaseID == "":
		return NewValidationError("query", "subscriber_id or case_id required")
	case q.SubscriberID != "" && q.CaseID != "":
		return NewValidationError("query", "only one of subscriber_id and case_id may be set")
	case q.Limit < 0:
		return NewValidationError("limit", "must be >= 0")
	}
	return nil
}
