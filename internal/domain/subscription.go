package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Subscriber is a contact that receives notifications for the cases it is
// subscribed to.
type Subscriber struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

func (s Subscriber) Validate() error {
	var errs []FieldError
	if strings.TrimSpace(s.Email) == "" && strings.TrimSpace(s.Phone) == "" {
		errs = append(errs, FieldError{Field: "email", Message: "email or phone required"})
	}
	if e := strings.TrimSpace(s.Email); e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			errs = append(errs, FieldError{Field: "email", Message: "invalid address"})
		}
	}
	return NewValidationErrors(errs)
}

// Subscription links a subscriber to a case.
type Subscription struct {
	SubscriberID string
	CaseID       string
	CreatedAt    time.Time
}
