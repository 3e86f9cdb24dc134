package domain

import (
	"strings"
	"time"
)

// Case is a court case tracked by the monitor. Number and Court together form
// the external key used to query the registry.
type Case struct {
	ID                string
	Number            string
	Court             string
	MonitoringEnabled bool
	Snapshot          Snapshot
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Snapshot is the state of one case as reported by the registry at one point
// in time.
type Snapshot struct {
	Number          string
	Court           string
	Status          string
	ProceduralStage string
	Category        string
	CategoryName    string
	Subject         string
	Department      string
	ModifiedAt      string
	Hearings        []Hearing
	Parties         []Party
}

// Hearing is a court session. Date and Time are kept as reported by the
// registry; the change detector derives the matching key from them.
type Hearing struct {
	Date          string
	Time          string
	JudicialPanel string
	Solution      string
	Summary       string
	PronouncedOn  string
}

type Party struct {
	Name string
	Role string
}

// ValidateKey checks the external identifier pair.
func ValidateKey(number, court string) error {
	var errs []FieldError
	if strings.TrimSpace(number) == "" {
		errs = append(errs, FieldError{Field: "number", Message: "required"})
	}
	if strings.TrimSpace(court) == "" {
		errs = append(errs, FieldError{Field: "court", Message: "required"})
	}
	return NewValidationErrors(errs)
}
