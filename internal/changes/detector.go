// Package changes computes the structured difference between two snapshots
// of the same case.
package changes

import (
	"fmt"
	"strings"
	"time"

	"caseobserver/internal/domain"
)

const (
	hearingKeyLayout   = "2006-01-02T15:04:05"
	hearingInputLayout = "2006-01-02T15:04"
	hearingShowLayout  = "2006-01-02 15:04"
)

// ScalarChange records the old and new value of one scalar field.
type ScalarChange struct {
	Changed bool
	Old     string
	New     string
}

// HearingChange is one reconciled hearing. Hearing holds the new-side record
// for Added/Updated and the old-side record for Removed.
type HearingChange struct {
	Kind        domain.ChangeKind
	Hearing     domain.Hearing
	Description string
}

type PartyChange struct {
	Kind        domain.ChangeKind
	Party       domain.Party
	Description string
}

// ChangeSet is the result of Detect. It is never persisted.
type ChangeSet struct {
	Status          ScalarChange
	ProceduralStage ScalarChange
	Category        ScalarChange
	Subject         ScalarChange
	Department      ScalarChange

	Hearings []HearingChange
	Parties  []PartyChange
}

// Categories is the view of a ChangeSet consumed by the notification
// decision rule.
type Categories struct {
	Status          bool
	ProceduralStage bool
	Hearings        bool
	Parties         bool
}

func (c ChangeSet) HearingsChanged() bool { return len(c.Hearings) > 0 }
func (c ChangeSet) PartiesChanged() bool  { return len(c.Parties) > 0 }

// HasAnyChanges gates notification and snapshot persistence.
func (c ChangeSet) HasAnyChanges() bool {
	return c.Status.Changed ||
		c.ProceduralStage.Changed ||
		c.Category.Changed ||
		c.Subject.Changed ||
		c.Department.Changed ||
		c.HearingsChanged() ||
		c.PartiesChanged()
}

func (c ChangeSet) Categories() Categories {
	return Categories{
		Status:          c.Status.Changed,
		ProceduralStage: c.ProceduralStage.Changed,
		Hearings:        c.HearingsChanged(),
		Parties:         c.PartiesChanged(),
	}
}

// Detect compares the stored snapshot old against the freshly fetched next.
// It has no side effects.
func Detect(old, next domain.Snapshot) ChangeSet {
	var cs ChangeSet
	cs.Status = compare(old.Status, next.Status)
	cs.ProceduralStage = compare(old.ProceduralStage, next.ProceduralStage)
	cs.Category = compare(old.Category, next.Category)
	cs.Subject = compare(old.Subject, next.Subject)
	cs.Department = compare(old.Department, next.Department)
	cs.Hearings = diffHearings(old.Hearings, next.Hearings)
	cs.Parties = diffParties(old.Parties, next.Parties)
	return cs
}

func compare(old, next string) ScalarChange {
	if strings.EqualFold(old, next) {
		return ScalarChange{}
	}
	return ScalarChange{Changed: true, Old: old, New: next}
}

// keyed is an ordered, first-wins index of records by derived key.
type keyed[T any] struct {
	keys  []string
	items map[string]T
}

func index[T any](list []T, key func(int, T) string) keyed[T] {
	k := keyed[T]{items: make(map[string]T, len(list))}
	for i, v := range list {
		id := key(i, v)
		if _, dup := k.items[id]; dup {
			continue
		}
		k.keys = append(k.keys, id)
		k.items[id] = v
	}
	return k
}

// HearingKey returns the normalized timestamp of h. ok is false when the
// date cannot be parsed.
func HearingKey(h domain.Hearing) (key string, ok bool) {
	t, ok := hearingTime(h)
	if !ok {
		return "", false
	}
	return t.Format(hearingKeyLayout), true
}

func hearingTime(h domain.Hearing) (time.Time, bool) {
	date := strings.TrimSpace(h.Date)
	if strings.Contains(date, "T") && len(date) > 10 {
		for _, layout := range []string{time.RFC3339Nano, hearingKeyLayout, hearingInputLayout} {
			if t, err := time.Parse(layout, date); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	t, err := time.Parse(hearingInputLayout, date+"T"+strings.TrimSpace(h.Time))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func hearingKeyFunc(side string) func(int, domain.Hearing) string {
	return func(i int, h domain.Hearing) string {
		if k, ok := HearingKey(h); ok {
			return k
		}
		return fmt.Sprintf("unkeyed#%s#%d", side, i)
	}
}

func diffHearings(old, next []domain.Hearing) []HearingChange {
	o := index(old, hearingKeyFunc("old"))
	n := index(next, hearingKeyFunc("new"))

	var out []HearingChange
	for _, k := range n.keys {
		if _, ok := o.items[k]; !ok {
			h := n.items[k]
			out = append(out, HearingChange{Kind: domain.Added, Hearing: h, Description: "New hearing scheduled: " + rawWhen(h)})
		}
	}
	for _, k := range o.keys {
		if _, ok := n.items[k]; !ok {
			h := o.items[k]
			out = append(out, HearingChange{Kind: domain.Removed, Hearing: h, Description: "Hearing removed: " + shownWhen(h)})
		}
	}
	for _, k := range n.keys {
		prev, ok := o.items[k]
		if !ok {
			continue
		}
		h := n.items[k]
		if !sameHearing(prev, h) {
			out = append(out, HearingChange{Kind: domain.Updated, Hearing: h, Description: "Hearing updated: " + rawWhen(h)})
		}
	}
	return out
}

func sameHearing(a, b domain.Hearing) bool {
	return strings.EqualFold(a.Solution, b.Solution) &&
		strings.EqualFold(a.Summary, b.Summary) &&
		strings.EqualFold(a.JudicialPanel, b.JudicialPanel)
}

func rawWhen(h domain.Hearing) string {
	return h.Date + " " + h.Time
}

func shownWhen(h domain.Hearing) string {
	if t, ok := hearingTime(h); ok {
		return t.Format(hearingShowLayout)
	}
	return rawWhen(h)
}

func partyKey(_ int, p domain.Party) string {
	return p.Name + "_" + p.Role
}

// diffParties never reports Updated: the key covers every party field.
func diffParties(old, next []domain.Party) []PartyChange {
	o := index(old, partyKey)
	n := index(next, partyKey)

	var out []PartyChange
	for _, k := range n.keys {
		if _, ok := o.items[k]; !ok {
			p := n.items[k]
			out = append(out, PartyChange{Kind: domain.Added, Party: p, Description: fmt.Sprintf("New party added: %s (%s)", p.Name, p.Role)})
		}
	}
	for _, k := range o.keys {
		if _, ok := n.items[k]; !ok {
			p := o.items[k]
			out = append(out, PartyChange{Kind: domain.Removed, Party: p, Description: fmt.Sprintf("Party removed: %s (%s)", p.Name, p.Role)})
		}
	}
	return out
}
