package changes

import (
	"math/rand"
	"testing"

	"caseobserver/internal/domain"
)

func baseSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Number:          "1234/2/2024",
		Court:           "TribunalulBUCURESTI",
		Status:          "Fond",
		ProceduralStage: "Fond",
		Category:        "Civil",
		Subject:         "pretentii",
		Department:      "Sectia a VI-a civila",
		Hearings: []domain.Hearing{
			{Date: "2024-03-01", Time: "09:00", JudicialPanel: "C1", Solution: "Amana"},
			{Date: "2024-04-10T10:30:00", Time: "", JudicialPanel: "C1"},
		},
		Parties: []domain.Party{
			{Name: "SC ALFA SRL", Role: "Reclamant"},
			{Name: "POPESCU ION", Role: "Parat"},
		},
	}
}

func TestDetectIdentical(t *testing.T) {
	t.Parallel()
	a := baseSnapshot()
	cs := Detect(a, a)
	if cs.HasAnyChanges() {
		t.Fatalf("Detect(a, a) reported changes: %+v", cs)
	}
}

func TestDetectIdenticalRandomized(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(7))
	words := []string{"", "Fond", "Apel", "recurs", "2024-01-02", "10:00", "x", "2024-05-05T08:15:00"}
	pick := func() string { return words[r.Intn(len(words))] }
	for i := 0; i < 200; i++ {
		s := domain.Snapshot{Status: pick(), ProceduralStage: pick(), Category: pick(), Subject: pick(), Department: pick()}
		for j := r.Intn(5); j > 0; j-- {
			s.Hearings = append(s.Hearings, domain.Hearing{Date: pick(), Time: pick(), Solution: pick()})
			s.Parties = append(s.Parties, domain.Party{Name: pick(), Role: pick()})
		}
		cs := Detect(s, s)
		// Hearings without a parseable date are reported on both sides.
		unkeyed := 0
		for _, h := range s.Hearings {
			if _, ok := HearingKey(h); !ok {
				unkeyed++
			}
		}
		if unkeyed == 0 && cs.HasAnyChanges() {
			t.Fatalf("iteration %d: Detect(s, s) reported changes: %+v", i, cs)
		}
		if cs.Status.Changed || cs.ProceduralStage.Changed || cs.Category.Changed || cs.PartiesChanged() {
			t.Fatalf("iteration %d: unexpected scalar or party change: %+v", i, cs)
		}
	}
}

func TestDetectStatusOnly(t *testing.T) {
	t.Parallel()
	a := baseSnapshot()
	b := baseSnapshot()
	b.Status = "Procedura"

	cs := Detect(a, b)
	if !cs.Status.Changed {
		t.Fatal("Status.Changed = false, want true")
	}
	if cs.Status.Old != "Fond" || cs.Status.New != "Procedura" {
		t.Fatalf("Status = %q -> %q, want Fond -> Procedura", cs.Status.Old, cs.Status.New)
	}
	if cs.ProceduralStage.Changed || cs.Category.Changed || cs.Subject.Changed || cs.Department.Changed {
		t.Fatalf("unexpected scalar flags: %+v", cs)
	}
	if cs.HearingsChanged() || cs.PartiesChanged() {
		t.Fatalf("unexpected child changes: %+v", cs)
	}
}

func TestDetectStatusIndependentOfStage(t *testing.T) {
	t.Parallel()
	a := baseSnapshot()
	a.ProceduralStage = "Apel"
	if cs := Detect(a, a); cs.HasAnyChanges() {
		t.Fatalf("Detect(a, a) with status %q and stage %q reported changes: %+v", a.Status, a.ProceduralStage, cs)
	}

	b := a
	b.ProceduralStage = "Recurs"
	cs := Detect(a, b)
	if cs.Status.Changed {
		t.Fatalf("Status.Changed = true for a stage-only change: %+v", cs.Status)
	}
	if !cs.ProceduralStage.Changed {
		t.Fatal("ProceduralStage.Changed = false, want true")
	}
}

func TestDetectCaseInsensitive(t *testing.T) {
	t.Parallel()
	a := baseSnapshot()
	b := baseSnapshot()
	b.Subject = "PRETENTII"
	b.ProceduralStage = "FOND"
	b.Hearings[0].Solution = "AMANA"
	if cs := Detect(a, b); cs.HasAnyChanges() {
		t.Fatalf("case-only differences reported: %+v", cs)
	}
}

func TestDetectChildRecords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		mutate   func(old, next *domain.Snapshot)
		hearings []domain.ChangeKind
		parties  []domain.ChangeKind
	}{
		{
			name: "hearing added",
			mutate: func(_, n *domain.Snapshot) {
				n.Hearings = append(n.Hearings, domain.Hearing{Date: "2024-06-01", Time: "12:00"})
			},
			hearings: []domain.ChangeKind{domain.Added},
		},
		{
			name: "sole hearing removed",
			mutate: func(o, n *domain.Snapshot) {
				o.Hearings = o.Hearings[:1]
				n.Hearings = nil
			},
			hearings: []domain.ChangeKind{domain.Removed},
		},
		{
			name: "hearing solution updated",
			mutate: func(_, n *domain.Snapshot) {
				n.Hearings = append([]domain.Hearing(nil), n.Hearings...)
				n.Hearings[0].Solution = "Admite"
			},
			hearings: []domain.ChangeKind{domain.Updated},
		},
		{
			name: "iso date matches split date",
			mutate: func(_, n *domain.Snapshot) {
				n.Hearings = append([]domain.Hearing(nil), n.Hearings...)
				n.Hearings[1] = domain.Hearing{Date: "2024-04-10", Time: "10:30", JudicialPanel: "C1"}
			},
		},
		{
			name: "party added",
			mutate: func(_, n *domain.Snapshot) {
				n.Parties = append(n.Parties, domain.Party{Name: "IONESCU ANA", Role: "Intervenient"})
			},
			parties: []domain.ChangeKind{domain.Added},
		},
		{
			name: "sole party removed",
			mutate: func(o, n *domain.Snapshot) {
				o.Parties = o.Parties[:1]
				n.Parties = nil
			},
			parties: []domain.ChangeKind{domain.Removed},
		},
		{
			name: "party role change is add plus remove",
			mutate: func(_, n *domain.Snapshot) {
				n.Parties = append([]domain.Party(nil), n.Parties...)
				n.Parties[1].Role = "Intimat"
			},
			parties: []domain.ChangeKind{domain.Added, domain.Removed},
		},
		{
			name: "unparseable hearing reported on both sides",
			mutate: func(o, n *domain.Snapshot) {
				o.Hearings = []domain.Hearing{{Date: "soon", Time: "?"}}
				n.Hearings = []domain.Hearing{{Date: "soon", Time: "?"}}
			},
			hearings: []domain.ChangeKind{domain.Added, domain.Removed},
		},
		{
			name: "duplicate keys keep first",
			mutate: func(o, n *domain.Snapshot) {
				o.Hearings = []domain.Hearing{{Date: "2024-03-01", Time: "09:00", Solution: "A"}}
				n.Hearings = []domain.Hearing{
					{Date: "2024-03-01", Time: "09:00", Solution: "A"},
					{Date: "2024-03-01", Time: "09:00", Solution: "B"},
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, next := baseSnapshot(), baseSnapshot()
			tt.mutate(&old, &next)
			cs := Detect(old, next)

			if got := hearingKinds(cs.Hearings); !equalKinds(got, tt.hearings) {
				t.Fatalf("hearing kinds = %v, want %v", got, tt.hearings)
			}
			if got := partyKinds(cs.Parties); !equalKinds(got, tt.parties) {
				t.Fatalf("party kinds = %v, want %v", got, tt.parties)
			}
		})
	}
}

func TestDetectOrderAndDescriptions(t *testing.T) {
	t.Parallel()
	old := domain.Snapshot{
		Hearings: []domain.Hearing{
			{Date: "2024-01-10", Time: "09:00", Solution: "Amana"},
			{Date: "2024-01-20", Time: "09:00"},
		},
		Parties: []domain.Party{{Name: "A", Role: "Parat"}},
	}
	next := domain.Snapshot{
		Hearings: []domain.Hearing{
			{Date: "2024-01-10", Time: "09:00", Solution: "Admite"},
			{Date: "2024-02-01", Time: "11:30"},
		},
		Parties: []domain.Party{{Name: "B", Role: "Reclamant"}},
	}
	cs := Detect(old, next)

	wantHearings := []string{
		"New hearing scheduled: 2024-02-01 11:30",
		"Hearing removed: 2024-01-20 09:00",
		"Hearing updated: 2024-01-10 09:00",
	}
	if len(cs.Hearings) != len(wantHearings) {
		t.Fatalf("len(Hearings) = %d, want %d", len(cs.Hearings), len(wantHearings))
	}
	for i, want := range wantHearings {
		if cs.Hearings[i].Description != want {
			t.Fatalf("Hearings[%d].Description = %q, want %q", i, cs.Hearings[i].Description, want)
		}
	}

	wantParties := []string{"New party added: B (Reclamant)", "Party removed: A (Parat)"}
	for i, want := range wantParties {
		if cs.Parties[i].Description != want {
			t.Fatalf("Parties[%d].Description = %q, want %q", i, cs.Parties[i].Description, want)
		}
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()
	old := baseSnapshot()
	next := baseSnapshot()
	next.Department = "Sectia I"
	cs := Detect(old, next)
	if !cs.HasAnyChanges() {
		t.Fatal("HasAnyChanges = false, want true")
	}
	if got := cs.Categories(); got != (Categories{}) {
		t.Fatalf("Categories = %+v, want none", got)
	}
}

func hearingKinds(in []HearingChange) []domain.ChangeKind {
	var out []domain.ChangeKind
	for _, c := range in {
		out = append(out, c.Kind)
	}
	return out
}

func partyKinds(in []PartyChange) []domain.ChangeKind {
	var out []domain.ChangeKind
	for _, c := range in {
		out = append(out, c.Kind)
	}
	return out
}

func equalKinds(a, b []domain.ChangeKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
