package suggest_test

import (
	"fmt"
	"testing"

	"github.com/correctnow/correctnow/pkg/suggest"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func TestStore_IngestFilters(t *testing.T) {
	t.Parallel()

	text := "Thiss is a test of teh caf\u00e9"
	changes := []suggest.Change{
		{Original: "Thiss", Corrected: "This", Explanation: "spelling"},
		{Original: "   ", Corrected: "x"},                // blank
		{Original: "teh", Corrected: ""},                 // empty corrected
		{Original: "hallucinated", Corrected: "real"},    // missing
		{Original: "Thiss", Corrected: "This"},           // duplicate
		{Original: "caf\u00e9", Corrected: "cafe\u0301"}, // no-op after NFC
		{Original: "teh", Corrected: "the"},              // kept
		{Original: "Thiss", Corrected: "Thus"},           // same original, different correction
		{Original: "test ", Corrected: "test"},           // no-op after trim
	}

	st := suggest.NewStore(suggest.WithIDFunc(seqIDs()))
	got := st.Ingest(text, changes)

	want := []struct{ original, corrected string }{
		{"Thiss", "This"},
		{"teh", "the"},
		{"Thiss", "Thus"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d suggestions, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Original != w.original || got[i].Corrected != w.corrected {
			t.Errorf("suggestion %d = (%q, %q), want (%q, %q)", i, got[i].Original, got[i].Corrected, w.original, w.corrected)
		}
		if got[i].Status != suggest.Pending {
			t.Errorf("suggestion %d status = %v, want pending", i, got[i].Status)
		}
	}
	if got[0].ID != "s1" || got[1].ID != "s2" {
		t.Errorf("unexpected IDs %q, %q", got[0].ID, got[1].ID)
	}
	if got[0].Explanation != "spelling" {
		t.Errorf("explanation = %q, want spelling", got[0].Explanation)
	}

	stats := st.LastIngest()
	wantStats := suggest.IngestStats{
		Received: 9, Kept: 3, Blank: 1, Invalid: 1, Missing: 1, Duplicate: 1, NoOp: 2,
	}
	if stats != wantStats {
		t.Errorf("stats = %+v, want %+v", stats, wantStats)
	}
	if stats.Dropped() != 6 {
		t.Errorf("Dropped() = %d, want 6", stats.Dropped())
	}
}

func TestStore_NoOpCafe(t *testing.T) {
	t.Parallel()

	st := suggest.NewStore()
	got := st.Ingest("un caf\u00e9 noir", []suggest.Change{{Original: "caf\u00e9", Corrected: "cafe\u0301"}})
	if len(got) != 0 {
		t.Fatalf("expected no suggestions, got %+v", got)
	}
	if len(st.Active()) != 0 {
		t.Errorf("expected no active suggestions")
	}
}

func TestStore_IngestReplacesPrevious(t *testing.T) {
	t.Parallel()

	st := suggest.NewStore()
	first := st.Ingest("teh cat", []suggest.Change{{Original: "teh", Corrected: "the"}})
	st.Ingest("the dgo", []suggest.Change{{Original: "dgo", Corrected: "dog"}})

	if _, ok := st.Get(first[0].ID); ok {
		t.Error("suggestion from previous round still present")
	}
	if n := len(st.All()); n != 1 {
		t.Errorf("All() returned %d suggestions, want 1", n)
	}
}

func TestStore_AcceptAutoIgnoresSameOriginal(t *testing.T) {
	t.Parallel()

	st := suggest.NewStore()
	got := st.Ingest("teh cat", []suggest.Change{
		{Original: "teh", Corrected: "the"},
		{Original: "teh", Corrected: "tea"},
		{Original: "cat", Corrected: "cats"},
	})

	superseded, ok := st.Accept(got[0].ID)
	if !ok {
		t.Fatal("Accept returned false for a known ID")
	}
	if len(superseded) != 1 || superseded[0] != got[1] {
		t.Fatalf("superseded = %+v, want the alternative for teh", superseded)
	}
	if got[0].Status != suggest.Accepted {
		t.Errorf("accepted status = %v", got[0].Status)
	}
	if got[1].Status != suggest.Ignored {
		t.Errorf("alternative status = %v, want ignored", got[1].Status)
	}
	if got[2].Status != suggest.Pending {
		t.Errorf("unrelated status = %v, want pending", got[2].Status)
	}

	if _, ok := st.Accept("nope"); ok {
		t.Error("Accept of unknown ID returned true")
	}
}

func TestStore_SetStatusAndActive(t *testing.T) {
	t.Parallel()

	st := suggest.NewStore()
	got := st.Ingest("a b c", []suggest.Change{
		{Original: "a", Corrected: "A"},
		{Original: "b", Corrected: "B"},
	})
	if !st.SetStatus(got[0].ID, suggest.Ignored) {
		t.Fatal("SetStatus returned false")
	}
	if st.SetStatus("missing", suggest.Ignored) {
		t.Error("SetStatus on unknown ID returned true")
	}
	active := st.Active()
	if len(active) != 1 || active[0] != got[1] {
		t.Errorf("Active() = %+v, want only b", active)
	}
	if len(st.All()) != 2 {
		t.Error("All() must retain resolved suggestions")
	}

	st.Reset()
	if len(st.All()) != 0 {
		t.Error("Reset did not clear the store")
	}
}

func TestStore_Snapshot(t *testing.T) {
	t.Parallel()

	st := suggest.NewStore()
	got := st.Ingest("a b", []suggest.Change{{Original: "a", Corrected: "A"}})
	snap := st.Snapshot()
	st.SetStatus(got[0].ID, suggest.Accepted)

	if snap[0] == got[0] {
		t.Fatal("Snapshot returned the stored pointer")
	}
	if snap[0].Status != suggest.Pending {
		t.Errorf("snapshot observed a later change: %v", snap[0].Status)
	}
	if snap[0].ID != got[0].ID || snap[0].Original != "a" {
		t.Errorf("snapshot = %+v", snap[0])
	}
}

func TestStore_Group(t *testing.T) {
	t.Parallel()

	st := suggest.NewStore()
	got := st.Ingest("Its fine. its, fine", []suggest.Change{
		{Original: "Its", Corrected: "It's"},
		{Original: "its,", Corrected: "it's,"},
		{Original: "fine", Corrected: "good"},
	})

	group := st.Group(got[1].ID)
	if len(group) != 2 || group[0] != got[0] || group[1] != got[1] {
		t.Fatalf("Group() = %+v, want the two its variants", group)
	}
	if st.Group("unknown") != nil {
		t.Error("Group of unknown ID must be nil")
	}
}

func TestGroupKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Teh", "teh"},
		{"teh,", "teh"},
		{"  Don't  stop ", "dont stop"},
		{"Cafe\u0301!", "caf\u00e9"},
	}
	for _, tt := range tests {
		if got := suggest.GroupKey(tt.in); got != tt.want {
			t.Errorf("GroupKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatus_Text(t *testing.T) {
	t.Parallel()

	for _, s := range []suggest.Status{suggest.Pending, suggest.Accepted, suggest.Ignored} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var back suggest.Status
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if back != s {
			t.Errorf("round trip of %v gave %v", s, back)
		}
	}
	var s suggest.Status
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestNewSuggestion_Distance(t *testing.T) {
	t.Parallel()

	s := suggest.NewSuggestion("Thiss", "This", "")
	if s.Distance != 1 {
		t.Errorf("Distance = %d, want 1", s.Distance)
	}
	if s.ID == "" {
		t.Error("ID not assigned")
	}
}
