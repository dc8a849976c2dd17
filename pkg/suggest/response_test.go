package suggest_test

import (
	"errors"
	"testing"

	"github.com/correctnow/correctnow/pkg/suggest"
)

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		wantText    string
		wantChanges []suggest.Change
	}{
		{
			name:     "well formed",
			raw:      `{"corrected_text":"This is a test","changes":[{"original":"Thiss","corrected":"This","explanation":"spelling"}]}`,
			wantText: "This is a test",
			wantChanges: []suggest.Change{
				{Original: "Thiss", Corrected: "This", Explanation: "spelling"},
			},
		},
		{
			name:        "markdown fence",
			raw:         "```json\n{\"corrected_text\":\"ok\",\"changes\":[]}\n```",
			wantText:    "ok",
			wantChanges: []suggest.Change{},
		},
		{
			name:     "missing changes",
			raw:      `{"corrected_text":"ok"}`,
			wantText: "ok",
		},
		{
			name:     "null changes",
			raw:      `{"corrected_text":"ok","changes":null}`,
			wantText: "ok",
		},
		{
			name:     "invalid entries dropped",
			raw:      `{"corrected_text":"x","changes":[{"original":"a"},{"original":"","corrected":"b"},{"original":1,"corrected":"c"},"junk",{"original":"d","corrected":"e","explanation":7}]}`,
			wantText: "x",
			wantChanges: []suggest.Change{
				{Original: "d", Corrected: "e"},
			},
		},
		{
			name:        "non-string corrected_text ignored",
			raw:         `{"corrected_text":42,"changes":[]}`,
			wantChanges: []suggest.Change{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := suggest.ParseResponse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			if got.CorrectedText != tt.wantText {
				t.Errorf("CorrectedText = %q, want %q", got.CorrectedText, tt.wantText)
			}
			if len(got.Changes) != len(tt.wantChanges) {
				t.Fatalf("got %d changes, want %d: %+v", len(got.Changes), len(tt.wantChanges), got.Changes)
			}
			for i := range tt.wantChanges {
				if got.Changes[i] != tt.wantChanges[i] {
					t.Errorf("change %d = %+v, want %+v", i, got.Changes[i], tt.wantChanges[i])
				}
			}
		})
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`not json at all`,
		`{"changes":"nope"}`,
		`{"changes":{"original":"a","corrected":"b"}}`,
		`[1,2,3]`,
	} {
		if _, err := suggest.ParseResponse([]byte(raw)); !errors.Is(err, suggest.ErrMalformedResponse) {
			t.Errorf("ParseResponse(%s) error = %v, want ErrMalformedResponse", raw, err)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"{}", "{}"},
		{"```json\n{}\n```", "{}"},
		{"```\n{}\n```", "{}"},
		{"  {}  ", "{}"},
	}
	for _, tt := range tests {
		if got := suggest.StripCodeFence(tt.in); got != tt.want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
