package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned by [ParseResponse] when the payload is not
// a JSON object or its changes field is not an array.
var ErrMalformedResponse = errors.New("suggest: malformed correction response")

// ParseResponse decodes a correction service payload.
//
// Markdown code fences around the JSON are stripped. A missing or null
// changes field yields no changes; a changes field of any other non-array
// type is rejected. Individual entries whose original or corrected is not a
// non-empty string are dropped rather than failing the whole response.
func ParseResponse(raw []byte) (Response, error) {
	var envelope struct {
		CorrectedText json.RawMessage `json:"corrected_text"`
		Changes       json.RawMessage `json:"changes"`
	}
	if err := json.Unmarshal([]byte(StripCodeFence(string(raw))), &envelope); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var resp Response
	if len(envelope.CorrectedText) > 0 {
		// A non-string corrected_text is informational only; ignore it.
		_ = json.Unmarshal(envelope.CorrectedText, &resp.CorrectedText)
	}

	if len(envelope.Changes) == 0 || string(envelope.Changes) == "null" {
		return resp, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(envelope.Changes, &entries); err != nil {
		return Response{}, fmt.Errorf("%w: changes is not an array", ErrMalformedResponse)
	}

	resp.Changes = make([]Change, 0, len(entries))
	for _, e := range entries {
		var fields map[string]any
		if err := json.Unmarshal(e, &fields); err != nil {
			continue
		}
		original, ok1 := fields["original"].(string)
		corrected, ok2 := fields["corrected"].(string)
		if !ok1 || !ok2 || original == "" || corrected == "" {
			continue
		}
		explanation, _ := fields["explanation"].(string)
		resp.Changes = append(resp.Changes, Change{
			Original:    original,
			Corrected:   corrected,
			Explanation: explanation,
		})
	}
	return resp, nil
}

// StripCodeFence removes optional markdown code fences (```json ... ```)
// that language models often wrap around JSON output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
