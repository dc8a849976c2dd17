package api

import (
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/correctnow/correctnow/internal/history"
	"github.com/correctnow/correctnow/pkg/suggest"
	"github.com/correctnow/correctnow/pkg/suggest/render"
)

// ── Correct ──────────────────────────────────────────────────────────────────

type correctRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`

	// Render asks for the mirror-layer HTML of the located occurrences.
	Render bool `json:"render,omitempty"`
}

// CorrectResult is the body of a successful correction.
type CorrectResult struct {
	CorrectedText string                `json:"corrected_text"`
	Changes       []suggest.Change      `json:"changes"`
	Suggestions   []*suggest.Suggestion `json:"suggestions"`
	Occurrences   []suggest.Span        `json:"occurrences"`
	Dropped       int                   `json:"dropped"`
	HTML          string                `json:"html,omitempty"`
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if err := decodeBody(w, r, s.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	resp, err := s.corrector.Correct(r.Context(), req.Text, req.Language)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.buildResult(r, req.Text, resp, req.Render))
}

// buildResult filters the raw changes against text and locates the
// surviving suggestions.
func (s *Server) buildResult(r *http.Request, text string, resp suggest.Response, withHTML bool) CorrectResult {
	store := suggest.NewStore()
	suggestions := store.Ingest(text, resp.Changes)
	stats := store.LastIngest()
	s.metrics.RecordIngest(r.Context(), stats)

	occs := suggest.Locate(text, suggestions)
	out := CorrectResult{
		CorrectedText: resp.CorrectedText,
		Changes:       resp.Changes,
		Suggestions:   suggestions,
		Occurrences:   suggest.Spans(text, occs),
		Dropped:       stats.Dropped(),
	}
	if out.Changes == nil {
		out.Changes = []suggest.Change{}
	}
	if out.Suggestions == nil {
		out.Suggestions = []*suggest.Suggestion{}
	}
	if withHTML {
		m := render.NewMirror()
		m.Render(text, occs)
		out.HTML = m.HTML()
	}
	return out
}

// ── Batch ────────────────────────────────────────────────────────────────────

type batchRequest struct {
	Texts    []string `json:"texts"`
	Language string   `json:"language,omitempty"`
}

// BatchItem is one entry of a batch response: a result or an error.
type BatchItem struct {
	Index  int            `json:"index"`
	Result *CorrectResult `json:"result,omitempty"`
	Error  *errorBody     `json:"error,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, s.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, "texts must not be empty")
		return
	}
	if len(req.Texts) > s.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, CodeBatchTooLarge,
			"batch holds "+strconv.Itoa(len(req.Texts))+" texts, limit "+strconv.Itoa(s.maxBatch))
		return
	}

	items := make([]BatchItem, len(req.Texts))
	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, text := range req.Texts {
		g.Go(func() error {
			items[i].Index = i
			resp, err := s.corrector.Correct(r.Context(), text, req.Language)
			if err != nil {
				_, code := classify(err)
				items[i].Error = &errorBody{Code: code, Error: err.Error()}
				return nil
			}
			res := s.buildResult(r, text, resp, false)
			items[i].Result = &res
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// ── Apply ────────────────────────────────────────────────────────────────────

type applyRequest struct {
	Text    string           `json:"text"`
	Changes []suggest.Change `json:"changes"`

	// Occurrence applies the occurrence at this index of the located list,
	// the same list /api/correct returns for the same text and changes.
	Occurrence *int `json:"occurrence,omitempty"`

	// All applies every change in order, each at its first occurrence.
	All bool `json:"all,omitempty"`

	// Caret is a caret offset in UTF-16 code units to carry across the edit.
	Caret *int `json:"caret,omitempty"`
}

// ApplyResult is the body of a successful apply.
type ApplyResult struct {
	Text        string         `json:"text"`
	Applied     int            `json:"applied"`
	Caret       *int           `json:"caret,omitempty"`
	Occurrences []suggest.Span `json:"occurrences"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeBody(w, r, s.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	if req.All == (req.Occurrence != nil) {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, "exactly one of occurrence or all is required")
		return
	}

	sess := suggest.NewSession(req.Text)
	defer sess.Close()
	sess.Ingest(req.Changes)

	mode := "single"
	if req.All {
		mode = "all"
		sess.AcceptAll()
	} else {
		sess.AcceptAt(*req.Occurrence)
	}

	st := sess.State()
	applied := 0
	for _, sg := range st.Suggestions {
		if sg.Status == suggest.Accepted {
			applied++
		}
	}
	s.metrics.RecordPatches(r.Context(), mode, applied)

	out := ApplyResult{
		Text:        st.Text,
		Applied:     applied,
		Occurrences: suggest.Spans(st.Text, st.Occurrences),
	}
	if req.Caret != nil {
		pos := suggest.ByteOffsetFromUTF16(req.Text, *req.Caret)
		mapped := suggest.UTF16Offset(st.Text, suggest.MapOffset(req.Text, st.Text, pos))
		out.Caret = &mapped
	}
	writeJSON(w, http.StatusOK, out)
}

// ── History ──────────────────────────────────────────────────────────────────

type historyRequest struct {
	UserID   string           `json:"user_id"`
	Language string           `json:"language,omitempty"`
	Original string           `json:"original"`
	Final    string           `json:"final"`
	Changes  []suggest.Change `json:"changes,omitempty"`
	Accepted int              `json:"accepted"`
	Ignored  int              `json:"ignored"`
}

func (s *Server) handleRecordHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := decodeBody(w, r, s.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	e, err := s.history.Record(r.Context(), history.Entry{
		UserID:   req.UserID,
		Language: req.Language,
		Original: req.Original,
		Final:    req.Final,
		Changes:  req.Changes,
		Accepted: req.Accepted,
		Ignored:  req.Ignored,
	})
	if err != nil {
		status, code := classify(err)
		if status != http.StatusBadRequest {
			status, code = http.StatusInternalServerError, CodeInternal
		}
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := q.Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, "user is required")
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, "limit must be an integer")
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), user, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ── Live sessions ────────────────────────────────────────────────────────────

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

// ── Settings ─────────────────────────────────────────────────────────────────

// Settings are the limits and timings hosts apply on their side: the typing
// pause before a check, the popover delays and the text length cap.
type Settings struct {
	CheckDelayMS    int64 `json:"check_delay_ms"`
	HoverDelayMS    int64 `json:"hover_delay_ms"`
	CaretDebounceMS int64 `json:"caret_debounce_ms"`
	CloseGraceMS    int64 `json:"close_grace_ms"`
	MaxTextLength   int   `json:"max_text_length"`
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings())
}
