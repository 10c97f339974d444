package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/cache"
	"github.com/sanraksh/sanraksh/internal/events"
	"github.com/sanraksh/sanraksh/internal/privacy"
	"github.com/sanraksh/sanraksh/internal/store"
)

// redactRequest is one record submitted for redaction. RecordID and Data
// stay raw so numeric ids and string payloads both decode.
type redactRequest struct {
	RecordID json.RawMessage `json:"record_id"`
	Data     json.RawMessage `json:"data"`
}

// redactResponse is the redacted outcome for one record
type redactResponse struct {
	RecordID string            `json:"record_id"`
	Data     json.RawMessage   `json:"data"`
	IsPII    bool              `json:"is_pii"`
	Findings []privacy.Finding `json:"findings"`
}

type batchRequest struct {
	Records []redactRequest `json:"records"`
}

// batchResult mirrors redactResponse, with Error set instead of Data when
// the record's payload was unusable.
type batchResult struct {
	RecordID string            `json:"record_id"`
	Data     json.RawMessage   `json:"data,omitempty"`
	IsPII    bool              `json:"is_pii"`
	Findings []privacy.Finding `json:"findings,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type batchSummary struct {
	Total   int `json:"total"`
	Flagged int `json:"flagged"`
	Errors  int `json:"errors"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
	Summary batchSummary  `json:"summary"`
}

type rulesResponse struct {
	PolicyVersion string             `json:"policy_version"`
	Rules         []privacy.RuleInfo `json:"rules"`
	Signatures    [][]string         `json:"composite_signatures"`
}

type cacheStatsSection struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// auditStatsSection reports lifetime totals from the audit store, across
// every run recorded by any sanraksh process sharing the database.
type auditStatsSection struct {
	Runs       int64                  `json:"runs"`
	TotalRows  int64                  `json:"total_rows"`
	Emitted    int64                  `json:"emitted"`
	Skipped    int64                  `json:"skipped"`
	Flagged    int64                  `json:"flagged"`
	Categories []*store.CategoryTotal `json:"categories,omitempty"`
}

type statsResponse struct {
	Status         string             `json:"status"`
	Uptime         string             `json:"uptime"`
	PolicyVersion  string             `json:"policy_version"`
	TotalRequests  int64              `json:"total_requests"`
	TotalRecords   int64              `json:"total_records"`
	TotalFlagged   int64              `json:"total_flagged"`
	TotalSkipped   int64              `json:"total_skipped"`
	CategoryCounts map[string]int64   `json:"category_counts"`
	Cache          *cacheStatsSection `json:"cache,omitempty"`
	Audit          *auditStatsSection `json:"audit,omitempty"`
	Feed           events.HubStats    `json:"feed"`
}

type runsResponse struct {
	Runs []*store.RunRecord `json:"runs"`
}

type healthComponent struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Engine    healthComponent `json:"engine"`
	Cache     healthComponent `json:"cache"`
	Store     healthComponent `json:"store"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// parsedRecord is a request record reduced to the strings the engine needs
type parsedRecord struct {
	recordID string
	payload  string
	errMsg   string
}

// parseRecordPayload extracts the record id and the payload string from a
// submitted record. Whether the payload is usable is decided later by the
// decode ladder; only a missing data field is rejected here.
func parseRecordPayload(req redactRequest) parsedRecord {
	p := parsedRecord{recordID: rawScalarString(req.RecordID)}

	trimmed := bytes.TrimSpace(req.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		p.errMsg = "record is missing the data field"
		return p
	}

	// A JSON string payload is unwrapped so quasi-JSON and plain text go
	// through the same repair steps as file rows.
	var value string
	if err := json.Unmarshal(trimmed, &value); err == nil {
		p.payload = value
	} else {
		p.payload = string(trimmed)
	}
	return p
}

// rawScalarString renders a raw JSON scalar as a plain string. Strings are
// unquoted; numbers and booleans keep their literal form.
func rawScalarString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var value string
	if err := json.Unmarshal(trimmed, &value); err == nil {
		return value
	}
	return string(trimmed)
}

// handleRedact redacts a single record
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())

	var req redactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	parsed := parseRecordPayload(req)
	if parsed.errMsg != "" {
		s.stats.recordSkipped()
		s.writeError(w, http.StatusBadRequest, parsed.errMsg)
		return
	}

	engine := s.Engine()
	version := engine.PolicyVersion()

	if s.cache != nil {
		if verdict, _ := s.cache.Lookup(r.Context(), version, parsed.payload); verdict != nil {
			s.stats.recordResult(verdict.IsPII, verdict.Categories)
			s.broadcastRecord(parsed.recordID, verdict.IsPII, verdict.Categories, true, 0)
			s.writeJSON(w, http.StatusOK, verdictResponse(parsed.recordID, verdict))
			return
		}
	}

	resp, verdict, errMsg := s.processRecord(parsed.recordID, parsed.payload, engine)
	if errMsg != "" {
		s.stats.recordSkipped()
		s.logger.WithRequestID(getRequestID(r.Context())).Warn("Rejecting record with unusable payload",
			zap.String("record_id", parsed.recordID),
			zap.String("reason", errMsg),
		)
		s.writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if s.cache != nil {
		_ = s.cache.Store(r.Context(), version, parsed.payload, verdict)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleRedactBatch redacts a list of records in one request. Cached
// verdicts are fetched in a single round trip; fresh ones are stored the
// same way.
func (s *Server) handleRedactBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if len(req.Records) == 0 {
		s.writeError(w, http.StatusBadRequest, "request contains no records")
		return
	}

	engine := s.Engine()
	version := engine.PolicyVersion()

	parsed := make([]parsedRecord, len(req.Records))
	payloads := make([]string, len(req.Records))
	for i, rec := range req.Records {
		parsed[i] = parseRecordPayload(rec)
		payloads[i] = parsed[i].payload
	}

	var cached []*cache.Verdict
	if s.cache != nil {
		cached, _ = s.cache.LookupBatch(r.Context(), version, payloads)
	}

	results := make([]batchResult, len(req.Records))
	summary := batchSummary{Total: len(req.Records)}
	storePayloads := make([]string, 0, len(req.Records))
	storeVerdicts := make([]*cache.Verdict, 0, len(req.Records))

	for i := range req.Records {
		p := parsed[i]
		if p.errMsg != "" {
			s.stats.recordSkipped()
			summary.Errors++
			results[i] = batchResult{RecordID: p.recordID, Error: p.errMsg}
			continue
		}

		if cached != nil && cached[i] != nil {
			verdict := cached[i]
			s.stats.recordResult(verdict.IsPII, verdict.Categories)
			s.broadcastRecord(p.recordID, verdict.IsPII, verdict.Categories, true, 0)
			if verdict.IsPII {
				summary.Flagged++
			}
			resp := verdictResponse(p.recordID, verdict)
			results[i] = batchResult{RecordID: resp.RecordID, Data: resp.Data, IsPII: resp.IsPII, Findings: resp.Findings}
			continue
		}

		resp, verdict, errMsg := s.processRecord(p.recordID, p.payload, engine)
		if errMsg != "" {
			s.stats.recordSkipped()
			summary.Errors++
			results[i] = batchResult{RecordID: p.recordID, Error: errMsg}
			continue
		}
		if resp.IsPII {
			summary.Flagged++
		}
		results[i] = batchResult{RecordID: resp.RecordID, Data: resp.Data, IsPII: resp.IsPII, Findings: resp.Findings}

		if s.cache != nil {
			storePayloads = append(storePayloads, p.payload)
			storeVerdicts = append(storeVerdicts, verdict)
		}
	}

	if s.cache != nil && len(storeVerdicts) > 0 {
		_ = s.cache.StoreBatch(r.Context(), version, storePayloads, storeVerdicts)
	}

	s.writeJSON(w, http.StatusOK, batchResponse{Results: results, Summary: summary})
}

// processRecord runs one record through the engine. It returns the HTTP
// response plus the verdict to cache, or a reason the payload was unusable.
// Reasons are fixed strings; payload content never appears in them.
func (s *Server) processRecord(recordID, payload string, engine *privacy.Engine) (*redactResponse, *cache.Verdict, string) {
	fields, err := privacy.DecodePayload(payload)
	if err != nil {
		return nil, nil, err.Error()
	}

	start := time.Now()
	res := engine.Process(privacy.Record{ID: recordID, Fields: fields})
	data, err := res.Fields.EncodeJSON()
	if err != nil {
		return nil, nil, "payload could not be re-encoded"
	}

	categories := res.Categories()
	findings := res.Findings
	if findings == nil {
		findings = []privacy.Finding{}
	}

	s.stats.recordResult(res.IsPII, categories)
	s.logger.LogRecordResult(recordID, categories, res.IsPII)
	s.broadcastRecord(recordID, res.IsPII, categories, false, time.Since(start))

	resp := &redactResponse{
		RecordID: recordID,
		Data:     json.RawMessage(data),
		IsPII:    res.IsPII,
		Findings: findings,
	}
	verdict := &cache.Verdict{
		Data:       string(data),
		IsPII:      res.IsPII,
		Categories: categories,
		Findings:   findings,
	}
	return resp, verdict, ""
}

// verdictResponse converts a cached verdict back into the response shape
func verdictResponse(recordID string, verdict *cache.Verdict) *redactResponse {
	findings := verdict.Findings
	if findings == nil {
		findings = []privacy.Finding{}
	}
	return &redactResponse{
		RecordID: recordID,
		Data:     json.RawMessage(verdict.Data),
		IsPII:    verdict.IsPII,
		Findings: findings,
	}
}

// broadcastRecord publishes a record outcome to the event feed. Only the
// id, flag, and category names go out; field values never do.
func (s *Server) broadcastRecord(recordID string, isPII bool, categories []string, cacheHit bool, took time.Duration) {
	s.hub.BroadcastEvent(events.Event{
		Type:      events.EventTypeRecordProcessed,
		Timestamp: time.Now(),
		Data: events.RecordProcessedEvent{
			RecordID:     recordID,
			IsPII:        isPII,
			Categories:   categories,
			CacheHit:     cacheHit,
			ProcessingMS: float64(took.Microseconds()) / 1000.0,
		},
	})
}

// handleRules reports the rule table in match order. Patterns are not
// exposed, only positions, categories, and flags.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	engine := s.Engine()
	s.writeJSON(w, http.StatusOK, rulesResponse{
		PolicyVersion: engine.PolicyVersion(),
		Rules:         engine.Rules(),
		Signatures:    engine.Signatures(),
	})
}

// handleStats reports process-lifetime counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	view := s.stats.snapshot()
	resp := statsResponse{
		Status:         "ok",
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		PolicyVersion:  s.Engine().PolicyVersion(),
		TotalRequests:  view.requests,
		TotalRecords:   view.records,
		TotalFlagged:   view.flagged,
		TotalSkipped:   view.skipped,
		CategoryCounts: view.categories,
		Feed:           s.hub.GetStats(),
	}

	if s.cache != nil {
		hits, misses := s.cache.Counters()
		section := &cacheStatsSection{Hits: hits, Misses: misses}
		if total := hits + misses; total > 0 {
			section.HitRate = float64(hits) / float64(total) * 100
		}
		resp.Cache = section
	}
	resp.Audit = s.auditStats(r.Context())

	s.writeJSON(w, http.StatusOK, resp)
}

// auditStats queries the audit store for lifetime totals. A missing store or
// a failed query drops the section rather than failing the stats request.
func (s *Server) auditStats(ctx context.Context) *auditStatsSection {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	totals, err := s.store.GetTotals(ctx)
	if err != nil {
		s.logger.Debug("Audit totals query failed", zap.Error(err))
		return nil
	}
	section := &auditStatsSection{
		Runs:      totals.Runs,
		TotalRows: totals.TotalRows,
		Emitted:   totals.Emitted,
		Skipped:   totals.Skipped,
		Flagged:   totals.Flagged,
	}
	categories, err := s.store.CategoryTotals(ctx)
	if err != nil {
		s.logger.Debug("Audit category query failed", zap.Error(err))
		return section
	}
	section.Categories = categories
	return section
}

// handleRuns lists recent redaction runs from the audit store, newest first.
// The limit query parameter caps the page; the store applies its default
// when it is absent or not a positive integer.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "audit store is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	runs, err := s.store.RecentRuns(ctx, limit)
	if err != nil {
		s.logger.Error("Recent runs query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "audit store query failed")
		return
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

// handleHealth reports liveness plus collaborator reachability. The
// response is always 200; degraded collaborators only change the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Engine:    healthComponent{Status: "ok", Detail: s.Engine().PolicyVersion()},
		Cache:     healthComponent{Status: "disabled"},
		Store:     healthComponent{Status: "disabled"},
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			resp.Cache = healthComponent{Status: "unreachable"}
			resp.Status = "degraded"
		} else {
			resp.Cache = healthComponent{Status: "ok"}
		}
	}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			resp.Store = healthComponent{Status: "unreachable"}
			resp.Status = "degraded"
		} else {
			resp.Store = healthComponent{Status: "ok"}
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// maxBodyBytes returns the configured request body cap
func (s *Server) maxBodyBytes() int64 {
	if s.config.Server.MaxBodyBytes > 0 {
		return s.config.Server.MaxBodyBytes
	}
	return 4 << 20
}

// writeJSON writes a JSON response with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to encode response", zap.Error(err))
	}
}

// writeError writes a JSON error response. Messages are fixed strings that
// never carry payload content.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
