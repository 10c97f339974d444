package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/config"
	"github.com/sanraksh/sanraksh/internal/logger"
)

func testServerConfig() *config.Config {
	cfg := config.GetDefaults()
	cfg.Security.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	log := &logger.Logger{Logger: zap.NewNop()}
	s, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// doJSON performs a request against the router and returns the recorder
func doJSON(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

// TestHandleRedact tests the single-record endpoint
func TestHandleRedact(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	t.Run("MasksPhoneField", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact", `{"record_id": "r1", "data": {"phone": "9812345610"}}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}

		var resp redactResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.RecordID != "r1" {
			t.Errorf("record_id = %q, want r1", resp.RecordID)
		}
		if !resp.IsPII {
			t.Error("record with a phone number should be flagged")
		}
		if !strings.Contains(string(resp.Data), "98XXXXXX10") {
			t.Errorf("data = %s, want masked phone", resp.Data)
		}
		if strings.Contains(rr.Body.String(), "9812345610") {
			t.Error("response leaks the raw phone number")
		}
		if len(resp.Findings) != 1 || string(resp.Findings[0].Category) != "phone" {
			t.Errorf("findings = %+v, want one phone finding", resp.Findings)
		}
	})

	t.Run("CleanRecordPassesThrough", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact", `{"record_id": "r2", "data": {"order_value": 1299}}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}

		var resp redactResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.IsPII {
			t.Error("clean record should not be flagged")
		}
		if !strings.Contains(string(resp.Data), "1299") {
			t.Errorf("data = %s, want the original value", resp.Data)
		}
		if len(resp.Findings) != 0 {
			t.Errorf("findings = %+v, want none", resp.Findings)
		}
		// The contract includes findings even when empty
		if !strings.Contains(rr.Body.String(), `"findings"`) {
			t.Error("response should always carry the findings key")
		}
	})

	t.Run("NumericRecordID", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact", `{"record_id": 42, "data": {"note": "hello"}}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var resp redactResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.RecordID != "42" {
			t.Errorf("record_id = %q, want 42", resp.RecordID)
		}
	})

	t.Run("StringPayloadScrubbed", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact", `{"record_id": "r3", "data": "Call me at 9812345610"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		var resp redactResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if !resp.IsPII {
			t.Error("free text with a phone number should be flagged")
		}
		if !strings.Contains(string(resp.Data), "__raw__") {
			t.Errorf("data = %s, want wrapped text payload", resp.Data)
		}
		if strings.Contains(string(resp.Data), "9812345610") {
			t.Error("response leaks the raw phone number")
		}
	})

	t.Run("KeyOrderPreserved", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact", `{"record_id": "r4", "data": {"zeta": 1, "alpha": 2}}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		body := rr.Body.String()
		if strings.Index(body, `"zeta"`) > strings.Index(body, `"alpha"`) {
			t.Errorf("output keys reordered: %s", body)
		}
	})

	t.Run("MissingData", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact", `{"record_id": "r5"}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "missing the data field") {
			t.Errorf("body = %s, want missing-data error", rr.Body.String())
		}
	})

	t.Run("MalformedBody", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact", `{`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("NonObjectPayload", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact", `{"record_id": "r6", "data": [1, 2]}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "not a JSON object") {
			t.Errorf("body = %s, want non-object error", rr.Body.String())
		}
	})
}

// TestHandleRedactBatch tests the batch endpoint
func TestHandleRedactBatch(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	t.Run("MixedRecords", func(t *testing.T) {
		body := `{"records": [
			{"record_id": "b1", "data": {"phone": "9812345610"}},
			{"record_id": "b2", "data": {"order_value": 1299}},
			{"record_id": "b3"}
		]}`
		rr := doJSON(s, "POST", "/v1/redact/batch", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}

		var resp batchResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if len(resp.Results) != 3 {
			t.Fatalf("results = %d, want 3", len(resp.Results))
		}
		if !resp.Results[0].IsPII {
			t.Error("first record should be flagged")
		}
		if resp.Results[1].IsPII {
			t.Error("second record should not be flagged")
		}
		if resp.Results[2].Error == "" {
			t.Error("third record should carry an error")
		}
		if resp.Summary.Total != 3 || resp.Summary.Flagged != 1 || resp.Summary.Errors != 1 {
			t.Errorf("summary = %+v, want total 3, flagged 1, errors 1", resp.Summary)
		}
		if strings.Contains(rr.Body.String(), "9812345610") {
			t.Error("batch response leaks a raw phone number")
		}
	})

	t.Run("EmptyRecords", func(t *testing.T) {
		rr := doJSON(s, "POST", "/v1/redact/batch", `{"records": []}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})
}

// TestHandleRules tests the rule table endpoint
func TestHandleRules(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rr := doJSON(s, "GET", "/v1/rules", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp rulesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.PolicyVersion == "" {
		t.Error("policy version missing")
	}
	if len(resp.Rules) != 13 {
		t.Errorf("rules = %d, want 13", len(resp.Rules))
	}
	if string(resp.Rules[0].Category) != "phone" {
		t.Errorf("first rule category = %s, want phone", resp.Rules[0].Category)
	}
	if len(resp.Signatures) != 9 {
		t.Errorf("signatures = %d, want 9", len(resp.Signatures))
	}
	if strings.Contains(rr.Body.String(), "pattern") {
		t.Error("rules endpoint must not expose patterns")
	}
}

// TestHandleStats tests counter reporting after traffic
func TestHandleStats(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	doJSON(s, "POST", "/v1/redact", `{"record_id": "s1", "data": {"phone": "9812345610"}}`)
	doJSON(s, "POST", "/v1/redact", `{"record_id": "s2", "data": {"order_value": 1}}`)

	rr := doJSON(s, "GET", "/v1/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp statsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.TotalRecords != 2 {
		t.Errorf("total_records = %d, want 2", resp.TotalRecords)
	}
	if resp.TotalFlagged != 1 {
		t.Errorf("total_flagged = %d, want 1", resp.TotalFlagged)
	}
	if resp.CategoryCounts["phone"] != 1 {
		t.Errorf("category_counts[phone] = %d, want 1", resp.CategoryCounts["phone"])
	}
	if resp.Cache != nil {
		t.Error("cache section should be absent when the cache is disabled")
	}
	if resp.Audit != nil {
		t.Error("audit section should be absent when the store is disabled")
	}
	if resp.PolicyVersion == "" {
		t.Error("policy version missing")
	}
}

// TestHandleRuns tests the run listing without an audit store
func TestHandleRuns(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rr := doJSON(s, "GET", "/v1/runs", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "audit store is not configured") {
		t.Errorf("body = %s, want unconfigured-store error", rr.Body.String())
	}
}

// TestHandleHealth tests the liveness endpoint with collaborators disabled
func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rr := doJSON(s, "GET", "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Engine.Status != "ok" || resp.Engine.Detail == "" {
		t.Errorf("engine = %+v, want ok with policy version", resp.Engine)
	}
	if resp.Cache.Status != "disabled" {
		t.Errorf("cache = %+v, want disabled", resp.Cache)
	}
	if resp.Store.Status != "disabled" {
		t.Errorf("store = %+v, want disabled", resp.Store)
	}
}

// TestRateLimitMiddleware tests 429 handling on the API routes
func TestRateLimitMiddleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.RequestsPerSecond = 0.001
	cfg.Security.RateLimit.Burst = 2
	s := newTestServer(t, cfg)

	body := `{"record_id": "x", "data": {"note": "hi"}}`
	for i := 0; i < 2; i++ {
		if rr := doJSON(s, "POST", "/v1/redact", body); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rr.Code)
		}
	}

	rr := doJSON(s, "POST", "/v1/redact", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("429 response should set Retry-After")
	}

	// Health stays outside the limited subtree
	if hr := doJSON(s, "GET", "/health", ""); hr.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", hr.Code)
	}
}

// TestRecoveryMiddleware tests panic conversion to 500
func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	s.router.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}).Methods("GET")

	rr := doJSON(s, "GET", "/boom", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal server error") {
		t.Errorf("body = %s, want generic error", rr.Body.String())
	}
}

// TestParseRecordPayload tests request record extraction
func TestParseRecordPayload(t *testing.T) {
	t.Run("ObjectData", func(t *testing.T) {
		p := parseRecordPayload(redactRequest{
			RecordID: json.RawMessage(`"r1"`),
			Data:     json.RawMessage(`{"a": 1}`),
		})
		if p.errMsg != "" || p.recordID != "r1" || p.payload != `{"a": 1}` {
			t.Errorf("unexpected parse: %+v", p)
		}
	})

	t.Run("StringData", func(t *testing.T) {
		p := parseRecordPayload(redactRequest{Data: json.RawMessage(`"free text"`)})
		if p.payload != "free text" {
			t.Errorf("payload = %q, want unquoted text", p.payload)
		}
	})

	t.Run("NullData", func(t *testing.T) {
		p := parseRecordPayload(redactRequest{Data: json.RawMessage(`null`)})
		if p.errMsg == "" {
			t.Error("null data should be rejected")
		}
	})

	t.Run("NumericID", func(t *testing.T) {
		p := parseRecordPayload(redactRequest{
			RecordID: json.RawMessage(`1007`),
			Data:     json.RawMessage(`{}`),
		})
		if p.recordID != "1007" {
			t.Errorf("record_id = %q, want 1007", p.recordID)
		}
	})
}
