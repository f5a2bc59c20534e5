// Package fakeorg is an in-process stand-in for a Salesforce org: token,
// query, userinfo and revoke endpoints backed by memory. It is used by tests
// across the module.
package fakeorg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	ClientID     = "fake-client-id"
	ClientSecret = "fake-client-secret"
	OrgID        = "00D000000000001AAA"
	UserID       = "005000000000001AAA"
	Username     = "rep@example.com"
)

type failure struct {
	status int
	code   string
}

type Org struct {
	Server *httptest.Server

	mu            sync.Mutex
	seq           int
	codes         map[string]bool // code -> consumed
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	records       []map[string]any
	queries       []string
	revoked       []string
	requests      int
	pageSize      int
	nextFailure   *failure
	tokenFailure  int
	tokenDelay    time.Duration
}

// New starts a fake org that is closed when the test ends.
func New(t testing.TB) *Org {
	t.Helper()
	o := &Org{
		codes:         make(map[string]bool),
		accessTokens:  make(map[string]bool),
		refreshTokens: make(map[string]bool),
		records:       DefaultOpportunities(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/oauth2/token", o.token)
	mux.HandleFunc("POST /services/oauth2/revoke", o.revoke)
	mux.HandleFunc("GET /services/oauth2/userinfo", o.userInfo)
	mux.HandleFunc("GET /services/data/{version}/query", o.query)
	mux.HandleFunc("GET /services/data/{version}/query/{cursor}", o.queryMore)

	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.requests++
		o.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(o.Server.Close)
	return o
}

func (o *Org) URL() string {
	return o.Server.URL
}

// IssueCode registers a fresh authorization code, as the login page would.
func (o *Org) IssueCode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	code := fmt.Sprintf("code-%d", o.seq)
	o.codes[code] = false
	return code
}

// AddCode registers a specific authorization code.
func (o *Org) AddCode(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[code] = false
}

// ExpireAccessTokens invalidates every access token issued so far.
func (o *Org) ExpireAccessTokens() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accessTokens = make(map[string]bool)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (o *Org) RevokeRefreshTokens() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshTokens = make(map[string]bool)
}

// SetRecords replaces the opportunity table.
func (o *Org) SetRecords(records []map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = records
}

// SetPageSize makes queries return at most n records per page.
func (o *Org) SetPageSize(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pageSize = n
}

// FailNextQuery makes the next query answer with the given REST error.
func (o *Org) FailNextQuery(status int, errorCode string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextFailure = &failure{status: status, code: errorCode}
}

// FailNextToken makes the next token endpoint call answer with a bare
// status and no OAuth error body, like an outage page.
func (o *Org) FailNextToken(status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokenFailure = status
}

// SetTokenDelay holds every token endpoint response for d.
func (o *Org) SetTokenDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokenDelay = d
}

// Requests counts every HTTP request the org has received.
func (o *Org) Requests() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests
}

// Queries returns the SOQL statements received, in order.
func (o *Org) Queries() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.queries...)
}

// Revoked returns the tokens passed to the revoke endpoint.
func (o *Org) Revoked() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.revoked...)
}

func (o *Org) identityURL() string {
	return o.URL() + "/id/" + OrgID + "/" + UserID
}

func (o *Org) token(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	delay, failStatus := o.tokenDelay, o.tokenFailure
	o.tokenFailure = 0
	o.mu.Unlock()
	if delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
	}
	if failStatus != 0 {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(failStatus)
		_, _ = w.Write([]byte(http.StatusText(failStatus)))
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client", "error_description": "invalid client credentials"})
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		consumed, known := o.codes[code]
		if !known || consumed {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "expired authorization code"})
			return
		}
		o.codes[code] = true
		access, refresh := o.mintLocked("at"), o.mintLocked("rt")
		o.accessTokens[access] = true
		o.refreshTokens[refresh] = true
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token":  access,
			"refresh_token": refresh,
			"instance_url":  o.URL(),
			"id":            o.identityURL(),
			"token_type":    "Bearer",
			"issued_at":     "1700000000000",
			"signature":     "sig",
			"scope":         "api id web refresh_token",
		})
	case "refresh_token":
		if !o.refreshTokens[r.PostForm.Get("refresh_token")] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "expired access/refresh token"})
			return
		}
		access := o.mintLocked("at")
		o.accessTokens[access] = true
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": access,
			"instance_url": o.URL(),
			"id":           o.identityURL(),
			"token_type":   "Bearer",
			"issued_at":    "1700000100000",
			"signature":    "sig",
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (o *Org) mintLocked(prefix string) string {
	o.seq++
	return prefix + "-" + strconv.Itoa(o.seq)
}

func (o *Org) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	token := r.PostForm.Get("token")
	o.mu.Lock()
	o.revoked = append(o.revoked, token)
	delete(o.refreshTokens, token)
	delete(o.accessTokens, token)
	o.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (o *Org) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.accessTokens[token]
}

func invalidSession(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, []map[string]string{{
		"message":   "Session expired or invalid",
		"errorCode": "INVALID_SESSION_ID",
	}})
}

func (o *Org) userInfo(w http.ResponseWriter, r *http.Request) {
	if !o.authorized(r) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Bad_OAuth_Token"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                o.identityURL(),
		"user_id":            UserID,
		"organization_id":    OrgID,
		"preferred_username": Username,
		"name":               "Rita Rep",
		"email":              Username,
		"email_verified":     true,
	})
}

func (o *Org) query(w http.ResponseWriter, r *http.Request) {
	if !o.authorized(r) {
		invalidSession(w)
		return
	}
	statement := r.URL.Query().Get("q")

	o.mu.Lock()
	o.queries = append(o.queries, statement)
	if f := o.nextFailure; f != nil {
		o.nextFailure = nil
		o.mu.Unlock()
		writeJSON(w, f.status, []map[string]string{{"message": "simulated failure", "errorCode": f.code}})
		return
	}
	matched := filterRecords(o.records, statement)
	o.mu.Unlock()

	o.writePage(w, r.PathValue("version"), matched, 0)
}

func (o *Org) queryMore(w http.ResponseWriter, r *http.Request) {
	if !o.authorized(r) {
		invalidSession(w)
		return
	}
	// cursor is "<offset>.<statement index>"
	offsetRaw, idxRaw, _ := strings.Cut(r.PathValue("cursor"), ".")
	offset, err1 := strconv.Atoi(offsetRaw)
	idx, err2 := strconv.Atoi(idxRaw)

	o.mu.Lock()
	if err1 != nil || err2 != nil || idx < 0 || idx >= len(o.queries) {
		o.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, []map[string]string{{"message": "bad locator", "errorCode": "INVALID_QUERY_LOCATOR"}})
		return
	}
	matched := filterRecords(o.records, o.queries[idx])
	o.mu.Unlock()

	o.writePage(w, r.PathValue("version"), matched, offset)
}

func (o *Org) writePage(w http.ResponseWriter, version string, matched []map[string]any, offset int) {
	o.mu.Lock()
	pageSize := o.pageSize
	queryIdx := len(o.queries) - 1
	o.mu.Unlock()

	if offset > len(matched) {
		offset = len(matched)
	}
	page := matched[offset:]
	resp := map[string]any{"totalSize": len(matched), "done": true}
	if pageSize > 0 && len(page) > pageSize {
		page = page[:pageSize]
		resp["done"] = false
		resp["nextRecordsUrl"] = fmt.Sprintf("/services/data/%s/query/%d.%d", version, offset+pageSize, queryIdx)
	}
	if page == nil {
		page = []map[string]any{}
	}
	resp["records"] = page
	writeJSON(w, http.StatusOK, resp)
}

// filterRecords understands just enough SOQL for the proxy's own queries:
// an Id equality, a StageName IN list and a LIMIT.
func filterRecords(records []map[string]any, statement string) []map[string]any {
	var out []map[string]any
	idFilter := between(statement, "WHERE Id = '", "'")
	var stages map[string]bool
	if list := between(statement, "StageName IN (", ")"); list != "" {
		stages = make(map[string]bool)
		for _, s := range strings.Split(list, ", ") {
			stages[strings.Trim(s, "'")] = true
		}
	}
	for _, rec := range records {
		if idFilter != "" && rec["Id"] != idFilter {
			continue
		}
		if stages != nil {
			stage, _ := rec["StageName"].(string)
			if !stages[stage] {
				continue
			}
		}
		out = append(out, rec)
	}
	if limit := between(statement, "LIMIT ", ""); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n < len(out) {
			out = out[:n]
		}
	}
	return out
}

func between(s, start, end string) string {
	_, rest, ok := strings.Cut(s, start)
	if !ok {
		return ""
	}
	if end == "" {
		return rest
	}
	v, _, _ := strings.Cut(rest, end)
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DefaultOpportunities is a small fixture table.
func DefaultOpportunities() []map[string]any {
	return []map[string]any{
		opportunity("006000000000001AAA", "Acme renewal", "Closed Won", 50000, 100, "2024-05-02T10:00:00.000+0000"),
		opportunity("006000000000002AAA", "Globex expansion", "Prospecting", 12000, 10, "2024-05-01T10:00:00.000+0000"),
		opportunity("006000000000003AAA", "Initech pilot", "Negotiation/Review", 8000, 70, "2024-04-20T10:00:00.000+0000"),
	}
}

func opportunity(id, name, stage string, amount, probability float64, created string) map[string]any {
	closed := strings.HasPrefix(stage, "Closed")
	return map[string]any{
		"attributes":       map[string]string{"type": "Opportunity", "url": "/services/data/v59.0/sobjects/Opportunity/" + id},
		"Id":               id,
		"Name":             name,
		"AccountId":        "001000000000001AAA",
		"Account":          map[string]any{"attributes": map[string]string{"type": "Account"}, "Name": "Acme"},
		"Amount":           amount,
		"StageName":        stage,
		"CloseDate":        "2024-06-30",
		"Probability":      probability,
		"Type":             "New Business",
		"LeadSource":       "Web",
		"CreatedDate":      created,
		"LastModifiedDate": created,
		"OwnerId":          UserID,
		"Owner":            map[string]any{"attributes": map[string]string{"type": "User"}, "Name": "Rita Rep"},
		"Description":      nil,
		"IsClosed":         closed,
		"IsWon":            stage == "Closed Won",
	}
}
