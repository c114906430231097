// Package testutil provides an in-process fake of the Supabase HTTP APIs for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// FakeAPIKey is the anon key the fake accepts.
const FakeAPIKey = "fake-anon-key"

var fakeSigningKey = []byte("fake-supabase-secret")

// RecordedRequest is a request seen by the fake.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

type fakeUser struct {
	ID       string
	Email    string
	Password string
	Metadata map[string]any
}

type injectedFailure struct {
	method string
	prefix string
	status int
	body   string
}

// FakeSupabase emulates the subset of GoTrue, PostgREST and Storage the client uses.
type FakeSupabase struct {
	Server *httptest.Server

	// TokenTTL controls access token lifetime. Defaults to one hour.
	TokenTTL time.Duration

	mu        sync.Mutex
	users     map[string]*fakeUser // by email
	tokens    map[string]string    // access token -> user id
	refreshes map[string]string    // refresh token -> user id
	tables    map[string][]map[string]any
	objects   map[string][]byte
	requests  []RecordedRequest
	failures  []injectedFailure
}

// NewFakeSupabase starts a fake server that is closed when the test ends.
func NewFakeSupabase(t testing.TB) *FakeSupabase {
	t.Helper()

	f := &FakeSupabase{
		TokenTTL:  time.Hour,
		users:     make(map[string]*fakeUser),
		tokens:    make(map[string]string),
		refreshes: make(map[string]string),
		tables:    make(map[string][]map[string]any),
		objects:   make(map[string][]byte),
	}

	r := mux.NewRouter()
	r.Use(f.record, f.inject)

	auth := r.PathPrefix("/auth/v1").Subrouter()
	auth.HandleFunc("/signup", f.handleSignUp).Methods(http.MethodPost)
	auth.HandleFunc("/token", f.handleToken).Methods(http.MethodPost)
	auth.HandleFunc("/logout", f.handleLogout).Methods(http.MethodPost)
	auth.HandleFunc("/user", f.handleUser).Methods(http.MethodGet)

	rest := r.PathPrefix("/rest/v1").Subrouter()
	rest.HandleFunc("/{table}", f.handleSelect).Methods(http.MethodGet)
	rest.HandleFunc("/{table}", f.handleInsert).Methods(http.MethodPost)
	rest.HandleFunc("/{table}", f.handleUpdate).Methods(http.MethodPatch)

	storage := r.PathPrefix("/storage/v1").Subrouter()
	storage.HandleFunc("/object/{bucket}/{path:.+}", f.handleUpload).Methods(http.MethodPost)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake project.
func (f *FakeSupabase) URL() string {
	return f.Server.URL
}

// AddUser registers an auth user and returns its id.
func (f *FakeSupabase) AddUser(email, password string, metadata map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &fakeUser{ID: uuid.NewString(), Email: email, Password: password, Metadata: metadata}
	f.users[email] = u
	return u.ID
}

// Seed inserts rows into a table.
func (f *FakeSupabase) Seed(table string, rows ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		f.tables[table] = append(f.tables[table], cloneRow(row))
	}
}

// Rows returns a copy of a table's rows.
func (f *FakeSupabase) Rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.tables[table]))
	for _, row := range f.tables[table] {
		out = append(out, cloneRow(row))
	}
	return out
}

// Object returns a stored object.
func (f *FakeSupabase) Object(bucket, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+path]
	return data, ok
}

// Requests returns the requests received so far.
func (f *FakeSupabase) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// RequestCount counts requests whose path starts with prefix.
func (f *FakeSupabase) RequestCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// FailNext makes the next request matching method and path prefix fail with status and body.
func (f *FakeSupabase) FailNext(method, prefix string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, injectedFailure{method: method, prefix: prefix, status: status, body: body})
}

// ExpireTokens invalidates all access tokens issued so far while keeping refresh tokens valid.
func (f *FakeSupabase) ExpireTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = make(map[string]string)
}

// =============================================================================
// Middleware
// =============================================================================

func (f *FakeSupabase) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		f.mu.Unlock()

		if r.Header.Get("apikey") != FakeAPIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeSupabase) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		for i, fail := range f.failures {
			if fail.method == r.Method && strings.HasPrefix(r.URL.Path, fail.prefix) {
				f.failures = append(f.failures[:i], f.failures[i+1:]...)
				f.mu.Unlock()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(fail.status)
				_, _ = w.Write([]byte(fail.body))
				return
			}
		}
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Auth
// =============================================================================

func (f *FakeSupabase) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "msg": "invalid body"})
		return
	}

	f.mu.Lock()
	if _, exists := f.users[req.Email]; exists {
		f.mu.Unlock()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code": 422, "error_code": "user_already_exists", "msg": "User already registered",
		})
		return
	}
	u := &fakeUser{ID: uuid.NewString(), Email: req.Email, Password: req.Password, Metadata: req.Data}
	f.users[req.Email] = u
	session := f.issueLocked(u)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, session)
}

func (f *FakeSupabase) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		u, ok := f.users[req.Email]
		if !ok || u.Password != req.Password {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "invalid_grant", "error_description": "Invalid login credentials",
			})
			return
		}
		writeJSON(w, http.StatusOK, f.issueLocked(u))
	case "refresh_token":
		userID, ok := f.refreshes[req.RefreshToken]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "invalid_grant", "error_description": "Invalid Refresh Token: Refresh Token Not Found",
			})
			return
		}
		delete(f.refreshes, req.RefreshToken)
		writeJSON(w, http.StatusOK, f.issueLocked(f.userByIDLocked(userID)))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (f *FakeSupabase) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token := bearer(r)
	if _, ok := f.tokens[token]; !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid JWT"})
		return
	}
	delete(f.tokens, token)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeSupabase) handleUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	userID, ok := f.tokens[bearer(r)]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid JWT"})
		return
	}
	writeJSON(w, http.StatusOK, userJSON(f.userByIDLocked(userID)))
}

func (f *FakeSupabase) issueLocked(u *fakeUser) map[string]any {
	now := time.Now()
	exp := now.Add(f.TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"jti":   uuid.NewString(),
	})
	access, _ := token.SignedString(fakeSigningKey)
	refresh := uuid.NewString()

	f.tokens[access] = u.ID
	f.refreshes[refresh] = u.ID

	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    int(f.TokenTTL.Seconds()),
		"refresh_token": refresh,
		"user":          userJSON(u),
	}
}

func (f *FakeSupabase) userByIDLocked(id string) *fakeUser {
	for _, u := range f.users {
		if u.ID == id {
			return u
		}
	}
	return &fakeUser{ID: id}
}

func userJSON(u *fakeUser) map[string]any {
	meta := u.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"role":          "authenticated",
		"user_metadata": meta,
		"app_metadata":  map[string]any{"provider": "email"},
	}
}

// =============================================================================
// PostgREST
// =============================================================================

var reservedParams = map[string]bool{"select": true, "order": true}

func (f *FakeSupabase) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	q := r.URL.Query()

	f.mu.Lock()
	rows := f.matchLocked(table, q)
	rows = f.embedLocked(rows, q.Get("select"))
	f.mu.Unlock()

	if order := q.Get("order"); order != "" {
		sortRows(rows, order)
	}
	f.respondRows(w, r, http.StatusOK, rows)
}

func (f *FakeSupabase) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	rows, err := decodeRows(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "PGRST102", "message": err.Error()})
		return
	}
	key := primaryKey(table)

	f.mu.Lock()
	inserted := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		applyDefaults(table, row)
		if f.indexLocked(table, key, row[key]) >= 0 {
			f.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]any{
				"code":    "23505",
				"message": fmt.Sprintf("duplicate key value violates unique constraint \"%s_pkey\"", table),
			})
			return
		}
		f.tables[table] = append(f.tables[table], cloneRow(row))
		inserted = append(inserted, cloneRow(row))
	}
	inserted = f.embedLocked(inserted, r.URL.Query().Get("select"))
	f.mu.Unlock()

	f.respondRows(w, r, http.StatusCreated, inserted)
}

func (f *FakeSupabase) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "PGRST102", "message": err.Error()})
		return
	}
	q := r.URL.Query()

	f.mu.Lock()
	updated := make([]map[string]any, 0)
	for _, row := range f.tables[table] {
		if !rowMatches(row, q) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		updated = append(updated, cloneRow(row))
	}
	updated = f.embedLocked(updated, q.Get("select"))
	f.mu.Unlock()

	f.respondRows(w, r, http.StatusOK, updated)
}

func (f *FakeSupabase) respondRows(w http.ResponseWriter, r *http.Request, status int, rows []map[string]any) {
	if r.Header.Get("Accept") == "application/vnd.pgrst.object+json" {
		if len(rows) != 1 {
			writeJSON(w, http.StatusNotAcceptable, map[string]any{
				"code":    "PGRST116",
				"message": "JSON object requested, multiple (or no) rows returned",
				"details": fmt.Sprintf("The result contains %d rows", len(rows)),
			})
			return
		}
		writeJSON(w, status, rows[0])
		return
	}
	writeJSON(w, status, rows)
}

func (f *FakeSupabase) matchLocked(table string, q url.Values) []map[string]any {
	out := make([]map[string]any, 0)
	for _, row := range f.tables[table] {
		if rowMatches(row, q) {
			out = append(out, cloneRow(row))
		}
	}
	return out
}

// embedLocked resolves "alias:profiles(...)" embeds through user_id.
func (f *FakeSupabase) embedLocked(rows []map[string]any, sel string) []map[string]any {
	alias := ""
	switch {
	case strings.Contains(sel, "user:profiles("):
		alias = "user"
	case strings.Contains(sel, "profiles("):
		alias = "profiles"
	default:
		return rows
	}
	for _, row := range rows {
		uid := fmt.Sprint(row["user_id"])
		for _, p := range f.tables["profiles"] {
			if fmt.Sprint(p["id"]) == uid {
				row[alias] = cloneRow(p)
				break
			}
		}
		if _, ok := row[alias]; !ok {
			row[alias] = nil
		}
	}
	return rows
}

func (f *FakeSupabase) indexLocked(table, key string, value any) int {
	if value == nil {
		return -1
	}
	for i, row := range f.tables[table] {
		if fmt.Sprint(row[key]) == fmt.Sprint(value) {
			return i
		}
	}
	return -1
}

func rowMatches(row map[string]any, q url.Values) bool {
	for col, values := range q {
		if reservedParams[col] {
			continue
		}
		for _, v := range values {
			if !strings.HasPrefix(v, "eq.") {
				continue
			}
			if fmt.Sprint(row[col]) != strings.TrimPrefix(v, "eq.") {
				return false
			}
		}
	}
	return true
}

func sortRows(rows []map[string]any, order string) {
	parts := strings.SplitN(strings.Split(order, ",")[0], ".", 2)
	col := parts[0]
	desc := len(parts) == 2 && parts[1] == "desc"
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := fmt.Sprint(rows[i][col]), fmt.Sprint(rows[j][col])
		if desc {
			return a > b
		}
		return a < b
	})
}

func primaryKey(table string) string {
	if table == "user_settings" {
		return "user_id"
	}
	return "id"
}

func applyDefaults(table string, row map[string]any) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch table {
	case "posts":
		if row["id"] == nil {
			row["id"] = uuid.NewString()
		}
		if row["created_at"] == nil {
			row["created_at"] = now
		}
	case "user_settings":
		for k, v := range map[string]any{
			"private_account":     false,
			"push_notifications":  true,
			"email_notifications": true,
			"created_at":          now,
			"updated_at":          now,
		} {
			if _, ok := row[k]; !ok {
				row[k] = v
			}
		}
	}
}

func decodeRows(body io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var rows []map[string]any
		err := json.Unmarshal(data, &rows)
		return rows, err
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return []map[string]any{row}, nil
}

// =============================================================================
// Storage
// =============================================================================

func (f *FakeSupabase) handleUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, path := vars["bucket"], vars["path"]
	data, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	key := bucket + "/" + path
	if _, exists := f.objects[key]; exists && r.Header.Get("x-upsert") != "true" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"statusCode": "409", "error": "Duplicate", "message": "The resource already exists",
		})
		return
	}
	f.objects[key] = data
	writeJSON(w, http.StatusOK, map[string]any{"Key": key, "Id": uuid.NewString()})
}

// =============================================================================
// Helpers
// =============================================================================

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
