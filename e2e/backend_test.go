package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type procedureResult struct {
	status int
	body   string
}

type createdIdentity struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// fakeBackend speaks the subset of the auth admin and PostgREST APIs the
// gateway uses.
type fakeBackend struct {
	server *httptest.Server
	calls  atomic.Int32

	mu         sync.Mutex
	tokens     map[string]string
	procedures map[string]procedureResult
	created    []createdIdentity
	deleted    []string
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{
		tokens:     make(map[string]string),
		procedures: make(map[string]procedureResult),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/v1/user", b.user)
	mux.HandleFunc("POST /auth/v1/admin/users", b.createUser)
	mux.HandleFunc("DELETE /auth/v1/admin/users/{id}", b.deleteUser)
	mux.HandleFunc("POST /rest/v1/rpc/{name}", b.rpc)
	mux.HandleFunc("PATCH /rest/v1/{table}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		mux.ServeHTTP(w, r)
	}))
	return b
}

func (b *fakeBackend) Close() {
	b.server.Close()
}

func (b *fakeBackend) acceptToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token] = uuid.NewString()
}

func (b *fakeBackend) setProcedure(name string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.procedures[name] = procedureResult{status: status, body: body}
}

func (b *fakeBackend) snapshot() ([]createdIdentity, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]createdIdentity(nil), b.created...), append([]string(nil), b.deleted...)
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (b *fakeBackend) user(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	id, ok := b.tokens[token]
	b.mu.Unlock()
	if !ok {
		reply(w, http.StatusUnauthorized, `{"code":401,"msg":"invalid JWT"}`)
		return
	}
	reply(w, http.StatusOK, fmt.Sprintf(`{"id":%q,"email":"operateur@ito.mg"}`, id))
}

func (b *fakeBackend) createUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email        string         `json:"email"`
		UserMetadata map[string]any `json:"user_metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		reply(w, http.StatusBadRequest, `{"msg":"bad body"}`)
		return
	}
	identity := createdIdentity{ID: uuid.NewString(), Email: in.Email, Metadata: in.UserMetadata}
	b.mu.Lock()
	b.created = append(b.created, identity)
	b.mu.Unlock()
	reply(w, http.StatusOK, fmt.Sprintf(`{"id":%q,"email":%q,"email_confirmed_at":"2025-03-01T08:00:00Z"}`, identity.ID, identity.Email))
}

func (b *fakeBackend) deleteUser(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.deleted = append(b.deleted, r.PathValue("id"))
	b.mu.Unlock()
	reply(w, http.StatusOK, `{}`)
}

func (b *fakeBackend) rpc(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	res, ok := b.procedures[r.PathValue("name")]
	b.mu.Unlock()
	if !ok {
		reply(w, http.StatusNotFound, `{"code":"PGRST202","message":"Could not find the function"}`)
		return
	}
	reply(w, res.status, res.body)
}
