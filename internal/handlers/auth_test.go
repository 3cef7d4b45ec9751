package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lostfound/apiserver/internal/services"
	"github.com/lostfound/apiserver/internal/store"
	"github.com/lostfound/apiserver/types"
)

const testSecret = "test-secret"

type fakeUserRepo struct {
	users  map[string]types.User
	nextID int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]types.User), nextID: 1}
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	for _, user := range r.users {
		if user.ID == id {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	user, ok := r.users[username]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	r.nextID++
	r.users[user.Username] = user
	return user, nil
}

func newAuthTestRouter(repo *fakeUserRepo) *chi.Mux {
	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, services.NewUserService(repo), testSecret)
	})
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSignupCreatesUserRole(t *testing.T) {
	repo := newFakeUserRepo()
	router := newAuthTestRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup",
		map[string]string{"username": "alice", "password": "secret1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status %d: %s", rec.Code, rec.Body.String())
	}

	var resp SignupResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Username != "alice" {
		t.Errorf("unexpected username %q", resp.Username)
	}

	user, err := repo.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if user.Role != "user" {
		t.Errorf("expected role user, got %q", user.Role)
	}
	if user.PasswordHash == "secret1" {
		t.Error("password stored in plain text")
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	repo := newFakeUserRepo()
	router := newAuthTestRouter(repo)

	payload := map[string]string{"username": "alice", "password": "secret1"}
	if rec := doJSON(t, router, http.MethodPost, "/auth/signup", payload, ""); rec.Code != http.StatusCreated {
		t.Fatalf("first signup status %d", rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", payload, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate signup status %d, want 400", rec.Code)
	}
	if len(repo.users) != 1 {
		t.Errorf("expected 1 user, got %d", len(repo.users))
	}
}

func TestSignupValidation(t *testing.T) {
	router := newAuthTestRouter(newFakeUserRepo())

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"short username", "ab", "secret1"},
		{"long username", strings.Repeat("a", 51), "secret1"},
		{"short password", "alice", "12345"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/auth/signup",
				map[string]string{"username": tc.username, "password": tc.password}, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", rec.Code)
			}
		})
	}
}

func TestLoginFlow(t *testing.T) {
	repo := newFakeUserRepo()
	router := newAuthTestRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup",
		map[string]string{"username": "alice", "password": "secret1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "secret1", "client_role": "user"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}

	var resp LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.TokenType != "bearer" {
		t.Errorf("unexpected token payload: %+v", resp)
	}
	if resp.Role != "user" || resp.Username != "alice" {
		t.Errorf("unexpected identity payload: %+v", resp)
	}

	subject, err := parseTokenSubject(resp.AccessToken, []byte(testSecret))
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if subject != "alice" {
		t.Errorf("token subject %q, want alice", subject)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	repo := newFakeUserRepo()
	router := newAuthTestRouter(repo)

	doJSON(t, router, http.MethodPost, "/auth/signup",
		map[string]string{"username": "alice", "password": "secret1"}, "")

	rec := doJSON(t, router, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "wrong", "client_role": "user"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status %d, want 401", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/login",
		map[string]string{"username": "nobody", "password": "secret1", "client_role": "user"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user status %d, want 401", rec.Code)
	}
}

func TestLoginRoleGate(t *testing.T) {
	repo := newFakeUserRepo()
	router := newAuthTestRouter(repo)

	doJSON(t, router, http.MethodPost, "/auth/signup",
		map[string]string{"username": "alice", "password": "secret1"}, "")

	rec := doJSON(t, router, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "secret1", "client_role": "admin"}, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin requesting admin: status %d, want 403", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "secret1", "client_role": "owner"}, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid role: status %d, want 422", rec.Code)
	}

	// Promote and retry the admin dashboard.
	user := repo.users["alice"]
	user.Role = "admin"
	repo.users["alice"] = user

	rec = doJSON(t, router, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "secret1", "client_role": "admin"}, "")
	if rec.Code != http.StatusOK {
		t.Errorf("admin login status %d, want 200", rec.Code)
	}
}

func TestMe(t *testing.T) {
	repo := newFakeUserRepo()
	router := newAuthTestRouter(repo)

	doJSON(t, router, http.MethodPost, "/auth/signup",
		map[string]string{"username": "alice", "password": "secret1"}, "")

	token, err := issueToken("alice", "user", []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/auth/me", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status %d: %s", rec.Code, rec.Body.String())
	}

	var resp MeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Username != "alice" || resp.Role != "user" {
		t.Errorf("unexpected identity: %+v", resp)
	}
}

func TestMeRejectsBadTokens(t *testing.T) {
	repo := newFakeUserRepo()
	router := newAuthTestRouter(repo)

	if rec := doJSON(t, router, http.MethodGet, "/auth/me", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status %d, want 401", rec.Code)
	}

	if rec := doJSON(t, router, http.MethodGet, "/auth/me", nil, "not.a.token"); rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status %d, want 401", rec.Code)
	}

	expired, err := issueToken("alice", "user", []byte(testSecret), -time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if rec := doJSON(t, router, http.MethodGet, "/auth/me", nil, expired); rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token status %d, want 401", rec.Code)
	}

	// A valid token for a user that no longer exists is unauthenticated.
	ghost, err := issueToken("ghost", "user", []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if rec := doJSON(t, router, http.MethodGet, "/auth/me", nil, ghost); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown subject status %d, want 401", rec.Code)
	}
}

func TestTokenCarriesRoleClaim(t *testing.T) {
	token, err := issueToken("root", "admin", []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims := tokenClaims{}
	if _, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != "root" || claims.Role != "admin" {
		t.Errorf("unexpected claims: subject=%q role=%q", claims.Subject, claims.Role)
	}
}
