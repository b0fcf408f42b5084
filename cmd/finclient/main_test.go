package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"finance-client/pkg/config"
	"finance-client/pkg/finance"
	"finance-client/pkg/logging"
	metricsmem "finance-client/pkg/metrics/memory"
)

type fakeBackend struct {
	mu           sync.Mutex
	transactions []finance.Transaction
	lastAuth     string
	token        string
}

func (b *fakeBackend) auth() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAuth
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transactions)
}

func envelope(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "success", "data": data})
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.lastAuth = r.Header.Get("Authorization")
		envelope(w, b.transactions)
	})
	mux.HandleFunc("POST /api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		var in finance.TransactionInput
		json.NewDecoder(r.Body).Decode(&in)
		b.mu.Lock()
		tx := finance.Transaction{
			ID:          finance.ID(fmt.Sprint(len(b.transactions) + 1)),
			Description: in.Description,
			Amount:      in.Amount,
			Type:        in.Type,
			Category:    in.Category,
			Date:        in.Date,
		}
		b.transactions = append(b.transactions, tx)
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		envelope(w, tx)
	})
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"Incorrect email or password"}`)
			return
		}
		json.NewEncoder(w).Encode(finance.Token{AccessToken: b.token, TokenType: "bearer"})
	})
	mux.HandleFunc("GET /api/v1/test", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":"API is working"}`)
	})
	return mux
}

func newTestApp(t *testing.T) (*app, *fakeBackend, *bytes.Buffer) {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "7",
		"email": "ana@example.com",
		"name":  "Ana",
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	b := &fakeBackend{transactions: []finance.Transaction{}, token: token}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		APIURL:          srv.URL + "/api/v1",
		HTTPTimeout:     5 * time.Second,
		StateDB:         filepath.Join(t.TempDir(), "state.db"),
		CacheMaxEntries: 100,
		QueryRetry:      -1,
		QueryRetryDelay: 10 * time.Millisecond,
	}

	a, err := newApp(context.Background(), cfg, logging.NewNoOpLogger(), metricsmem.NewMemoryCollector())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	t.Cleanup(func() { a.close() })

	out := &bytes.Buffer{}
	a.out = out
	a.in = strings.NewReader("")
	a.now = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }
	return a, b, out
}

func run(t *testing.T, a *app, name string, args ...string) error {
	t.Helper()
	cmd, ok := commands[name]
	if !ok {
		t.Fatalf("unknown command %s", name)
	}
	return cmd.run(context.Background(), a, args)
}

func TestAddAndListTransactions(t *testing.T) {
	a, _, out := newTestApp(t)

	if err := run(t, a, "transactions"); err != nil {
		t.Fatalf("transactions failed: %v", err)
	}
	if !strings.Contains(out.String(), "No transactions found.") {
		t.Errorf("Expected the empty state, got %q", out.String())
	}

	out.Reset()
	if err := run(t, a, "add-transaction", "-description", "Salário", "-amount", "3500", "-category", "Salário"); err != nil {
		t.Fatalf("add-transaction failed: %v", err)
	}
	if !strings.Contains(out.String(), "Saved transaction #1.") {
		t.Errorf("Unexpected output %q", out.String())
	}

	out.Reset()
	if err := run(t, a, "transactions"); err != nil {
		t.Fatalf("transactions failed: %v", err)
	}
	for _, want := range []string{"Salário", "2024-01-15", "+R$ 3.500,00"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in:\n%s", want, out.String())
		}
	}
}

func TestAddTransaction_Invalid(t *testing.T) {
	a, b, _ := newTestApp(t)

	err := run(t, a, "add-transaction", "-description", "Café", "-amount", "4.505")
	if err == nil || !strings.Contains(err.Error(), "amount") {
		t.Fatalf("Expected an amount validation error, got %v", err)
	}
	if b.count() != 0 {
		t.Error("Invalid input must not reach the backend")
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	a, b, out := newTestApp(t)

	if err := run(t, a, "whoami"); err != nil {
		t.Fatalf("whoami failed: %v", err)
	}
	if !strings.Contains(out.String(), "Not logged in.") {
		t.Errorf("Unexpected output %q", out.String())
	}

	if err := run(t, a, "login", "-email", "ana@example.com", "-password", "wrong"); err == nil {
		t.Fatal("Expected a failed login")
	}

	out.Reset()
	a.in = strings.NewReader("secret\n")
	if err := run(t, a, "login", "-email", "ana@example.com"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !strings.Contains(out.String(), "Logged in as ana@example.com.") {
		t.Errorf("Unexpected output %q", out.String())
	}

	out.Reset()
	run(t, a, "whoami")
	if !strings.Contains(out.String(), "Ana <ana@example.com> (id 7)") {
		t.Errorf("Unexpected whoami %q", out.String())
	}

	if err := run(t, a, "transactions"); err != nil {
		t.Fatalf("transactions failed: %v", err)
	}
	if got := b.auth(); got != "Bearer "+b.token {
		t.Errorf("Expected the stored token on requests, got %q", got)
	}

	out.Reset()
	run(t, a, "logout")
	run(t, a, "whoami")
	if !strings.Contains(out.String(), "Not logged in.") {
		t.Errorf("Unexpected output after logout %q", out.String())
	}
}

func TestHealth(t *testing.T) {
	a, _, out := newTestApp(t)

	if err := run(t, a, "health"); err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if !strings.Contains(out.String(), "Backend OK: API is working") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestDeleteRequiresID(t *testing.T) {
	a, _, _ := newTestApp(t)

	if err := run(t, a, "delete-transaction"); err == nil {
		t.Error("Expected an error without -id")
	}
}

func TestCacheCommand(t *testing.T) {
	a, _, out := newTestApp(t)

	run(t, a, "transactions")
	out.Reset()
	if err := run(t, a, "cache"); err != nil {
		t.Fatalf("cache failed: %v", err)
	}
	for _, want := range []string{"transactions", "fresh", "L1-memory -> sqlite", "No conflicts."} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in:\n%s", want, out.String())
		}
	}
}
