// Package test exercises the API end to end against a containerized
// database. These tests need docker and are skipped in -short runs.
package test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/jmoiron/sqlx"
	"github.com/ramadhanis/academy/api"
	"github.com/ramadhanis/academy/api/background"
	"github.com/ramadhanis/academy/core/auth"
	"github.com/ramadhanis/academy/core/player"
	"github.com/ramadhanis/academy/database/dbtest"
	"github.com/ramadhanis/academy/random"
	"github.com/ramadhanis/academy/rate"
	"github.com/ramadhanis/academy/validate"
	"github.com/sirupsen/logrus"
)

type TestEnv struct {
	T       *testing.T
	DB      *sqlx.DB
	URL     string
	Session *scs.SessionManager
	Players *player.Registry

	client *http.Client
}

func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	db := dbtest.New(t, "file://../../migrations")

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	session := scs.New()
	session.Lifetime = time.Hour

	bg := background.New(log)
	players := player.NewRegistry(log, db, bg, time.Hour, time.Minute)
	limiter := rate.NewLimiter(1000, 10, 1000)

	mux := api.APIMux(api.APIConfig{
		Log:        log,
		DB:         db,
		Session:    session,
		Background: bg,
		Players:    players,
		Limiter:    limiter,
	})

	// The auth service is out of process in production; tests grant
	// identities straight into the shared session store.
	root := http.NewServeMux()
	root.Handle("/test/login", session.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Grant(r.Context(), session, r.URL.Query().Get("user"), r.URL.Query().Get("role"))
		w.WriteHeader(http.StatusNoContent)
	})))
	root.Handle("/", mux)

	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		players.Shutdown(ctx)
		if err := bg.Shutdown(ctx); err != nil {
			t.Logf("draining background tasks: %v", err)
		}
	})

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("building cookie jar: %v", err)
	}

	return &TestEnv{
		T:       t,
		DB:      db,
		URL:     srv.URL,
		Session: session,
		Players: players,
		client:  &http.Client{Jar: jar},
	}
}

func (e *TestEnv) Client() *http.Client { return e.client }

// Login grants the session an identity. Role defaults to student.
func (e *TestEnv) Login(t *testing.T, userID, role string) {
	t.Helper()

	r, err := http.NewRequest(http.MethodGet, e.URL+"/test/login?user="+userID+"&role="+role, nil)
	if err != nil {
		t.Fatal(err)
	}

	w, err := e.client.Do(r)
	if err != nil {
		t.Fatal(err)
	}
	w.Body.Close()

	if w.StatusCode != http.StatusNoContent {
		t.Fatalf("cannot login as user[%s]: status code %s", userID, w.Status)
	}
}

// CreateUser inserts an identity row and returns its id.
func (e *TestEnv) CreateUser(t *testing.T, role string) string {
	t.Helper()

	id := validate.GenerateID()
	now := time.Now().UTC()

	const q = `INSERT INTO users (user_id, email, name, role, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $5)`
	if _, err := e.DB.Exec(q, id, random.Email(), "User "+random.String(4), role, now); err != nil {
		t.Fatalf("inserting user: %v", err)
	}

	return id
}

func (e *TestEnv) Enroll(t *testing.T, userID, courseID string) {
	t.Helper()

	const q = `INSERT INTO enrollments (user_id, course_id, created_at) VALUES ($1, $2, $3)`
	if _, err := e.DB.Exec(q, userID, courseID, time.Now().UTC()); err != nil {
		t.Fatalf("inserting enrollment: %v", err)
	}
}

// PostJSON sends body as JSON and decodes the response into out when
// it is non-nil, failing the test on an unexpected status.
func (e *TestEnv) PostJSON(t *testing.T, path string, body interface{}, out interface{}, wantStatus int) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(raw)
	}

	r, err := http.NewRequest(http.MethodPost, e.URL+path, buf)
	if err != nil {
		t.Fatal(err)
	}
	r.Header.Set("Content-Type", "application/json")

	w, err := e.client.Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != wantStatus {
		raw, _ := io.ReadAll(w.Body)
		t.Fatalf("POST %s: status %s, want %d, body %s", path, w.Status, wantStatus, raw)
	}

	if out != nil {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decoding response of POST %s: %v", path, err)
		}
	}
}

func (e *TestEnv) GetJSON(t *testing.T, path string, out interface{}, wantStatus int) {
	t.Helper()

	r, err := http.NewRequest(http.MethodGet, e.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}

	w, err := e.client.Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != wantStatus {
		raw, _ := io.ReadAll(w.Body)
		t.Fatalf("GET %s: status %s, want %d, body %s", path, w.Status, wantStatus, raw)
	}

	if out != nil {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decoding response of GET %s: %v", path, err)
		}
	}
}
