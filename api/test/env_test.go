package test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/api"
	"github.com/penguhub/marketplace/api/background"
	"github.com/penguhub/marketplace/core/auth"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/database/dbtest"
	"github.com/penguhub/marketplace/rate"
	"github.com/penguhub/marketplace/realtime"
	"github.com/penguhub/marketplace/validate"
	"github.com/sirupsen/logrus"
)

const (
	webhookSecret = "whsec_api_test"
	cpxSecret     = "cpx_api_test"
	jwtSecret     = "jwt_api_test"
)

// TestEnv serves the whole API over a migrated database with one user per
// role.
type TestEnv struct {
	*httptest.Server
	DB *sqlx.DB

	AdminID   string
	StudentID string
	ExpertID  string

	verifier *auth.Verifier
}

func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	db := dbtest.New(t)

	log := logrus.New()
	log.SetOutput(io.Discard)

	bg := background.New(log)
	rt := realtime.NewService(log, realtime.NewHub(log), nil, "")
	limiter := rate.NewLimiter(20, time.Second, time.Minute)

	env := &TestEnv{
		DB:        db,
		AdminID:   dbtest.SeedUser(t, db, validate.GenerateID(), claims.RoleAdmin, 0),
		StudentID: dbtest.SeedUser(t, db, validate.GenerateID(), claims.RoleStudent, 0),
		ExpertID:  dbtest.SeedUser(t, db, validate.GenerateID(), claims.RoleExpert, 0),
		verifier:  auth.NewVerifier(jwtSecret),
	}

	env.Server = httptest.NewServer(api.APIMux(api.APIConfig{
		Log:                 log,
		DB:                  db,
		Verifier:            env.verifier,
		Background:          bg,
		Realtime:            rt,
		CPXSecret:           cpxSecret,
		StripeWebhookSecret: webhookSecret,
		WithdrawalLimiter:   limiter,
		TimeZone:            time.UTC,
	}))

	t.Cleanup(func() {
		env.Server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		bg.Shutdown(ctx)
		rt.Close()
		limiter.Stop()
	})
	return env
}

func (env *TestEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := env.verifier.Sign(claims.Claims{UserID: userID, Role: role})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (env *TestEnv) Admin(t *testing.T) string   { return env.token(t, env.AdminID, claims.RoleAdmin) }
func (env *TestEnv) Student(t *testing.T) string { return env.token(t, env.StudentID, claims.RoleStudent) }
func (env *TestEnv) Expert(t *testing.T) string  { return env.token(t, env.ExpertID, claims.RoleExpert) }

// Do sends body as JSON with token as bearer, decodes the response into out
// when given and returns the status code.
func (env *TestEnv) Do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}

	r, err := http.NewRequest(method, env.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	w, err := env.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if out != nil && w.StatusCode < 300 {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return w.StatusCode
}
