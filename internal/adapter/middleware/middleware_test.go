package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "s3cret"

func TestParseTokenRoundTrip(t *testing.T) {
	tok, err := IssueToken(secret, "acct-1", RoleChurchAdmin, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseToken(secret, tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "acct-1" || claims.Role != RoleChurchAdmin {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	// IssueToken treats a non-positive ttl as the default, so build this one by hand.
	past := time.Now().Add(-time.Hour)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: RoleMember,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acct-1",
			ExpiresAt: jwt.NewNumericDate(past),
		},
	}).SignedString([]byte(secret))
	badRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:             "pastor",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acct-1"},
	}).SignedString([]byte(secret))
	otherKey, _ := IssueToken("different", "acct-1", RoleMember, time.Minute)

	for name, tok := range map[string]string{
		"expired":   expired,
		"bad role":  badRole,
		"other key": otherKey,
		"garbage":   "abc.def.ghi",
	} {
		if _, err := ParseToken(secret, tok); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestRequireRole(t *testing.T) {
	app := fiber.New()
	app.Use(Protected(secret))
	app.Get("/admin", RequireRole(RoleSuperAdmin), func(c *fiber.Ctx) error { return c.SendString("ok") })

	for role, want := range map[Role]int{
		RoleSuperAdmin:  http.StatusOK,
		RoleChurchAdmin: http.StatusForbidden,
		RoleMember:      http.StatusForbidden,
	} {
		tok, _ := IssueToken(secret, "x", role, time.Minute)
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != want {
			t.Errorf("%s: status %d, want %d", role, resp.StatusCode, want)
		}
	}
}

func TestActorOwns(t *testing.T) {
	if !(Actor{Subject: "a", Role: RoleMember}).Owns("a") {
		t.Error("member does not own own account")
	}
	if (Actor{Subject: "a", Role: RoleChurchAdmin}).Owns("b") {
		t.Error("church admin owns another account")
	}
	if !(Actor{Subject: "ops", Role: RoleSuperAdmin}).Owns("b") {
		t.Error("super admin denied")
	}
}

// idempotentApp counts how many times the handler really ran.
func idempotentApp(status int) (*fiber.App, *int) {
	calls := 0
	app := fiber.New()
	app.Use(Protected(secret), Idempotency(NewMemoryResponses(), slog.New(slog.NewTextHandler(io.Discard, nil))))
	handler := func(c *fiber.Ctx) error {
		calls++
		return c.Status(status).JSON(fiber.Map{"call": calls})
	}
	app.Post("/things", handler)
	app.Get("/things", handler)
	return app, &calls
}

func send(t *testing.T, app *fiber.App, method, subject, key, body string) *http.Response {
	t.Helper()
	tok, _ := IssueToken(secret, subject, RoleMember, time.Minute)
	req := httptest.NewRequest(method, "/things", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestIdempotencyReplaysSameRequest(t *testing.T) {
	app, calls := idempotentApp(http.StatusCreated)

	first := send(t, app, http.MethodPost, "u1", "k1", `{"a":1}`)
	second := send(t, app, http.MethodPost, "u1", "k1", `{"a":1}`)
	if *calls != 1 {
		t.Errorf("handler ran %d times, want 1", *calls)
	}
	if second.StatusCode != first.StatusCode || second.Header.Get("X-Idempotency-Hit") != "true" {
		t.Errorf("replay: status %d hit %q", second.StatusCode, second.Header.Get("X-Idempotency-Hit"))
	}

	if resp := send(t, app, http.MethodPost, "u1", "k1", `{"a":2}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("different body: status %d, want 409", resp.StatusCode)
	}
	// Keys are per caller.
	send(t, app, http.MethodPost, "u2", "k1", `{"a":1}`)
	if *calls != 2 {
		t.Errorf("another caller's key was replayed")
	}
}

func TestIdempotencyKeyRequiredOnWrites(t *testing.T) {
	app, calls := idempotentApp(http.StatusOK)
	if resp := send(t, app, http.MethodPost, "u1", "", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
	if resp := send(t, app, http.MethodGet, "u1", "", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("GET without key: status %d", resp.StatusCode)
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	app, calls := idempotentApp(http.StatusServiceUnavailable)
	send(t, app, http.MethodPost, "u1", "k1", `{}`)
	send(t, app, http.MethodPost, "u1", "k1", `{}`)
	if *calls != 2 {
		t.Errorf("a 503 was cached: calls = %d", *calls)
	}
}
