package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/ehr/portal/internal/platform/apperr"
)

const testSecret = "test-secret-key-for-session-tokens"

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ti := NewTokenIssuer(testSecret, time.Hour)
	tok, err := ti.Issue(7, "alice", 42)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := ti.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "alice" || claims.PatientID != 42 {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.Subject != "7" {
		t.Errorf("expected subject 7, got %q", claims.Subject)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	ti := NewTokenIssuer(testSecret, time.Hour)
	ti.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := ti.Issue(1, "bob", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier := NewTokenIssuer(testSecret, time.Hour)
	if _, err := verifier.Parse(tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	tok, _ := NewTokenIssuer("other-secret", time.Hour).Issue(1, "bob", 0)
	if _, err := NewTokenIssuer(testSecret, time.Hour).Parse(tok); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestTokenIssuer_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           1,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewTokenIssuer(testSecret, time.Hour).Parse(tok); err == nil {
		t.Fatal("expected alg=none to be rejected")
	}
}

func runMiddleware(t *testing.T, header string) (error, *Claims) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got *Claims
	handler := JWTMiddleware(NewTokenIssuer(testSecret, time.Hour))(func(c echo.Context) error {
		got = ClaimsFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	return handler(c), got
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err, _ := runMiddleware(t, "")
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestJWTMiddleware_BadScheme(t *testing.T) {
	err, _ := runMiddleware(t, "Basic dXNlcjpwYXNz")
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestJWTMiddleware_InvalidToken(t *testing.T) {
	err, _ := runMiddleware(t, "Bearer not.a.token")
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tok, _ := NewTokenIssuer(testSecret, time.Hour).Issue(3, "carol", 9)
	err, claims := runMiddleware(t, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims == nil || claims.UserID != 3 || claims.PatientID != 9 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestCurrentUser_NoClaims(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if _, err := CurrentUser(c); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := CheckPassword(hash, "s3cret-pass")
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = CheckPassword(hash, "wrong")
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
	if _, err := CheckPassword("not-a-hash", "x"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}
