package server

import (
	contextpkg "context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/cargas/1", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubTokenManager{
			validateErr: jwt.ErrTokenExpired,
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), jwt.ErrTokenExpired) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/cargas/1", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubTokenManager{
			validateErr: errors.New("signature mismatch"),
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

func TestOptionalAuthorizationAllowsAnonymousAndInvalidTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name        string
		header      string
		validateErr error
		wantSubject string
	}{
		{name: "anonymous", header: ""},
		{name: "invalid token", header: "Bearer bad", validateErr: errors.New("bad")},
		{name: "valid token", header: "Bearer good", wantSubject: "42"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodPost, "/qr/validate", http.NoBody)
			if testCase.header != "" {
				request.Header.Set("Authorization", testCase.header)
			}
			ctx.Request = request
			handler := &httpHandler{
				tokens: stubTokenManager{subject: "42", validateErr: testCase.validateErr},
				logger: zap.NewNop(),
			}

			handler.optionalAuthorization(ctx)

			if ctx.IsAborted() {
				t.Fatalf("optional authorization must not abort")
			}
			if got := ctx.GetString(userIDContextKey); got != testCase.wantSubject {
				t.Fatalf("expected subject %q, got %q", testCase.wantSubject, got)
			}
		})
	}
}

func TestBearerTokenAcceptsQueryParameterOnlyForGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		method string
		want   bool
	}{
		{method: http.MethodGet, want: true},
		{method: http.MethodPost, want: false},
	}
	for _, testCase := range testCases {
		recorder := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(recorder)
		ctx.Request = httptest.NewRequest(testCase.method, "/qr/carga/1/events?access_token=abc", http.NoBody)

		token, ok := bearerToken(ctx)
		if ok != testCase.want {
			t.Fatalf("%s: expected ok=%v, got %v", testCase.method, testCase.want, ok)
		}
		if ok && token != "abc" {
			t.Fatalf("unexpected token %q", token)
		}
	}
}

type stubTokenManager struct {
	subject     string
	validateErr error
}

func (s stubTokenManager) IssueToken(contextpkg.Context, string) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubTokenManager) ValidateToken(string) (string, error) {
	if s.validateErr != nil {
		return "", s.validateErr
	}
	return s.subject, nil
}
