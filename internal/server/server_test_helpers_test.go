package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/auth"
	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"github.com/MarcoPoloResearchLab/cargo888/internal/database"
	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
	"github.com/MarcoPoloResearchLab/cargo888/internal/qrrender"
	"github.com/MarcoPoloResearchLab/cargo888/internal/quotes"
	"github.com/MarcoPoloResearchLab/cargo888/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningSecret = "test-signing-secret"
	jsonContentType   = "application/json"
)

type testServer struct {
	url    string
	feed   *ScanFeed
	tokens *auth.TokenIssuer
}

func newTestServer(t *testing.T, configure ...func(*Dependencies)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: db, Hasher: auth.NewPasswordHasher(bcrypt.MinCost)})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	feed := NewScanFeed()
	labelsService, err := labels.NewService(labels.ServiceConfig{Database: db, Observer: feed})
	if err != nil {
		t.Fatalf("failed to build labels service: %v", err)
	}
	cargoService, err := cargo.NewService(cargo.ServiceConfig{Database: db, OnBoxesDeleted: labelsService.DeleteForBoxes})
	if err != nil {
		t.Fatalf("failed to build cargo service: %v", err)
	}
	quotesService, err := quotes.NewService(quotes.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build quotes service: %v", err)
	}

	deps := Dependencies{
		TokenManager:      tokenIssuer,
		UsersService:      usersService,
		CargoService:      cargoService,
		LabelsService:     labelsService,
		QuotesService:     quotesService,
		Renderer:          qrrender.New(qrrender.Config{}),
		ScanFeed:          feed,
		ImageDefaults:     qrrender.Options{Width: qrrender.DefaultWidth, Margin: qrrender.DefaultMargin},
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	}
	for _, apply := range configure {
		apply(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testServer{url: server.URL, feed: feed, tokens: tokenIssuer}
}

type apiResponse struct {
	status  int
	header  http.Header
	body    []byte
	decoded map[string]any
}

func (s *testServer) do(t *testing.T, method, path, token string, payload any) apiResponse {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, s.url+path, body)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	result := apiResponse{status: response.StatusCode, header: response.Header, body: raw}
	if response.Header.Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		if err := json.Unmarshal(raw, &result.decoded); err != nil {
			t.Fatalf("failed to decode json response %q: %v", raw, err)
		}
	}
	return result
}

func (s *testServer) register(t *testing.T, email, name string) (string, map[string]any) {
	t.Helper()
	response := s.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    email,
		"password": "secreto123",
		"name":     name,
		"phone":    "+57 300 000 0000",
		"city":     "Medellín",
	})
	if response.status != http.StatusCreated {
		t.Fatalf("register failed: %d %s", response.status, response.body)
	}
	token, _ := response.decoded["access_token"].(string)
	if token == "" {
		t.Fatalf("register returned no token: %s", response.body)
	}
	user, _ := response.decoded["user"].(map[string]any)
	return token, user
}

// field walks nested JSON objects by key.
func field(t *testing.T, value any, keys ...string) any {
	t.Helper()
	current := value
	for _, key := range keys {
		object, ok := current.(map[string]any)
		if !ok {
			t.Fatalf("expected object at %q, got %T", key, current)
		}
		current = object[key]
	}
	return current
}

func idOf(t *testing.T, value any, keys ...string) int64 {
	t.Helper()
	number, ok := field(t, value, keys...).(float64)
	if !ok {
		t.Fatalf("expected numeric id at %v", keys)
	}
	return int64(number)
}
