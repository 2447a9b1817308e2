package server

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"
	"strings"
	"testing"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
)

func decodeQR(t *testing.T, data []byte) string {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("response is not a png: %v", err)
	}
	bitmap, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		t.Fatalf("failed to binarize image: %v", err)
	}
	result, err := zxingqr.NewQRCodeReader().Decode(bitmap, nil)
	if err != nil {
		t.Fatalf("failed to decode qr: %v", err)
	}
	return result.GetText()
}

func createCargo(t *testing.T, server *testServer, token string) (int64, map[string]any) {
	t.Helper()
	response := server.do(t, http.MethodPost, "/cargas", token, map[string]any{
		"ciudad_destino": "Medellín",
		"generar_qr":     true,
		"articulos": []map[string]any{
			{"ref_art": "REF-1", "descripcion_espanol": "Widget", "cantidad_cajas": 2, "peso_bruto": 12.5},
		},
	})
	if response.status != http.StatusCreated {
		t.Fatalf("create cargo failed: %d %s", response.status, response.body)
	}
	return idOf(t, response.decoded, "datos", "id"), response.decoded
}

func TestLabelLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)
	token, user := server.register(t, "ana@example.com", "Ana Maria Lopez")

	cargoID, created := createCargo(t, server, token)
	if mark := field(t, created, "datos", "shipping_mark"); mark != user["shipping_mark"] {
		t.Fatalf("expected cargo to inherit shipping mark %v, got %v", user["shipping_mark"], mark)
	}
	if made := field(t, created, "qr", "creados"); made != float64(2) {
		t.Fatalf("expected two labels to be generated, got %v", made)
	}

	listed := server.do(t, http.MethodGet, fmt.Sprintf("/qr/carga/%d", cargoID), token, nil)
	if listed.status != http.StatusOK {
		t.Fatalf("list labels failed: %d %s", listed.status, listed.body)
	}
	views, _ := listed.decoded["datos"].([]any)
	if len(views) != 2 {
		t.Fatalf("expected two labels, got %d", len(views))
	}
	labelID := idOf(t, views[0], "id")
	code, _ := field(t, views[0], "codigo_qr").(string)
	if !strings.HasPrefix(code, "QRD_888CGS-") {
		t.Fatalf("unexpected code %q", code)
	}
	if destination := field(t, views[0], "datos_qr", "destino"); destination != "Medellín" {
		t.Fatalf("unexpected payload destination %v", destination)
	}

	image := server.do(t, http.MethodGet, fmt.Sprintf("/qr/image/%d?width=300&logo=false", labelID), "", nil)
	if image.status != http.StatusOK || image.header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected image response %d %q", image.status, image.header.Get("Content-Type"))
	}
	if image.header.Get("Cache-Control") != immutableCacheControl {
		t.Fatalf("unexpected cache header %q", image.header.Get("Cache-Control"))
	}
	if decoded := decodeQR(t, image.body); decoded != code {
		t.Fatalf("image encodes %q, expected %q", decoded, code)
	}

	first := server.do(t, http.MethodPost, "/qr/validate", "", map[string]any{"codigoQR": code})
	if first.status != http.StatusOK || first.decoded["yaEscaneado"] != false {
		t.Fatalf("unexpected first scan %d %s", first.status, first.body)
	}
	second := server.do(t, http.MethodPost, "/qr/validate", token, map[string]any{"codigoQR": code})
	if second.status != http.StatusOK || second.decoded["yaEscaneado"] != true {
		t.Fatalf("unexpected second scan %d %s", second.status, second.body)
	}
	if status := field(t, second.decoded, "datos", "estado"); status != "scanned" {
		t.Fatalf("expected scanned status, got %v", status)
	}
	if count := field(t, second.decoded, "datos", "contador_escaneos"); count != float64(2) {
		t.Fatalf("expected two scans, got %v", count)
	}
	if by := field(t, second.decoded, "datos", "ultimo_escaneo_por"); by != fmt.Sprint(idOf(t, user, "id")) {
		t.Fatalf("expected last scanner to be the caller, got %v", by)
	}

	stats := server.do(t, http.MethodGet, fmt.Sprintf("/qr/carga/%d/stats", cargoID), token, nil)
	if stats.status != http.StatusOK {
		t.Fatalf("stats failed: %d %s", stats.status, stats.body)
	}
	if scanned := field(t, stats.decoded, "datos", "escaneados"); scanned != float64(1) {
		t.Fatalf("expected one scanned label, got %v", scanned)
	}
	if scans := field(t, stats.decoded, "datos", "total_escaneos"); scans != float64(2) {
		t.Fatalf("expected two scans in total, got %v", scans)
	}

	pdf := server.do(t, http.MethodGet, fmt.Sprintf("/qr/carga/%d/pdf", cargoID), token, nil)
	if pdf.status != http.StatusOK || !bytes.HasPrefix(pdf.body, []byte("%PDF-")) {
		t.Fatalf("unexpected pdf response %d", pdf.status)
	}
	if disposition := pdf.header.Get("Content-Disposition"); !strings.Contains(disposition, "etiquetas_888CGS-") {
		t.Fatalf("unexpected content disposition %q", disposition)
	}

	deleted := server.do(t, http.MethodDelete, fmt.Sprintf("/cargas/%d", cargoID), token, nil)
	if deleted.status != http.StatusOK {
		t.Fatalf("delete failed: %d %s", deleted.status, deleted.body)
	}
	gone := server.do(t, http.MethodGet, fmt.Sprintf("/qr/image/%d", labelID), "", nil)
	if gone.status != http.StatusNotFound {
		t.Fatalf("expected deleted label image to be gone, got %d", gone.status)
	}
}

func TestRegenerateReplacesLabelCode(t *testing.T) {
	server := newTestServer(t)
	token, _ := server.register(t, "luis@example.com", "Luis Perez")
	_, created := createCargo(t, server, token)

	articles, _ := field(t, created, "datos", "articulos").([]any)
	boxes, _ := field(t, articles[0], "cajas").([]any)
	boxID := idOf(t, boxes[0], "id")

	again := server.do(t, http.MethodPost, fmt.Sprintf("/qr/caja/%d/generate", boxID), token, nil)
	if again.status != http.StatusConflict || again.decoded["error"] != "label_exists" {
		t.Fatalf("expected conflict for existing label, got %d %s", again.status, again.body)
	}

	first := server.do(t, http.MethodPost, fmt.Sprintf("/qr/regenerate/%d", boxID), token, nil)
	second := server.do(t, http.MethodPost, fmt.Sprintf("/qr/regenerate/%d", boxID), token, nil)
	if first.status != http.StatusOK || second.status != http.StatusOK {
		t.Fatalf("regenerate failed: %d %d", first.status, second.status)
	}
	if field(t, first.decoded, "datos", "codigo_qr") == field(t, second.decoded, "datos", "codigo_qr") {
		t.Fatalf("expected regenerate to issue a new code")
	}
	stale := server.do(t, http.MethodPost, "/qr/validate", "", map[string]any{"codigoQR": field(t, first.decoded, "datos", "codigo_qr")})
	if stale.status != http.StatusNotFound {
		t.Fatalf("expected replaced code to be unknown, got %d", stale.status)
	}
}

func TestServiceErrorsMapToStatusCodes(t *testing.T) {
	server := newTestServer(t)
	token, _ := server.register(t, "eva@example.com", "Eva Rios")

	testCases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{name: "missing token", method: http.MethodGet, path: "/cargas/1", status: http.StatusUnauthorized},
		{name: "unknown cargo", method: http.MethodGet, path: "/cargas/999", token: token, status: http.StatusNotFound, code: "cargo.owned.cargo_not_found"},
		{name: "bad id", method: http.MethodGet, path: "/cargas/abc", token: token, status: http.StatusBadRequest, code: "http.invalid_id"},
		{name: "no articles", method: http.MethodPost, path: "/cargas", token: token, body: map[string]any{"articulos": []any{}}, status: http.StatusBadRequest, code: "cargo.create.missing_articles"},
		{name: "unknown code", method: http.MethodPost, path: "/qr/validate", body: map[string]any{"codigoQR": "QRD_nope"}, status: http.StatusNotFound, code: "labels.validate_scan.code_not_found"},
		{name: "missing code", method: http.MethodPost, path: "/qr/validate", body: map[string]any{"codigoQR": " "}, status: http.StatusBadRequest, code: "http.missing_code"},
		{name: "duplicate email", method: http.MethodPost, path: "/auth/register", body: map[string]any{"email": "eva@example.com", "password": "secreto123", "name": "Eva"}, status: http.StatusConflict, code: "users.register.email_taken"},
		{name: "wrong password", method: http.MethodPost, path: "/auth/login", body: map[string]any{"email": "eva@example.com", "password": "incorrecta"}, status: http.StatusUnauthorized, code: "users.authenticate.invalid_credentials"},
		{name: "bad width", method: http.MethodGet, path: "/qr/image/1?width=wide", status: http.StatusBadRequest, code: "http.invalid_width"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			response := server.do(t, testCase.method, testCase.path, testCase.token, testCase.body)
			if response.status != testCase.status {
				t.Fatalf("expected status %d, got %d (%s)", testCase.status, response.status, response.body)
			}
			if testCase.code == "" {
				return
			}
			if response.decoded["code"] != testCase.code || response.decoded["success"] != false {
				t.Fatalf("expected code %q, got %s", testCase.code, response.body)
			}
			if message, _ := response.decoded["mensaje"].(string); message == "" {
				t.Fatalf("expected a user facing message, got %s", response.body)
			}
		})
	}
}

func TestRequestBodyLimit(t *testing.T) {
	server := newTestServer(t, func(deps *Dependencies) {
		deps.MaxBodyBytes = 64
	})
	response := server.do(t, http.MethodPost, "/qr/validate", "", map[string]any{"codigoQR": strings.Repeat("x", 256)})
	if response.status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d %s", response.status, response.body)
	}
}
