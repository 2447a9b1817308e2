package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
)

func TestScanEventsStreamEmitsScans(t *testing.T) {
	server := newTestServer(t)
	token, _ := server.register(t, "sse@example.com", "Sara Estrada")
	cargoID, _ := createCargo(t, server, token)

	listed := server.do(t, http.MethodGet, fmt.Sprintf("/qr/carga/%d", cargoID), token, nil)
	views, _ := listed.decoded["datos"].([]any)
	if len(views) == 0 {
		t.Fatalf("expected labels for cargo: %s", listed.body)
	}
	code, _ := field(t, views[0], "codigo_qr").(string)

	streamRequest, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/qr/carga/%d/events?access_token=%s", server.url, cargoID, token), http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected stream content type %q", contentType)
	}

	streamReader := bufio.NewReader(streamResp.Body)
	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			line, err := streamReader.ReadString('\n')
			select {
			case lines <- readResult{line: line, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	scanned := false
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for scan event")
		case res := <-lines:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType == scanEventReady && !scanned {
				scanned = true
				validate := server.do(t, http.MethodPost, "/qr/validate", "", map[string]any{"codigoQR": code})
				if validate.status != http.StatusOK {
					t.Fatalf("validate failed: %d %s", validate.status, validate.body)
				}
				continue
			}
			if currentEventType != ScanEventName {
				continue
			}
			var event labels.ScanEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				t.Fatalf("failed to decode scan event: %v", err)
			}
			if event.Code != code || event.CargoID != cargoID || event.AlreadyScanned {
				t.Fatalf("unexpected scan event %+v", event)
			}
			return
		}
	}
}
