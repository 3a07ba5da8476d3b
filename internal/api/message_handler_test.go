package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"courier-go/internal/config"
	"courier-go/internal/domain"
	storemem "courier-go/internal/store/memory"

	"github.com/gofiber/fiber/v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(st *storemem.MessageStore) *fiber.App {
	cfg := config.Default()
	srv := NewServer(&cfg.Server, NewMessageHandler(st, testLogger()), testLogger())
	return srv.App()
}

// seedFailed inserts one terminally failed outbound row.
func seedFailed(t *testing.T, st *storemem.MessageStore, exception string) string {
	t.Helper()

	msg := domain.NewOutbound("order.created", "", []byte("{}"), "", nil)
	msg.Status = domain.StatusFailed
	msg.Retries = 50
	msg.Headers[domain.HeaderException] = exception
	expires := time.Now().UTC().Add(15 * 24 * time.Hour)
	msg.ExpiresAt = &expires

	if err := st.Insert(context.Background(), msg); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	return msg.ID
}

func decodeResponse(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	defer resp.Body.Close()

	var out APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	app := testServer(storemem.NewMessageStore())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	out := decodeResponse(t, resp)
	if !out.Success {
		t.Error("success = false, want true")
	}
}

func TestListMessages(t *testing.T) {
	st := storemem.NewMessageStore()
	id := seedFailed(t, st, "broker unreachable")
	app := testServer(st)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/messages/outbound?status=Failed", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	out := decodeResponse(t, resp)
	items, ok := out.Data.([]interface{})
	if !ok {
		t.Fatalf("data is %T, want array", out.Data)
	}
	if len(items) != 1 {
		t.Fatalf("len(data) = %d, want 1", len(items))
	}
	first := items[0].(map[string]interface{})
	if first["id"] != id {
		t.Errorf("data[0].id = %v, want %v", first["id"], id)
	}
	headers := first["headers"].(map[string]interface{})
	if headers[domain.HeaderException] != "broker unreachable" {
		t.Errorf("exception header = %v, want broker unreachable", headers[domain.HeaderException])
	}
}

func TestListMessages_InvalidStatus(t *testing.T) {
	app := testServer(storemem.NewMessageStore())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/messages/outbound?status=Bogus", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	out := decodeResponse(t, resp)
	if out.Error == nil || out.Error.Code != ErrCodeBadRequest {
		t.Errorf("error = %+v, want code %s", out.Error, ErrCodeBadRequest)
	}
}

func TestListMessages_InvalidKind(t *testing.T) {
	app := testServer(storemem.NewMessageStore())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/messages/sideways", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	out := decodeResponse(t, resp)
	if out.Error == nil || out.Error.Code != ErrCodeBadRequest {
		t.Errorf("error = %+v, want code %s", out.Error, ErrCodeBadRequest)
	}
}

func TestGetMessageByID(t *testing.T) {
	st := storemem.NewMessageStore()
	id := seedFailed(t, st, "broker unreachable")
	app := testServer(st)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/messages/outbound/"+id, nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	out := decodeResponse(t, resp)
	data := out.Data.(map[string]interface{})
	if data["id"] != id {
		t.Errorf("data.id = %v, want %v", data["id"], id)
	}
	if data["status"] != string(domain.StatusFailed) {
		t.Errorf("data.status = %v, want %v", data["status"], domain.StatusFailed)
	}
}

func TestGetMessageByID_NotFound(t *testing.T) {
	app := testServer(storemem.NewMessageStore())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/messages/outbound/"+domain.NewID(), nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestRearmMessage(t *testing.T) {
	st := storemem.NewMessageStore()
	id := seedFailed(t, st, "broker unreachable")
	app := testServer(st)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/v1/messages/outbound/"+id+"/rearm", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	msg, err := st.GetByID(context.Background(), domain.KindOutbound, id)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if msg.Status != domain.StatusScheduled {
		t.Errorf("Status = %v, want %v", msg.Status, domain.StatusScheduled)
	}
	if msg.Retries != 0 {
		t.Errorf("Retries = %v, want 0 (re-arm resets the count)", msg.Retries)
	}
	if msg.ExpiresAt != nil {
		t.Error("ExpiresAt must be cleared on re-arm")
	}
}

func TestRearmMessage_NotFound(t *testing.T) {
	app := testServer(storemem.NewMessageStore())

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/v1/messages/outbound/"+domain.NewID()+"/rearm", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
