package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coupure-alert/internal/domain"
)

func TestValidToken(t *testing.T) {
	cases := []struct {
		token string
		want  bool
	}{
		{"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]", true},
		{"ExponentPushToken[a]", true},
		{"ExponentPushToken[]", false},
		{"ExponentPushToken", false},
		{"fcm-token-123", false},
		{"", false},
	}
	for _, c := range cases {
		if got := ValidToken(c.token); got != c.want {
			t.Fatalf("ValidToken(%q) = %v, ожидали %v", c.token, got, c.want)
		}
	}
}

func TestSendBatch(t *testing.T) {
	var received []domain.PushMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("ожидали POST, получили %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("ожидали application/json, получили %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("тело запроса не разобралось: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"status":"ok"},{"status":"DeviceNotRegistered","message":"устройство отписано"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	messages := []domain.PushMessage{
		{To: "ExponentPushToken[a]", Title: "🚨 Nouvelle alerte", Body: "Incident à Bacongo (water)", Data: map[string]string{"reportId": "rep-1"}},
		{To: "ExponentPushToken[b]", Title: "🚨 Nouvelle alerte", Body: "Incident à Bacongo (water)", Data: map[string]string{"reportId": "rep-1"}},
	}
	tickets, err := client.SendBatch(context.Background(), messages)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("ожидали 2 статуса, получили %d", len(tickets))
	}
	if tickets[0].Status != "ok" || tickets[1].Status != "DeviceNotRegistered" {
		t.Fatalf("статусы разобраны неверно: %+v", tickets)
	}
	if len(received) != 2 || received[0].To != "ExponentPushToken[a]" {
		t.Fatalf("шлюз получил не те сообщения: %+v", received)
	}
	if received[0].Data["reportId"] != "rep-1" {
		t.Fatalf("payload должен нести id отчёта")
	}
}

func TestSendBatchNon2xxFailsWholeBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Тело намеренно не JSON: при не-2xx оно не должно разбираться.
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.SendBatch(context.Background(), []domain.PushMessage{{To: "ExponentPushToken[a]"}})
	if err == nil {
		t.Fatalf("ожидали ошибку всей пачки")
	}
}

func TestSendBatchEmpty(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	tickets, err := client.SendBatch(context.Background(), nil)
	if err != nil || tickets != nil {
		t.Fatalf("пустая пачка не должна давать ни вызова, ни ошибки")
	}
	if calls != 0 {
		t.Fatalf("сетевых вызовов быть не должно, было %d", calls)
	}
}
