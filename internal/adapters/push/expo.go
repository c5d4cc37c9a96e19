package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coupure-alert/internal/domain"
	"coupure-alert/internal/infra/metrics"
)

const tokenPrefix = "ExponentPushToken["

// Client отправляет push-сообщения через HTTP шлюз Expo.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ domain.PushSender = (*Client)(nil)

// NewClient создаёт клиент шлюза.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// ValidToken проверяет формат push-токена устройства. Содержимое токена для
// системы непрозрачно, проверяется только известная обёртка.
func ValidToken(token string) bool {
	return strings.HasPrefix(token, tokenPrefix) && strings.HasSuffix(token, "]") &&
		len(token) > len(tokenPrefix)+1
}

type gatewayResponse struct {
	Data []domain.PushTicket `json:"data"`
}

// SendBatch отправляет пачку сообщений одним сетевым вызовом и возвращает
// статусы по каждому сообщению. Не-2xx ответ означает отказ всей пачки, тело
// такого ответа не разбирается.
func (c *Client) SendBatch(ctx context.Context, messages []domain.PushMessage) ([]domain.PushTicket, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("push", "send", "expo", start, err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("шлюз отклонил пачку: status %d", resp.StatusCode)
	}

	var parsed gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Data, nil
}
