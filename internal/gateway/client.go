package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignatzorin/producttest-backend/internal/pkg/apperror"
)

// maxAttempts — ограниченный повтор сетевых вызовов. Повтор безопасен:
// каждый вызов create несёт Idempotency-Key, шлюз дедуплицирует сам.
const maxAttempts = 3

// Transfer описывает перевод на подключённый аккаунт тестера.
type Transfer struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Destination string  `json:"destination"`
	CreatedAt   int64   `json:"created"`
}

// Refund описывает возврат по исходному платежу.
type Refund struct {
	ID            string  `json:"id"`
	Amount        float64 `json:"amount"`
	PaymentIntent string  `json:"payment_intent"`
	Reason        string  `json:"reason,omitempty"`
}

// Balance описывает доступный и ожидающий баланс платформы в шлюзе.
type Balance struct {
	Available float64 `json:"available"`
	Pending   float64 `json:"pending"`
}

// Client — HTTP клиент платёжного шлюза. Шлюз для ядра — чёрный ящик
// с тремя операциями: перевод, возврат, баланс.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateTransfer создаёт перевод на аккаунт получателя.
func (c *Client) CreateTransfer(ctx context.Context, destination string, amount float64, idempotencyKey string, metadata map[string]string) (*Transfer, error) {
	payload := map[string]any{
		"destination": destination,
		"amount":      amount,
		"metadata":    metadata,
	}

	var transfer Transfer
	if err := c.post(ctx, "/v1/transfers", payload, idempotencyKey, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// CreateRefund создаёт возврат по исходному платежу.
func (c *Client) CreateRefund(ctx context.Context, paymentRef string, amount float64, reason, idempotencyKey string, metadata map[string]string) (*Refund, error) {
	payload := map[string]any{
		"payment_intent": paymentRef,
		"amount":         amount,
		"reason":         reason,
		"metadata":       metadata,
	}

	var refund Refund
	if err := c.post(ctx, "/v1/refunds", payload, idempotencyKey, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// RetrieveBalance возвращает баланс платформы в шлюзе.
func (c *Client) RetrieveBalance(ctx context.Context) (*Balance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/balance", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "платёжный шлюз недоступен")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperror.Newf(apperror.ErrCodeGateway, "платёжный шлюз: код ответа %d", resp.StatusCode)
	}

	var balance Balance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "платёжный шлюз: невалидный ответ")
	}
	return &balance, nil
}

// post выполняет POST с ограниченным повтором на сетевых ошибках и 5xx.
func (c *Client) post(ctx context.Context, path string, payload any, idempotencyKey string, out any) error {
	if c.baseURL == "" {
		return apperror.New(apperror.ErrCodeGateway, "gateway: baseURL не задан")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: не удалось сериализовать запрос: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return apperror.Wrap(ctx.Err(), apperror.ErrCodeGateway, "платёжный шлюз: запрос прерван")
			case <-time.After(time.Duration(attempt-1) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			var errorBody map[string]any
			_ = json.NewDecoder(resp.Body).Decode(&errorBody)
			resp.Body.Close()
			lastErr = fmt.Errorf("код ответа %d: %v", resp.StatusCode, errorBody)
			continue
		}

		if resp.StatusCode >= 400 {
			var errorBody map[string]any
			_ = json.NewDecoder(resp.Body).Decode(&errorBody)
			resp.Body.Close()
			return apperror.Newf(apperror.ErrCodeGateway, "платёжный шлюз отклонил операцию: код %d: %v", resp.StatusCode, errorBody)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeGateway, "платёжный шлюз: невалидный ответ")
		}
		return nil
	}

	return apperror.Wrap(lastErr, apperror.ErrCodeGateway, "платёжный шлюз недоступен")
}
