package paymentwebhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/neuze-bot/internal/services/payment"
)

type ServiceMock struct{ mock.Mock }

func (m *ServiceMock) ProcessWebhookEvent(ctx context.Context, event payment.WebhookEvent) error {
	return m.Called(ctx, event).Error(0)
}

const testSecret = "webhook-secret"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

const validBody = `{
	"event": "payment.succeeded",
	"object": {
		"id": "yk-1",
		"status": "succeeded",
		"amount": {"value": "299.00", "currency": "RUB"},
		"metadata": {"label": "sub_100_2_1700000000"}
	}
}`

func TestHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		signature  string
		setupMocks func(s *ServiceMock)
		wantStatus int
	}{
		{
			name:      "Успех: валидная подпись и событие",
			body:      validBody,
			signature: sign([]byte(validBody)),
			setupMocks: func(s *ServiceMock) {
				s.On("ProcessWebhookEvent", mock.Anything, mock.MatchedBy(func(e payment.WebhookEvent) bool {
					return e.Event == "payment.succeeded" && e.Label() == "sub_100_2_1700000000"
				})).Return(nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "Отказ: отсутствует подпись",
			body:       validBody,
			signature:  "",
			setupMocks: func(s *ServiceMock) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Отказ: неверная подпись",
			body:       validBody,
			signature:  sign([]byte("tampered")),
			setupMocks: func(s *ServiceMock) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Отказ: невалидный JSON",
			body:       `{not json`,
			signature:  sign([]byte(`{not json`)),
			setupMocks: func(s *ServiceMock) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Отказ: пустое событие",
			body:       `{"object":{"id":"yk-1","status":"succeeded"}}`,
			signature:  sign([]byte(`{"object":{"id":"yk-1","status":"succeeded"}}`)),
			setupMocks: func(s *ServiceMock) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:      "Ошибка сервиса: 500",
			body:      validBody,
			signature: sign([]byte(validBody)),
			setupMocks: func(s *ServiceMock) {
				s.On("ProcessWebhookEvent", mock.Anything, mock.Anything).
					Return(errors.New("db down"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(ServiceMock)
			tt.setupMocks(service)
			handler := New(newNoopLogger(), service, testSecret)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/yookassa",
				bytes.NewBufferString(tt.body))
			if tt.signature != "" {
				req.Header.Set("X-Api-Signature", tt.signature)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			service.AssertExpectations(t)
		})
	}
}

// Повторный вебхук уже обработанного платежа отвечает 200, чтобы
// провайдер не повторял доставку.
func TestHandler_DuplicateWebhookReturnsOK(t *testing.T) {
	service := new(ServiceMock)
	// Сервис сам распознает дубликат и возвращает nil.
	service.On("ProcessWebhookEvent", mock.Anything, mock.Anything).Return(nil)

	handler := New(newNoopLogger(), service, testSecret)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/yookassa",
			bytes.NewBufferString(validBody))
		req.Header.Set("X-Api-Signature", sign([]byte(validBody)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}
