// Package payment реализует создание платежных ссылок и сверку
// вебхуков ЮKassa с внутренним реестром платежей.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
	"github.com/magabrotheeeer/neuze-bot/internal/paymentprovider"
)

// Repository определяет методы хранилища, нужные платежному сервису.
type Repository interface {
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
	CreatePayment(ctx context.Context, p models.Payment) error
	GetPaymentByLabel(ctx context.Context, label string) (*models.Payment, error)
	MarkPaymentSucceeded(ctx context.Context, label string, webhookData map[string]string) error
	MarkPaymentFailed(ctx context.Context, label, status string) error
}

// Ledger определяет операцию активации подписки по оплате.
type Ledger interface {
	Activate(ctx context.Context, userID int64, planID int, paymentRef string, amount float64) error
}

// Publisher публикует событие активации подписки в брокер сообщений.
type Publisher interface {
	PublishActivated(event ActivatedEvent) error
}

// ActivatedEvent уведомление об активированной подписке, уходит
// в очередь и доставляется пользователю телеграм-слоем.
type ActivatedEvent struct {
	UserID int64   `json:"user_id"`
	Amount float64 `json:"amount"`
	Label  string  `json:"label"`
}

// Service бизнес-логика платежей.
type Service struct {
	repo      Repository
	ledger    Ledger
	provider  *paymentprovider.Client
	publisher Publisher
	returnURL string
	log       *slog.Logger
}

// New создает платежный сервис. publisher может быть nil, тогда
// события активации не публикуются.
func New(repo Repository, ledger Ledger, provider *paymentprovider.Client, publisher Publisher, returnURL string, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		ledger:    ledger,
		provider:  provider,
		publisher: publisher,
		returnURL: returnURL,
		log:       log,
	}
}

// PaymentLink созданная ссылка на оплату.
type PaymentLink struct {
	URL   string
	Label string
}

// CreatePaymentLink создает платеж у провайдера и во внутреннем
// реестре, возвращает ссылку для перехода к оплате. Метка платежа
// уникальна и уходит в metadata провайдера, по ней вебхук
// сопоставляется с платежом.
func (s *Service) CreatePaymentLink(ctx context.Context, userID int64, planName string) (*PaymentLink, error) {
	const op = "payment.Service.CreatePaymentLink"

	plan, err := s.repo.GetPlanByName(ctx, planName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	label := fmt.Sprintf("sub_%d_%d_%d", userID, plan.ID, time.Now().Unix())
	description := fmt.Sprintf("Подписка %s на %d дней", plan.Name, plan.DurationDays)

	resp, err := s.provider.CreatePayment(ctx, paymentprovider.CreatePaymentRequest{
		Amount: paymentprovider.Amount{
			Value:    strconv.FormatFloat(plan.Price, 'f', 2, 64),
			Currency: "RUB",
		},
		Capture: true,
		Confirmation: paymentprovider.Confirmation{
			Type:      "redirect",
			ReturnURL: s.returnURL,
		},
		Description: description,
		Metadata:    map[string]string{"label": label},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	record := models.Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		PlanID:      plan.ID,
		Label:       label,
		Provider:    models.PaymentProviderYooKassa,
		Status:      models.PaymentStatusPending,
		Amount:      plan.Price,
		Currency:    "RUB",
		Description: description,
	}
	if err := s.repo.CreatePayment(ctx, record); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("payment link created",
		sl.UserID(userID),
		slog.String("plan", plan.Name),
		slog.String("label", label))

	return &PaymentLink{URL: resp.Confirmation.ConfirmationURL, Label: label}, nil
}

// CheckPayment возвращает текущий статус платежа по метке.
func (s *Service) CheckPayment(ctx context.Context, label string) (*models.Payment, error) {
	const op = "payment.Service.CheckPayment"

	p, err := s.repo.GetPaymentByLabel(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
