// Package turn реализует оркестратор диалога: один входящий текст
// превращается в один ответ бота с учетом состояния беседы, тарифа
// и квоты бесплатных сообщений.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/neuze-bot/internal/fsm"
	"github.com/magabrotheeeer/neuze-bot/internal/lib/metrics"
	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
	"github.com/magabrotheeeer/neuze-bot/internal/services/quota"
	"github.com/magabrotheeeer/neuze-bot/internal/services/subscription"
)

// Минимальная длина вопроса в символах. Более короткий текст
// считается недостаточным, бот просит добавить контекст.
const minQuestionLength = 10

// Токены подтверждения и завершения беседы, сравнение после
// нормализации текста.
var (
	affirmativeTokens = map[string]struct{}{
		"да": {}, "подтверждаю": {}, "верно": {},
	}
	acknowledgeTokens = map[string]struct{}{
		"спасибо": {}, "хорошо": {}, "понятно": {}, "ок": {},
	}
)

func normalizeToken(text string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".,!?")
}

// Repository определяет методы хранилища, нужные оркестратору.
type Repository interface {
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	EnsureChat(ctx context.Context, userID int64) error
	SaveMessage(ctx context.Context, msg models.Message) (int64, error)
	ListRecentMessages(ctx context.Context, chatID int64, limit int) ([]*models.Message, error)
	IncrementUsedMessages(ctx context.Context, telegramID int64) error
}

// Ledger определяет чтение действующего тарифа пользователя.
type Ledger interface {
	StatusFor(ctx context.Context, user *models.User) (subscription.Status, error)
}

// Generator формирует ответ ассистента по истории диалога.
type Generator interface {
	Generate(ctx context.Context, history []*models.Message, userMessage, mode string) (string, error)
}

// Responder абстракция исходящего канала: отправить текст с
// опциональными кнопками и отредактировать ранее отправленный текст.
// Реализуется телеграм-слоем, ядро от транспорта не зависит.
type Responder interface {
	Reply(ctx context.Context, text string, actions ...models.Action) (int, error)
	Edit(ctx context.Context, messageID int, text string) error
}

// Incoming входящее текстовое сообщение пользователя.
type Incoming struct {
	UserID int64
	Text   string
}

// Service оркестратор диалога.
type Service struct {
	repo         Repository
	ledger       Ledger
	generator    Generator
	states       *fsm.Store
	locks        *UserLocks
	historyDepth int
	log          *slog.Logger
}

// New создает оркестратор.
func New(repo Repository, ledger Ledger, generator Generator, states *fsm.Store, historyDepth int, log *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		ledger:       ledger,
		generator:    generator,
		states:       states,
		locks:        NewUserLocks(),
		historyDepth: historyDepth,
		log:          log,
	}
}

// HandleText обрабатывает входящий текст пользователя. Обработка
// сообщений одного пользователя сериализована: беседа продвигается
// по одному ходу за раз.
func (s *Service) HandleText(ctx context.Context, in Incoming, r Responder) error {
	const op = "turn.Service.HandleText"

	unlock := s.locks.Lock(in.UserID)
	defer unlock()

	user, err := s.repo.GetUser(ctx, in.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.Banned(time.Now()) {
		_, err := r.Reply(ctx, textBanned)
		return err
	}

	status, err := s.ledger.StatusFor(ctx, user)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Квота проверяется на каждом входящем сообщении, до любых
	// переходов состояния и до обращения к генератору.
	decision := quota.Evaluate(status.Tier, len([]rune(in.Text)), status.UsedMessages, status.MessageLimit)
	if decision.Blocked {
		s.log.Info("message blocked by quota", sl.UserID(in.UserID),
			slog.String("trigger", string(decision.Trigger)))
		_, err := r.Reply(ctx, textLimitExhausted, upsellProActions()...)
		return err
	}

	state, data, err := s.states.GetState(in.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !fsm.Known(state) {
		s.log.Warn("unknown conversation state, forcing reset",
			sl.UserID(in.UserID), slog.String("state", string(state)))
		if err := s.states.Reset(in.UserID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		state, data = fsm.StateIdle, fsm.Data{}
	}

	switch state {
	case fsm.StateIdle:
		return s.respond(ctx, in.UserID, status, in.Text, data.SelectedMode, decision, fsm.Event(""), r)

	case fsm.StateWaitingForQuestion:
		return s.handleQuestion(ctx, in, status, data, decision, r)

	case fsm.StateWaitingForContext:
		return s.handleContext(ctx, in, status, data, decision, r)

	case fsm.StateWaitingForModeSelection:
		_, err := r.Reply(ctx, textUseModeButtons, modeActions()...)
		return err

	case fsm.StateProcessingResponse:
		// Сообщение во время генерации — беседа рассинхронизирована,
		// сбрасываем и обрабатываем как обычный текст.
		s.log.Warn("text received while processing, resetting conversation", sl.UserID(in.UserID))
		if err := s.states.Reset(in.UserID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return s.respond(ctx, in.UserID, status, in.Text, "", decision, fsm.Event(""), r)

	case fsm.StateWaitingForConfirmation:
		return s.handleConfirmation(ctx, in, r)

	case fsm.StateWaitingForFollowUp:
		return s.handleFollowUp(ctx, in, status, data, decision, r)
	}
	return nil
}

func (s *Service) handleQuestion(ctx context.Context, in Incoming, status subscription.Status, data fsm.Data, decision quota.Decision, r Responder) error {
	const op = "turn.Service.handleQuestion"

	if len([]rune(in.Text)) < minQuestionLength {
		if err := s.states.UpdateData(in.UserID, func(d *fsm.Data) {
			d.CurrentQuestion = in.Text
		}); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := s.states.Transition(in.UserID, fsm.EventNeedContext); err != nil {
			return s.recoverTransition(ctx, in, err, r)
		}
		_, err := r.Reply(ctx, textNeedContext, skipContextActions()...)
		return err
	}

	if err := s.states.UpdateData(in.UserID, func(d *fsm.Data) {
		d.CurrentQuestion = in.Text
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.states.Transition(in.UserID, fsm.EventQuestionReceived); err != nil {
		return s.recoverTransition(ctx, in, err, r)
	}
	return s.respond(ctx, in.UserID, status, in.Text, data.SelectedMode, decision, fsm.EventResponseReady, r)
}

func (s *Service) handleContext(ctx context.Context, in Incoming, status subscription.Status, data fsm.Data, decision quota.Decision, r Responder) error {
	const op = "turn.Service.handleContext"

	if err := s.states.UpdateData(in.UserID, func(d *fsm.Data) {
		d.Context = in.Text
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.states.Transition(in.UserID, fsm.EventContextReceived); err != nil {
		return s.recoverTransition(ctx, in, err, r)
	}

	question := data.CurrentQuestion
	if question != "" {
		question = question + "\n\nКонтекст: " + in.Text
	} else {
		question = in.Text
	}
	return s.respond(ctx, in.UserID, status, question, data.SelectedMode, decision, fsm.EventResponseReady, r)
}

func (s *Service) handleConfirmation(ctx context.Context, in Incoming, r Responder) error {
	if _, ok := affirmativeTokens[normalizeToken(in.Text)]; ok {
		if _, err := s.states.Transition(in.UserID, fsm.EventConfirmed); err != nil {
			return s.recoverTransition(ctx, in, err, r)
		}
		_, err := r.Reply(ctx, textConfirmed)
		return err
	}

	if _, err := s.states.Transition(in.UserID, fsm.EventRejected); err != nil {
		return s.recoverTransition(ctx, in, err, r)
	}
	_, err := r.Reply(ctx, textRephrase)
	return err
}

func (s *Service) handleFollowUp(ctx context.Context, in Incoming, status subscription.Status, data fsm.Data, decision quota.Decision, r Responder) error {
	const op = "turn.Service.handleFollowUp"

	if _, ok := acknowledgeTokens[normalizeToken(in.Text)]; ok {
		if _, err := s.states.Transition(in.UserID, fsm.EventConversationEnd); err != nil {
			return s.recoverTransition(ctx, in, err, r)
		}
		if err := s.states.Reset(in.UserID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		_, err := r.Reply(ctx, textGoodbye)
		return err
	}

	if _, err := s.states.Transition(in.UserID, fsm.EventFollowUpReceived); err != nil {
		return s.recoverTransition(ctx, in, err, r)
	}
	return s.respond(ctx, in.UserID, status, in.Text, data.SelectedMode, decision, fsm.EventResponseReady, r)
}

// respond выполняет общую часть хода: сохраняет сообщение пользователя,
// генерирует ответ, списывает квоту и при необходимости продвигает
// автомат событием successEvent. Пустое событие означает свободный
// диалог вне структурированной беседы.
func (s *Service) respond(ctx context.Context, userID int64, status subscription.Status, text, mode string, decision quota.Decision, successEvent fsm.Event, r Responder) error {
	const op = "turn.Service.respond"

	thinkingID, err := r.Reply(ctx, textThinking)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.repo.EnsureChat(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// Сообщение пользователя сохраняется до генерации и остается
	// записанным даже при ее сбое.
	if _, err := s.repo.SaveMessage(ctx, models.Message{
		ChatID:     userID,
		Content:    text,
		IsFromUser: true,
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	history, err := s.repo.ListRecentMessages(ctx, userID, s.historyDepth)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	answer, err := s.generator.Generate(ctx, history, text, mode)
	if err != nil {
		// Сбой генерации не фатален: пользователь получает запасной
		// текст, квота не списывается, автомат не продвигается.
		s.log.Error("reply generation failed", sl.UserID(userID), sl.Err(err))
		metrics.TurnsProcessed.WithLabelValues("fallback").Inc()
		return r.Edit(ctx, thinkingID, textFallback)
	}

	if err := r.Edit(ctx, thinkingID, answer); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.repo.SaveMessage(ctx, models.Message{
		ChatID:     userID,
		Content:    answer,
		IsFromUser: false,
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.states.AppendHistory(userID, text, true); err != nil {
		s.log.Warn("failed to append history", sl.UserID(userID), sl.Err(err))
	}
	if err := s.states.AppendHistory(userID, answer, false); err != nil {
		s.log.Warn("failed to append history", sl.UserID(userID), sl.Err(err))
	}

	// Квота списывается ровно один раз, только после успешного ответа
	// и только на тарифе free.
	if status.Tier == models.PlanFree {
		if err := s.repo.IncrementUsedMessages(ctx, userID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if successEvent != "" {
		if _, err := s.states.Transition(userID, successEvent); err != nil {
			s.log.Warn("post-reply transition rejected", sl.UserID(userID), sl.Err(err))
		}
	}

	if decision.Trigger == quota.TriggerLongMessages {
		if _, err := r.Reply(ctx, textLongMessages, upsellVipActions()...); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	metrics.TurnsProcessed.WithLabelValues("answered").Inc()
	return nil
}

// recoverTransition обрабатывает отклоненный переход: предупреждение
// уже записано хранилищем состояний, пользователь получает подсказку
// вместо ошибки.
func (s *Service) recoverTransition(ctx context.Context, in Incoming, err error, r Responder) error {
	s.log.Warn("turn fell back after rejected transition",
		sl.UserID(in.UserID), sl.Err(err))
	_, replyErr := r.Reply(ctx, textCancelled)
	return replyErr
}

// StartConversation начинает структурированную беседу командой /talk.
func (s *Service) StartConversation(ctx context.Context, userID int64, r Responder) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.states.Reset(userID); err != nil {
		return err
	}
	if _, err := s.states.Transition(userID, fsm.EventStartConversation); err != nil {
		return err
	}
	_, err := r.Reply(ctx, textAskQuestion)
	return err
}

// SelectMode открывает выбор режима ответов командой /mode.
func (s *Service) SelectMode(ctx context.Context, userID int64, r Responder) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.states.Reset(userID); err != nil {
		return err
	}
	if _, err := s.states.Transition(userID, fsm.EventSelectMode); err != nil {
		return err
	}
	_, err := r.Reply(ctx, textChooseMode, modeActions()...)
	return err
}

// ApplyMode фиксирует выбранный режим ответов из callback-кнопки.
func (s *Service) ApplyMode(ctx context.Context, userID int64, mode string, r Responder) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.states.UpdateData(userID, func(d *fsm.Data) {
		d.SelectedMode = mode
	}); err != nil {
		return err
	}
	if _, err := s.states.Transition(userID, fsm.EventModeSelected); err != nil {
		s.log.Warn("mode selection outside of mode state", sl.UserID(userID), sl.Err(err))
	}
	_, err := r.Reply(ctx, textModeSelected)
	return err
}

// SkipContext пропускает шаг уточнения контекста из callback-кнопки.
func (s *Service) SkipContext(ctx context.Context, userID int64, r Responder) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	status, err := s.ledger.StatusFor(ctx, user)
	if err != nil {
		return err
	}

	_, data, err := s.states.GetState(userID)
	if err != nil {
		return err
	}
	if _, err := s.states.Transition(userID, fsm.EventSkipContext); err != nil {
		return s.recoverTransition(ctx, Incoming{UserID: userID}, err, r)
	}

	decision := quota.Evaluate(status.Tier, len([]rune(data.CurrentQuestion)), status.UsedMessages, status.MessageLimit)
	if decision.Blocked {
		_, err := r.Reply(ctx, textLimitExhausted, upsellProActions()...)
		return err
	}
	return s.respond(ctx, userID, status, data.CurrentQuestion, data.SelectedMode, decision, fsm.EventResponseReady, r)
}

// Cancel прерывает структурированную беседу командой /cancel.
func (s *Service) Cancel(ctx context.Context, userID int64, r Responder) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.states.Transition(userID, fsm.EventCancel); err != nil {
		// Отмена вне беседы сводится к сбросу состояния.
		if resetErr := s.states.Reset(userID); resetErr != nil {
			return resetErr
		}
	}
	_, err := r.Reply(ctx, textCancelled)
	return err
}

// EndConversation завершает беседу командой /end.
func (s *Service) EndConversation(ctx context.Context, userID int64, r Responder) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.states.Reset(userID); err != nil {
		return err
	}
	_, err := r.Reply(ctx, textGoodbye)
	return err
}
