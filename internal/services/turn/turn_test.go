package turn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/neuze-bot/internal/fsm"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
	"github.com/magabrotheeeer/neuze-bot/internal/services/subscription"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) EnsureChat(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *RepoMock) SaveMessage(ctx context.Context, msg models.Message) (int64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *RepoMock) ListRecentMessages(ctx context.Context, chatID int64, limit int) ([]*models.Message, error) {
	args := m.Called(ctx, chatID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}
func (m *RepoMock) IncrementUsedMessages(ctx context.Context, telegramID int64) error {
	return m.Called(ctx, telegramID).Error(0)
}

type LedgerMock struct{ mock.Mock }

func (m *LedgerMock) StatusFor(ctx context.Context, user *models.User) (subscription.Status, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(subscription.Status), args.Error(1)
}

type GeneratorMock struct{ mock.Mock }

func (m *GeneratorMock) Generate(ctx context.Context, history []*models.Message, userMessage, mode string) (string, error) {
	args := m.Called(ctx, history, userMessage, mode)
	return args.String(0), args.Error(1)
}

// memCache in-memory замена redis для тестов хранилища состояний.
type memCache struct{ data map[string][]byte }

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(key string, result any) (bool, error) {
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, result)
}
func (c *memCache) Set(key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}
func (c *memCache) Invalidate(key string) error {
	delete(c.data, key)
	return nil
}

// responderStub записывает все отправленные и отредактированные тексты.
type responderStub struct {
	replies []string
	actions [][]models.Action
	edits   map[int]string
	nextID  int
}

func newResponderStub() *responderStub {
	return &responderStub{edits: make(map[int]string)}
}

func (r *responderStub) Reply(_ context.Context, text string, actions ...models.Action) (int, error) {
	r.nextID++
	r.replies = append(r.replies, text)
	r.actions = append(r.actions, actions)
	return r.nextID, nil
}

func (r *responderStub) Edit(_ context.Context, messageID int, text string) error {
	r.edits[messageID] = text
	return nil
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

const testUserID = int64(42)

func freeUser() *models.User {
	return &models.User{TelegramID: testUserID, MessageLimit: 20, UsedMessages: 5}
}

func freeStatus(used int) subscription.Status {
	return subscription.Status{Tier: models.PlanFree, MessageLimit: 20, UsedMessages: used}
}

func newService(repo *RepoMock, ledger *LedgerMock, gen *GeneratorMock) (*Service, *fsm.Store) {
	states := fsm.NewStore(newMemCache(), newNoopLogger())
	return New(repo, ledger, gen, states, 20, newNoopLogger()), states
}

func TestHandleText_LimitExhausted(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).Return(freeStatus(20), nil)

	svc, _ := newService(repo, ledger, gen)
	r := newResponderStub()

	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: "любой вопрос"}, r)

	require.NoError(t, err)
	require.Len(t, r.replies, 1)
	assert.Equal(t, textLimitExhausted, r.replies[0])
	assert.Equal(t, CallbackUpgradePro, r.actions[0][0].Data)
	gen.AssertNotCalled(t, "Generate")
	repo.AssertNotCalled(t, "IncrementUsedMessages")
}

func TestHandleText_ShortQuestionAsksForContext(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).Return(freeStatus(5), nil)

	svc, states := newService(repo, ledger, gen)
	require.NoError(t, states.SetState(testUserID, fsm.StateWaitingForQuestion, fsm.Data{}))

	r := newResponderStub()
	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: "hi"}, r)

	require.NoError(t, err)
	state, data, err := states.GetState(testUserID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StateWaitingForContext, state)
	assert.Equal(t, "hi", data.CurrentQuestion)
	require.Len(t, r.replies, 1)
	assert.Equal(t, textNeedContext, r.replies[0])
	gen.AssertNotCalled(t, "Generate")
}

func TestHandleText_ContextMergedIntoQuestion(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	contextText := strings.Repeat("п", 50)
	merged := "hi\n\nКонтекст: " + contextText

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).Return(freeStatus(5), nil)
	repo.On("EnsureChat", mock.Anything, testUserID).Return(nil)
	repo.On("SaveMessage", mock.Anything, mock.Anything).Return(int64(1), nil)
	repo.On("ListRecentMessages", mock.Anything, testUserID, 20).Return([]*models.Message{}, nil)
	repo.On("IncrementUsedMessages", mock.Anything, testUserID).Return(nil)
	gen.On("Generate", mock.Anything, mock.Anything, merged, "").Return("ответ", nil)

	svc, states := newService(repo, ledger, gen)
	require.NoError(t, states.SetState(testUserID, fsm.StateWaitingForContext,
		fsm.Data{CurrentQuestion: "hi"}))

	r := newResponderStub()
	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: contextText}, r)

	require.NoError(t, err)
	state, _, err := states.GetState(testUserID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StateWaitingForFollowUp, state)
	assert.Equal(t, "ответ", r.edits[1])
	gen.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "IncrementUsedMessages", 1)
}

func TestHandleText_GenerationFailure(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).Return(freeStatus(5), nil)
	repo.On("EnsureChat", mock.Anything, testUserID).Return(nil)
	repo.On("SaveMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.IsFromUser
	})).Return(int64(1), nil)
	repo.On("ListRecentMessages", mock.Anything, testUserID, 20).Return([]*models.Message{}, nil)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("timeout"))

	svc, _ := newService(repo, ledger, gen)
	r := newResponderStub()

	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: "расскажи о погоде"}, r)

	require.NoError(t, err)
	assert.Equal(t, textFallback, r.edits[1])
	// Сообщение пользователя записано, квота не списана.
	repo.AssertCalled(t, "SaveMessage", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "IncrementUsedMessages")
}

func TestHandleText_ProTierNoIncrement(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).
		Return(subscription.Status{Tier: models.PlanPro, MessageLimit: 20, UsedMessages: 20}, nil)
	repo.On("EnsureChat", mock.Anything, testUserID).Return(nil)
	repo.On("SaveMessage", mock.Anything, mock.Anything).Return(int64(1), nil)
	repo.On("ListRecentMessages", mock.Anything, testUserID, 20).Return([]*models.Message{}, nil)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ответ", nil)

	svc, _ := newService(repo, ledger, gen)
	r := newResponderStub()

	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: "вопрос про go"}, r)

	require.NoError(t, err)
	assert.Equal(t, "ответ", r.edits[1])
	repo.AssertNotCalled(t, "IncrementUsedMessages")
}

func TestHandleText_ProLongMessageUpsell(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	longText := strings.Repeat("в", 501)

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).
		Return(subscription.Status{Tier: models.PlanPro}, nil)
	repo.On("EnsureChat", mock.Anything, testUserID).Return(nil)
	repo.On("SaveMessage", mock.Anything, mock.Anything).Return(int64(1), nil)
	repo.On("ListRecentMessages", mock.Anything, testUserID, 20).Return([]*models.Message{}, nil)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ответ", nil)

	svc, _ := newService(repo, ledger, gen)
	r := newResponderStub()

	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: longText}, r)

	require.NoError(t, err)
	// Ответ сгенерирован, после него ушло предложение vip.
	assert.Equal(t, "ответ", r.edits[1])
	require.Len(t, r.replies, 2)
	assert.Equal(t, textLongMessages, r.replies[1])
	assert.Equal(t, CallbackUpgradeVip, r.actions[1][0].Data)
}

func TestHandleText_FollowUpAcknowledgeEndsConversation(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).Return(freeStatus(5), nil)

	svc, states := newService(repo, ledger, gen)
	require.NoError(t, states.SetState(testUserID, fsm.StateWaitingForFollowUp, fsm.Data{}))

	r := newResponderStub()
	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: "Спасибо!"}, r)

	require.NoError(t, err)
	state, _, err := states.GetState(testUserID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StateIdle, state)
	require.Len(t, r.replies, 1)
	assert.Equal(t, textGoodbye, r.replies[0])
	gen.AssertNotCalled(t, "Generate")
}

func TestHandleText_ConfirmationTokens(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantState fsm.State
		wantReply string
	}{
		{"Подтверждение: да", "да", fsm.StateWaitingForFollowUp, textConfirmed},
		{"Подтверждение: верно с точкой", "Верно.", fsm.StateWaitingForFollowUp, textConfirmed},
		{"Отклонение: любой другой текст", "нет, не так", fsm.StateWaitingForQuestion, textRephrase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			ledger := new(LedgerMock)
			repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
			ledger.On("StatusFor", mock.Anything, mock.Anything).Return(freeStatus(5), nil)

			svc, states := newService(repo, ledger, new(GeneratorMock))
			require.NoError(t, states.SetState(testUserID, fsm.StateWaitingForConfirmation, fsm.Data{}))

			r := newResponderStub()
			err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: tt.text}, r)

			require.NoError(t, err)
			state, _, err := states.GetState(testUserID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, state)
			require.Len(t, r.replies, 1)
			assert.Equal(t, tt.wantReply, r.replies[0])
		})
	}
}

func TestHandleText_BannedUser(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)

	banned := freeUser()
	banned.IsBanned = true
	repo.On("GetUser", mock.Anything, testUserID).Return(banned, nil)

	svc, _ := newService(repo, ledger, new(GeneratorMock))
	r := newResponderStub()

	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: "вопрос"}, r)

	require.NoError(t, err)
	require.Len(t, r.replies, 1)
	assert.Equal(t, textBanned, r.replies[0])
	ledger.AssertNotCalled(t, "StatusFor")
}

func TestHandleText_UnknownStateResets(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).Return(freeStatus(5), nil)
	repo.On("EnsureChat", mock.Anything, testUserID).Return(nil)
	repo.On("SaveMessage", mock.Anything, mock.Anything).Return(int64(1), nil)
	repo.On("ListRecentMessages", mock.Anything, testUserID, 20).Return([]*models.Message{}, nil)
	repo.On("IncrementUsedMessages", mock.Anything, testUserID).Return(nil)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ответ", nil)

	svc, states := newService(repo, ledger, gen)
	require.NoError(t, states.SetState(testUserID, fsm.State("corrupted"), fsm.Data{}))

	r := newResponderStub()
	err := svc.HandleText(context.Background(), Incoming{UserID: testUserID, Text: "обычный вопрос"}, r)

	require.NoError(t, err)
	// Состояние сброшено, сообщение обработано как свободный диалог.
	assert.Equal(t, "ответ", r.edits[1])
	state, _, err := states.GetState(testUserID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StateIdle, state)
}

func TestStartConversation(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)

	svc, states := newService(repo, ledger, new(GeneratorMock))
	r := newResponderStub()

	err := svc.StartConversation(context.Background(), testUserID, r)

	require.NoError(t, err)
	state, _, err := states.GetState(testUserID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StateWaitingForQuestion, state)
	require.Len(t, r.replies, 1)
	assert.Equal(t, textAskQuestion, r.replies[0])
}

func TestSkipContext(t *testing.T) {
	repo := new(RepoMock)
	ledger := new(LedgerMock)
	gen := new(GeneratorMock)

	repo.On("GetUser", mock.Anything, testUserID).Return(freeUser(), nil)
	ledger.On("StatusFor", mock.Anything, mock.Anything).Return(freeStatus(5), nil)
	repo.On("EnsureChat", mock.Anything, testUserID).Return(nil)
	repo.On("SaveMessage", mock.Anything, mock.Anything).Return(int64(1), nil)
	repo.On("ListRecentMessages", mock.Anything, testUserID, 20).Return([]*models.Message{}, nil)
	repo.On("IncrementUsedMessages", mock.Anything, testUserID).Return(nil)
	gen.On("Generate", mock.Anything, mock.Anything, "hi", "").Return("ответ", nil)

	svc, states := newService(repo, ledger, gen)
	require.NoError(t, states.SetState(testUserID, fsm.StateWaitingForContext,
		fsm.Data{CurrentQuestion: "hi"}))

	r := newResponderStub()
	err := svc.SkipContext(context.Background(), testUserID, r)

	require.NoError(t, err)
	state, _, err := states.GetState(testUserID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StateWaitingForFollowUp, state)
	assert.Equal(t, "ответ", r.edits[1])
	gen.AssertExpectations(t)
}
