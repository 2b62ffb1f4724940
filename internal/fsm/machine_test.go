package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []State{
	StateIdle,
	StateWaitingForQuestion,
	StateWaitingForContext,
	StateWaitingForModeSelection,
	StateProcessingResponse,
	StateWaitingForConfirmation,
	StateWaitingForFollowUp,
}

var allEvents = []Event{
	EventStartConversation,
	EventSelectMode,
	EventQuestionReceived,
	EventNeedContext,
	EventCancel,
	EventContextReceived,
	EventSkipContext,
	EventModeSelected,
	EventResponseReady,
	EventNeedConfirmation,
	EventConversationEnd,
	EventConfirmed,
	EventRejected,
	EventFollowUpReceived,
	EventNewQuestion,
}

func TestNext_DefinedTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		event Event
		to    State
	}{
		{"Начало беседы", StateIdle, EventStartConversation, StateWaitingForQuestion},
		{"Выбор режима", StateIdle, EventSelectMode, StateWaitingForModeSelection},
		{"Вопрос получен", StateWaitingForQuestion, EventQuestionReceived, StateProcessingResponse},
		{"Нужен контекст", StateWaitingForQuestion, EventNeedContext, StateWaitingForContext},
		{"Контекст получен", StateWaitingForContext, EventContextReceived, StateProcessingResponse},
		{"Контекст пропущен", StateWaitingForContext, EventSkipContext, StateProcessingResponse},
		{"Режим выбран", StateWaitingForModeSelection, EventModeSelected, StateWaitingForQuestion},
		{"Ответ готов", StateProcessingResponse, EventResponseReady, StateWaitingForFollowUp},
		{"Нужно подтверждение", StateProcessingResponse, EventNeedConfirmation, StateWaitingForConfirmation},
		{"Завершение из обработки", StateProcessingResponse, EventConversationEnd, StateIdle},
		{"Подтверждено", StateWaitingForConfirmation, EventConfirmed, StateWaitingForFollowUp},
		{"Отклонено", StateWaitingForConfirmation, EventRejected, StateWaitingForQuestion},
		{"Уточнение получено", StateWaitingForFollowUp, EventFollowUpReceived, StateProcessingResponse},
		{"Завершение после ответа", StateWaitingForFollowUp, EventConversationEnd, StateIdle},
		{"Новый вопрос", StateWaitingForFollowUp, EventNewQuestion, StateWaitingForQuestion},
		{"Отмена вопроса", StateWaitingForQuestion, EventCancel, StateIdle},
		{"Отмена контекста", StateWaitingForContext, EventCancel, StateIdle},
		{"Отмена выбора режима", StateWaitingForModeSelection, EventCancel, StateIdle},
		{"Отмена подтверждения", StateWaitingForConfirmation, EventCancel, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, CanTransition(tt.from, tt.event))
			got, err := Next(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

// Для каждой пары (состояние, событие) вне таблицы переход отклоняется
// и состояние не меняется.
func TestNext_UndefinedPairsRejected(t *testing.T) {
	for _, s := range allStates {
		for _, e := range allEvents {
			if CanTransition(s, e) {
				continue
			}
			got, err := Next(s, e)
			assert.ErrorIs(t, err, ErrInvalidTransition,
				"state %s event %s", s, e)
			assert.Equal(t, s, got)
		}
	}
}

func TestNext_UnknownState(t *testing.T) {
	_, err := Next(State("corrupted"), EventCancel)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, Known(State("corrupted")))
	assert.Nil(t, Events(State("corrupted")))
}

func TestEvents(t *testing.T) {
	events := Events(StateWaitingForQuestion)
	assert.ElementsMatch(t, []Event{EventQuestionReceived, EventNeedContext, EventCancel}, events)
}
