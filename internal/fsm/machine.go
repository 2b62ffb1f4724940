// Package fsm реализует конечный автомат структурированной беседы:
// таблицу переходов и хранилище состояний поверх redis с локальным кэшем.
package fsm

import (
	"errors"
	"fmt"
)

// State состояние беседы пользователя. Idle одновременно начальное
// и терминальное состояние.
type State string

const (
	StateIdle                    State = "idle"
	StateWaitingForQuestion      State = "waiting_for_question"
	StateWaitingForContext       State = "waiting_for_context"
	StateWaitingForModeSelection State = "waiting_for_mode_selection"
	StateProcessingResponse      State = "processing_response"
	StateWaitingForConfirmation  State = "waiting_for_confirmation"
	StateWaitingForFollowUp      State = "waiting_for_follow_up"
)

// Event событие, по которому выполняется переход между состояниями.
type Event string

const (
	EventStartConversation Event = "start_conversation"
	EventSelectMode        Event = "select_mode"
	EventQuestionReceived  Event = "question_received"
	EventNeedContext       Event = "need_context"
	EventCancel            Event = "cancel"
	EventContextReceived   Event = "context_received"
	EventSkipContext       Event = "skip_context"
	EventModeSelected      Event = "mode_selected"
	EventResponseReady     Event = "response_ready"
	EventNeedConfirmation  Event = "need_confirmation"
	EventConversationEnd   Event = "conversation_end"
	EventConfirmed         Event = "confirmed"
	EventRejected          Event = "rejected"
	EventFollowUpReceived  Event = "follow_up_received"
	EventNewQuestion       Event = "new_question"
)

// ErrInvalidTransition возвращается при событии, не определенном
// для текущего состояния. Состояние при этом не меняется.
var ErrInvalidTransition = errors.New("invalid transition")

// transitions полная таблица переходов. Пара (состояние, событие),
// которой нет в таблице, отклоняется без побочных эффектов.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStartConversation: StateWaitingForQuestion,
		EventSelectMode:        StateWaitingForModeSelection,
	},
	StateWaitingForQuestion: {
		EventQuestionReceived: StateProcessingResponse,
		EventNeedContext:      StateWaitingForContext,
		EventCancel:           StateIdle,
	},
	StateWaitingForContext: {
		EventContextReceived: StateProcessingResponse,
		EventSkipContext:     StateProcessingResponse,
		EventCancel:          StateIdle,
	},
	StateWaitingForModeSelection: {
		EventModeSelected: StateWaitingForQuestion,
		EventCancel:       StateIdle,
	},
	StateProcessingResponse: {
		EventResponseReady:    StateWaitingForFollowUp,
		EventNeedConfirmation: StateWaitingForConfirmation,
		EventConversationEnd:  StateIdle,
	},
	StateWaitingForConfirmation: {
		EventConfirmed: StateWaitingForFollowUp,
		EventRejected:  StateWaitingForQuestion,
		EventCancel:    StateIdle,
	},
	StateWaitingForFollowUp: {
		EventFollowUpReceived: StateProcessingResponse,
		EventConversationEnd:  StateIdle,
		EventNewQuestion:      StateWaitingForQuestion,
	},
}

// Known сообщает, описано ли состояние в таблице переходов.
// Неизвестное состояние — признак рассинхронизации хранилища,
// обрабатывается принудительным сбросом.
func Known(s State) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition проверяет, допустим ли переход по событию из состояния.
func CanTransition(s State, e Event) bool {
	next, ok := transitions[s]
	if !ok {
		return false
	}
	_, ok = next[e]
	return ok
}

// Next возвращает новое состояние после события или ErrInvalidTransition.
func Next(s State, e Event) (State, error) {
	next, ok := transitions[s]
	if !ok {
		return s, fmt.Errorf("state %q: %w", s, ErrInvalidTransition)
	}
	to, ok := next[e]
	if !ok {
		return s, fmt.Errorf("event %q in state %q: %w", e, s, ErrInvalidTransition)
	}
	return to, nil
}

// Events возвращает список событий, допустимых в состоянии.
func Events(s State) []Event {
	next, ok := transitions[s]
	if !ok {
		return nil
	}
	events := make([]Event, 0, len(next))
	for e := range next {
		events = append(events, e)
	}
	return events
}
