package fsm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
)

// Время жизни состояния беседы. Каждый успешный переход и каждое
// чтение из redis продлевают его, брошенная беседа истекает сама.
const defaultStateTTL = 2 * time.Hour

// Сколько последних реплик беседы держим в полезной нагрузке состояния.
const maxHistoryEntries = 20

// Cache описывает методы кэширования, которые нужны хранилищу состояний.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// HistoryEntry одна реплика краткосрочной истории беседы.
type HistoryEntry struct {
	Text     string    `json:"text"`
	FromUser bool      `json:"from_user"`
	At       time.Time `json:"at"`
}

// Data полезная нагрузка состояния беседы.
type Data struct {
	CurrentQuestion string         `json:"current_question,omitempty"`
	Context         string         `json:"context,omitempty"`
	SelectedMode    string         `json:"selected_mode,omitempty"`
	LastResponse    string         `json:"last_response,omitempty"`
	History         []HistoryEntry `json:"history,omitempty"`
}

type record struct {
	State State `json:"state"`
	Data  Data  `json:"data"`
}

// localRecord запись локального кэша со своим сроком годности,
// чтобы кэш процесса не пережил запись в redis.
type localRecord struct {
	record
	expiresAt time.Time
}

// Store хранилище состояний беседы: redis как источник истины
// плюс локальный кэш процесса. Все мутации пишутся сначала в redis,
// потом в локальный кэш, поэтому кэш не может пережить redis.
type Store struct {
	cache Cache
	log   *slog.Logger
	ttl   time.Duration

	mu    sync.RWMutex
	local map[int64]localRecord
}

// NewStore создает хранилище состояний с TTL по умолчанию (2 часа).
func NewStore(cache Cache, log *slog.Logger) *Store {
	return &Store{
		cache: cache,
		log:   log,
		ttl:   defaultStateTTL,
		local: make(map[int64]localRecord),
	}
}

func stateKey(userID int64) string {
	return fmt.Sprintf("fsm:user:%d", userID)
}

// GetState возвращает текущее состояние и данные беседы пользователя.
// Отсутствующее или истекшее состояние трактуется как (idle, пусто).
func (s *Store) GetState(userID int64) (State, Data, error) {
	const op = "fsm.Store.GetState"

	now := time.Now()

	s.mu.RLock()
	cached, ok := s.local[userID]
	s.mu.RUnlock()
	if ok && cached.expiresAt.After(now) {
		// Скользящее истечение: каждое чтение продлевает жизнь состояния.
		if err := s.cache.Set(stateKey(userID), cached.record, s.ttl); err != nil {
			s.log.Warn("failed to refresh state ttl", sl.UserID(userID), sl.Err(err))
		}
		s.storeLocal(userID, cached.record)
		return cached.State, cached.Data, nil
	}

	var rec record
	found, err := s.cache.Get(stateKey(userID), &rec)
	if err != nil {
		return StateIdle, Data{}, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		s.mu.Lock()
		delete(s.local, userID)
		s.mu.Unlock()
		return StateIdle, Data{}, nil
	}

	if err := s.cache.Set(stateKey(userID), rec, s.ttl); err != nil {
		s.log.Warn("failed to refresh state ttl", sl.UserID(userID), sl.Err(err))
	}
	s.storeLocal(userID, rec)

	return rec.State, rec.Data, nil
}

func (s *Store) storeLocal(userID int64, rec record) {
	s.mu.Lock()
	s.local[userID] = localRecord{record: rec, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
}

// SetState записывает состояние и данные беседы: сначала в redis,
// затем в локальный кэш.
func (s *Store) SetState(userID int64, state State, data Data) error {
	const op = "fsm.Store.SetState"

	rec := record{State: state, Data: data}
	if err := s.cache.Set(stateKey(userID), rec, s.ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.storeLocal(userID, rec)

	s.log.Debug("fsm state set", sl.UserID(userID), slog.String("state", string(state)))
	return nil
}

// UpdateData модифицирует полезную нагрузку текущего состояния:
// читает, применяет apply и записывает обратно. Перекрывающиеся
// ключи перезаписываются последней записью.
func (s *Store) UpdateData(userID int64, apply func(*Data)) error {
	const op = "fsm.Store.UpdateData"

	state, data, err := s.GetState(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	apply(&data)
	if err := s.SetState(userID, state, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AppendHistory добавляет реплику в краткосрочную историю беседы,
// ограничивая ее последними maxHistoryEntries записями.
func (s *Store) AppendHistory(userID int64, text string, fromUser bool) error {
	return s.UpdateData(userID, func(d *Data) {
		d.History = append(d.History, HistoryEntry{
			Text:     text,
			FromUser: fromUser,
			At:       time.Now(),
		})
		if len(d.History) > maxHistoryEntries {
			d.History = d.History[len(d.History)-maxHistoryEntries:]
		}
	})
}

// Transition выполняет переход по событию. Недопустимое событие
// возвращает ErrInvalidTransition и гарантированно не меняет
// сохраненное состояние.
func (s *Store) Transition(userID int64, event Event) (State, error) {
	const op = "fsm.Store.Transition"

	state, data, err := s.GetState(userID)
	if err != nil {
		return StateIdle, fmt.Errorf("%s: %w", op, err)
	}

	next, err := Next(state, event)
	if err != nil {
		s.log.Warn("rejected fsm transition",
			sl.UserID(userID),
			slog.String("state", string(state)),
			slog.String("event", string(event)))
		return state, err
	}

	if err := s.SetState(userID, next, data); err != nil {
		return state, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Debug("fsm transition",
		sl.UserID(userID),
		slog.String("from", string(state)),
		slog.String("to", string(next)),
		slog.String("event", string(event)))
	return next, nil
}

// Reset удаляет состояние беседы из redis и локального кэша.
func (s *Store) Reset(userID int64) error {
	const op = "fsm.Store.Reset"

	if err := s.cache.Invalidate(stateKey(userID)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	delete(s.local, userID)
	s.mu.Unlock()

	s.log.Debug("fsm state reset", sl.UserID(userID))
	return nil
}

// InConversation сообщает, находится ли пользователь в структурированной беседе.
func (s *Store) InConversation(userID int64) bool {
	state, _, err := s.GetState(userID)
	if err != nil {
		return false
	}
	return state != StateIdle
}
