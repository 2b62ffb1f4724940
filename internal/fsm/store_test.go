package fsm

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/neuze-bot/internal/cache"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c := &cache.Cache{Db: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return NewStore(c, log), mr
}

func TestStore_DefaultStateIsIdle(t *testing.T) {
	store, _ := newTestStore(t)

	state, data, err := store.GetState(1)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
	assert.Empty(t, data.CurrentQuestion)
	assert.False(t, store.InConversation(1))
}

func TestStore_SetAndGetState(t *testing.T) {
	store, mr := newTestStore(t)

	err := store.SetState(1, StateWaitingForQuestion, Data{SelectedMode: "brief"})
	require.NoError(t, err)

	state, data, err := store.GetState(1)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForQuestion, state)
	assert.Equal(t, "brief", data.SelectedMode)
	assert.True(t, store.InConversation(1))

	// Состояние записано в redis, не только в локальный кэш.
	assert.True(t, mr.Exists("fsm:user:1"))
}

func TestStore_LocalCacheSurvivesRedisRead(t *testing.T) {
	store, mr := newTestStore(t)

	require.NoError(t, store.SetState(1, StateWaitingForFollowUp, Data{}))

	// Удаляем локальный кэш, эмулируя второй процесс.
	store.mu.Lock()
	delete(store.local, 1)
	store.mu.Unlock()

	state, _, err := store.GetState(1)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForFollowUp, state)
	assert.True(t, mr.Exists("fsm:user:1"))
}

func TestStore_SlidingTTLRefreshedOnRead(t *testing.T) {
	store, mr := newTestStore(t)

	require.NoError(t, store.SetState(1, StateWaitingForQuestion, Data{}))

	// Прошла почти вся жизнь состояния.
	mr.FastForward(defaultStateTTL - time.Minute)

	_, _, err := store.GetState(1)
	require.NoError(t, err)

	// Чтение продлило TTL: спустя еще почти весь TTL ключ жив.
	mr.FastForward(defaultStateTTL - time.Minute)
	assert.True(t, mr.Exists("fsm:user:1"))
}

func TestStore_Transition(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SetState(1, StateWaitingForQuestion, Data{CurrentQuestion: "q"}))

	next, err := store.Transition(1, EventQuestionReceived)
	require.NoError(t, err)
	assert.Equal(t, StateProcessingResponse, next)

	state, data, err := store.GetState(1)
	require.NoError(t, err)
	assert.Equal(t, StateProcessingResponse, state)
	// Полезная нагрузка переживает переход.
	assert.Equal(t, "q", data.CurrentQuestion)
}

func TestStore_RejectedTransitionDoesNotMutate(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SetState(1, StateWaitingForQuestion, Data{CurrentQuestion: "q"}))

	_, err := store.Transition(1, EventConfirmed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	state, data, err := store.GetState(1)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForQuestion, state)
	assert.Equal(t, "q", data.CurrentQuestion)
}

func TestStore_Reset(t *testing.T) {
	store, mr := newTestStore(t)

	require.NoError(t, store.SetState(1, StateWaitingForQuestion, Data{}))
	require.NoError(t, store.Reset(1))

	assert.False(t, mr.Exists("fsm:user:1"))
	state, _, err := store.GetState(1)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestStore_UpdateData(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SetState(1, StateWaitingForContext, Data{CurrentQuestion: "q"}))
	require.NoError(t, store.UpdateData(1, func(d *Data) {
		d.Context = "подробности"
	}))

	state, data, err := store.GetState(1)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForContext, state)
	assert.Equal(t, "q", data.CurrentQuestion)
	assert.Equal(t, "подробности", data.Context)
}

func TestStore_AppendHistoryCapped(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SetState(1, StateWaitingForFollowUp, Data{}))
	for i := 0; i < maxHistoryEntries+5; i++ {
		require.NoError(t, store.AppendHistory(1, "реплика", i%2 == 0))
	}

	_, data, err := store.GetState(1)
	require.NoError(t, err)
	assert.Len(t, data.History, maxHistoryEntries)
}
