package quota

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/neuze-bot/internal/models"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		tier    string
		msgLen  int
		used    int
		limit   int
		want    Decision
	}{
		{
			name:   "Успех: free в пределах лимита",
			tier:   models.PlanFree,
			msgLen: 50,
			used:   5,
			limit:  20,
			want:   Decision{Remaining: 15},
		},
		{
			name:   "Блокировка: free исчерпал лимит",
			tier:   models.PlanFree,
			msgLen: 50,
			used:   20,
			limit:  20,
			want:   Decision{Trigger: TriggerLimitExhausted, Blocked: true},
		},
		{
			name:   "Блокировка: free превысил лимит",
			tier:   models.PlanFree,
			msgLen: 50,
			used:   25,
			limit:  20,
			want:   Decision{Trigger: TriggerLimitExhausted, Blocked: true},
		},
		{
			name:   "Успех: последнее бесплатное сообщение",
			tier:   models.PlanFree,
			msgLen: 50,
			used:   19,
			limit:  20,
			want:   Decision{Remaining: 1},
		},
		{
			name:   "Успех: pro без ограничений на короткое сообщение",
			tier:   models.PlanPro,
			msgLen: 500,
			used:   100,
			limit:  20,
			want:   Decision{},
		},
		{
			name:   "Предложение vip: pro с длинным сообщением",
			tier:   models.PlanPro,
			msgLen: 501,
			used:   0,
			limit:  20,
			want:   Decision{Trigger: TriggerLongMessages},
		},
		{
			name:   "Успех: vip без ограничений",
			tier:   models.PlanVip,
			msgLen: 5000,
			used:   100,
			limit:  20,
			want:   Decision{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.tier, tt.msgLen, tt.used, tt.limit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateLongMessageBoundary(t *testing.T) {
	msg := strings.Repeat("а", longMessageThreshold)
	got := Evaluate(models.PlanPro, len([]rune(msg)), 0, 20)
	assert.Equal(t, TriggerNone, got.Trigger)

	got = Evaluate(models.PlanPro, len([]rune(msg))+1, 0, 20)
	assert.Equal(t, TriggerLongMessages, got.Trigger)
	assert.False(t, got.Blocked)
}
