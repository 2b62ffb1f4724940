package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
	"github.com/magabrotheeeer/neuze-bot/internal/services/subscription"
)

// Действия панели администратора. Выбранное действие хранится в redis
// и применяется к следующему отправленному тексту.
const (
	adminActionBan      = "ban"
	adminActionUnban    = "unban"
	adminActionGrantPro = "grant_pro"
	adminActionGrantVip = "grant_vip"
	adminActionRevoke   = "revoke"

	adminStateTTL = 5 * time.Minute
)

func adminStateKey(adminID int64) string {
	return fmt.Sprintf("admin_state:%d", adminID)
}

// onAdmin показывает панель администратора.
func (b *Bot) onAdmin(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	user, _, err := b.ensureUser(ctx, msg.From, nil)
	if err != nil {
		b.log.Error("failed to ensure user", sl.UserID(msg.From.ID), sl.Err(err))
		return
	}
	if !user.IsAdmin {
		b.send(ctx, msg.Chat.ID, textAdminOnly)
		return
	}

	b.send(ctx, msg.Chat.ID, textAdminPanel,
		models.Action{Label: "Забанить", Data: callbackAdminPrefix + adminActionBan},
		models.Action{Label: "Разбанить", Data: callbackAdminPrefix + adminActionUnban},
		models.Action{Label: "Выдать Pro", Data: callbackAdminPrefix + adminActionGrantPro},
		models.Action{Label: "Выдать VIP", Data: callbackAdminPrefix + adminActionGrantVip},
		models.Action{Label: "Отключить подписку", Data: callbackAdminPrefix + adminActionRevoke},
	)
}

// handleAdminCallback запоминает выбранное действие и просит ID
// пользователя следующим сообщением.
func (b *Bot) handleAdminCallback(ctx context.Context, adminID, chatID int64, action string) {
	user, err := b.repo.GetUser(ctx, adminID)
	if err != nil || !user.IsAdmin {
		return
	}

	switch action {
	case adminActionBan, adminActionUnban, adminActionGrantPro, adminActionGrantVip, adminActionRevoke:
		if err := b.cache.Set(adminStateKey(adminID), action, adminStateTTL); err != nil {
			b.log.Error("failed to store admin state", sl.UserID(adminID), sl.Err(err))
			b.send(ctx, chatID, textAdminActionError)
			return
		}
		b.send(ctx, chatID, textAdminAskUserID)
	default:
		b.log.Warn("unknown admin action", sl.UserID(adminID))
	}
}

// handleAdminInput применяет отложенное действие администратора
// к присланному ID. Возвращает true, если текст был перехвачен.
func (b *Bot) handleAdminInput(ctx context.Context, adminID, chatID int64, text string) bool {
	var action string
	found, err := b.cache.Get(adminStateKey(adminID), &action)
	if err != nil {
		b.log.Warn("failed to read admin state", sl.UserID(adminID), sl.Err(err))
		return false
	}
	if !found {
		return false
	}

	targetID, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		b.send(ctx, chatID, textAdminBadUserID)
		return true
	}

	if err := b.cache.Invalidate(adminStateKey(adminID)); err != nil {
		b.log.Warn("failed to clear admin state", sl.UserID(adminID), sl.Err(err))
	}

	if err := b.applyAdminAction(ctx, action, targetID); err != nil {
		b.log.Error("admin action failed",
			sl.UserID(adminID), sl.Err(err))
		b.send(ctx, chatID, textAdminActionError)
		return true
	}

	b.send(ctx, chatID, textAdminDone)
	return true
}

func (b *Bot) applyAdminAction(ctx context.Context, action string, targetID int64) error {
	switch action {
	case adminActionBan:
		return b.repo.SetBan(ctx, targetID, true, nil)
	case adminActionUnban:
		return b.repo.SetBan(ctx, targetID, false, nil)
	case adminActionGrantPro:
		return b.grantPlan(ctx, targetID, models.PlanPro)
	case adminActionGrantVip:
		return b.grantPlan(ctx, targetID, models.PlanVip)
	case adminActionRevoke:
		return b.revokePlan(ctx, targetID)
	}
	return fmt.Errorf("unknown admin action %q", action)
}

// revokePlan досрочно отключает действующий платный тариф пользователя.
func (b *Bot) revokePlan(ctx context.Context, targetID int64) error {
	user, err := b.repo.GetUser(ctx, targetID)
	if err != nil {
		return err
	}
	status, err := b.ledger.StatusFor(ctx, user)
	if err != nil {
		return err
	}
	if status.Tier == models.PlanFree {
		return subscription.ErrNothingToDeactivate
	}
	if err := b.ledger.Deactivate(ctx, targetID, status.Tier); err != nil {
		return err
	}
	b.send(ctx, targetID, textSubRevoked)
	return nil
}

// grantPlan активирует подписку без оплаты. Метка admin_<uuid>
// делает операцию идемпотентной для леджера.
func (b *Bot) grantPlan(ctx context.Context, targetID int64, planName string) error {
	plan, err := b.repo.GetPlanByName(ctx, planName)
	if err != nil {
		return err
	}
	ref := "admin_" + uuid.NewString()
	if err := b.ledger.Activate(ctx, targetID, plan.ID, ref, 0); err != nil {
		return err
	}
	b.send(ctx, targetID, textSubActivated)
	return nil
}
