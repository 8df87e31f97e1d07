// Package bot is the staff-facing Telegram companion. It announces insurance
// activations and new support sessions, and answers lookups from the admin chat.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/insurance"
	"etinuxe/internal/models"
	"etinuxe/pkg/logger"
)

// Directory is the read side the bot answers from.
type Directory interface {
	Overview(ctx context.Context, userID uuid.UUID) (*models.UserOverview, error)
	AdminOverview(ctx context.Context) (*models.AdminSummary, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramBot struct {
	api         *tgbotapi.BotAPI
	out         sender
	dir         Directory
	adminChatID int64
	logger      *logger.Logger
}

func NewTelegramBot(token string, adminChatID int64, dir Directory, logger *logger.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	logger.Info("Authorized on Telegram", "username", api.Self.UserName)

	return &TelegramBot{
		api:         api,
		out:         api,
		dir:         dir,
		adminChatID: adminChatID,
		logger:      logger,
	}, nil
}

// Start begins receiving updates from Telegram via polling
func (t *TelegramBot) Start(ctx context.Context) error {
	_, err := t.api.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: true,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := t.api.GetUpdatesChan(updateConfig)

	t.logger.Info("Started receiving Telegram updates")
	go t.handleUpdates(ctx, updates)
	return nil
}

func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		go func(msg *tgbotapi.Message) {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("Recovered from panic while processing update", "error", r)
				}
			}()

			if msg.Chat.ID != t.adminChatID {
				t.logger.Warn("Ignoring command from unknown chat", "chat_id", msg.Chat.ID)
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			t.send(msg.Chat.ID, t.reply(cctx, msg.Command(), msg.CommandArguments()))
		}(update.Message)
	}
}

const helpText = "Commands:\n/stage <user_id> - onboarding stage and points\n/summary - admin totals"

// reply renders the answer to one admin command.
func (t *TelegramBot) reply(ctx context.Context, command, args string) string {
	switch command {
	case "start", "help":
		return helpText

	case "stage":
		id, err := uuid.Parse(strings.TrimSpace(args))
		if err != nil {
			return "Usage: /stage <user_id>"
		}
		o, err := t.dir.Overview(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			return "No user " + id.String()
		}
		if err != nil {
			t.logger.Error("Failed to load overview", "user_id", id, "error", err)
			return "Lookup failed, check the logs."
		}
		return fmt.Sprintf("%s <%s>\nStage: %s\nRequests: %d\nPolicies: %d\nPoints: %.0f available of %.0f",
			o.User.Name, o.User.Email, o.Stage, len(o.Requests), len(o.InsurancePolicies),
			o.MemorySummary.AvailablePoints, o.MemorySummary.TotalPoints)

	case "summary":
		s, err := t.dir.AdminOverview(ctx)
		if err != nil {
			t.logger.Error("Failed to load admin overview", "error", err)
			return "Lookup failed, check the logs."
		}
		return fmt.Sprintf("Users: %d\nRequests: %d\nPayments: %d\nRevenue: $%.2f\nActive policies: %d ($%.2f/month)\nTokens pending/approved: %d/%d",
			s.TotalUsers, s.TotalRequests, s.TotalPayments, s.TotalRevenue,
			s.InsurancePolicies, s.InsuranceRecurringRevenue, s.PendingTokens, s.ApprovedTokens)
	}
	return "Unknown command. " + helpText
}

// PolicyActivated posts every state-changing activation to the admin chat.
func (t *TelegramBot) PolicyActivated(_ context.Context, user *models.User, res *insurance.ActivationResult) {
	p := res.Policy
	text := fmt.Sprintf("Insurance %s: %s for %s\nPremium $%.2f (monthly $%.2f, %.0f points redeemed)",
		res.ActivationMode, p.Tier, user.Email, p.FinalPremium, p.MonthlyPremium, p.PointsRedeemed)
	if res.EffectiveAt != nil && res.ActivationMode == insurance.ModeScheduled {
		text += "\nStarts " + res.EffectiveAt.Format("2006-01-02")
	}
	t.send(t.adminChatID, text)
}

// SupportSessionOpened posts new help desk sessions. Distress sessions are
// flagged so staff pick them up first.
func (t *TelegramBot) SupportSessionOpened(_ context.Context, user *models.User, sess *models.SupportSession) {
	prefix := "Support"
	if sess.Distress {
		prefix = "DISTRESS support"
	}
	text := fmt.Sprintf("%s session from %s: %s\nSession %s", prefix, user.Email, sess.Subject, sess.ID)
	t.send(t.adminChatID, text)
}

func (t *TelegramBot) send(chatID int64, text string) {
	if chatID == 0 {
		return
	}
	if _, err := t.out.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Error("Failed to send Telegram message", "chat_id", chatID, "error", err)
	}
}

// Stop gracefully shuts down the bot
func (t *TelegramBot) Stop(ctx context.Context) error {
	t.api.StopReceivingUpdates()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
		return nil
	}
}
