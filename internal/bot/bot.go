package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/expense-assistant/internal/assistant"
	"github.com/xaenox/expense-assistant/internal/lifecycle"
	"github.com/xaenox/expense-assistant/internal/models"
	"github.com/xaenox/expense-assistant/internal/storage"
	"go.uber.org/zap"
)

// botAPI is the part of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// UserResolver maps a Telegram account to an expense user id.
type UserResolver func(telegramID int64) (int64, bool)

type Bot struct {
	api       botAPI
	store     storage.Storage
	service   *lifecycle.Service
	assistant *assistant.Orchestrator
	users     UserResolver
	logger    *zap.Logger
}

func New(token string, store storage.Storage, service *lifecycle.Service, orchestrator *assistant.Orchestrator, users UserResolver, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on Telegram", zap.String("account", api.Self.UserName))

	return newBot(api, store, service, orchestrator, users, logger), nil
}

func newBot(api botAPI, store storage.Storage, service *lifecycle.Service, orchestrator *assistant.Orchestrator, users UserResolver, logger *zap.Logger) *Bot {
	return &Bot{
		api:       api,
		store:     store,
		service:   service,
		assistant: orchestrator,
		users:     users,
		logger:    logger,
	}
}

// Start polls for updates until ctx is done, then waits for in-flight
// messages.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			wg.Add(1)
			go func(message *tgbotapi.Message) {
				defer wg.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	if message.IsCommand() && (message.Command() == "start" || message.Command() == "help") {
		b.handleCommand(ctx, message, 0)
		return
	}

	userID, ok := b.users(message.From.ID)
	if !ok {
		b.logger.Info("Message from unlinked Telegram account", zap.Int64("telegram_id", message.From.ID))
		b.sendMessage(message.Chat.ID, fmt.Sprintf(
			"Your Telegram account (%d) is not linked to an expense user. Please ask an administrator to link it.",
			message.From.ID))
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message, userID)
		return
	}

	reply := b.assistant.Chat(ctx, assistant.Turn{UserID: userID, Text: message.Text})
	msg := tgbotapi.NewMessage(message.Chat.ID, reply.Text)
	msg.ReplyToMessageID = message.MessageID
	b.send(msg)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message, userID int64) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "expenses":
		b.handleExpenses(ctx, message, userID)
	case "pending":
		b.handlePending(ctx, message)
	case "summary":
		b.handleSummary(ctx, message)
	case "submit":
		b.handleTransition(ctx, message, userID, "submit")
	case "approve":
		b.handleTransition(ctx, message, userID, "approve")
	case "reject":
		b.handleTransition(ctx, message, userID, "reject")
	case "delete":
		b.handleTransition(ctx, message, userID, "delete")
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to the expense assistant! 💼
I can show your expenses, move them through approval and answer questions about them.

Ask me anything, for example "what is waiting for approval?".
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/expenses - Show your expenses
/pending - Show expenses waiting for approval
/summary - Show totals by status
` + transitionUsage["submit"] + `
` + transitionUsage["approve"] + `
` + transitionUsage["reject"] + `
` + transitionUsage["delete"] + `

Any other message is answered by the assistant.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleExpenses(ctx context.Context, message *tgbotapi.Message, userID int64) {
	expenses, err := b.store.ListExpensesByUser(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to list user expenses",
			zap.Error(err),
			zap.Int64("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your expenses.")
		return
	}
	if len(expenses) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any expenses yet.")
		return
	}

	b.sendMarkdown(message.Chat.ID, formatExpenses("Your expenses:", expenses, false))
}

func (b *Bot) handlePending(ctx context.Context, message *tgbotapi.Message) {
	expenses, err := b.store.ListPendingExpenses(ctx)
	if err != nil {
		b.logger.Error("Failed to list pending expenses", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve pending expenses.")
		return
	}
	if len(expenses) == 0 {
		b.sendMessage(message.Chat.ID, "Nothing is waiting for approval.")
		return
	}

	b.sendMarkdown(message.Chat.ID, formatExpenses("Waiting for approval:", expenses, true))
}

func (b *Bot) handleSummary(ctx context.Context, message *tgbotapi.Message) {
	s, err := b.store.Summary(ctx)
	if err != nil {
		b.logger.Error("Failed to load summary", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't load the summary.")
		return
	}

	text := fmt.Sprintf("*Expense summary*\nTotal: %d, %s\nDraft: %d\nPending: %d, %s\nApproved: %d, %s\nRejected: %d",
		s.TotalExpenses, escapeMarkdown(s.TotalAmount.StringFixed(2)),
		s.DraftCount,
		s.PendingCount, escapeMarkdown(s.PendingAmount.StringFixed(2)),
		s.ApprovedCount, escapeMarkdown(s.ApprovedAmount.StringFixed(2)),
		s.RejectedCount)
	b.sendMarkdown(message.Chat.ID, text)
}

func (b *Bot) handleTransition(ctx context.Context, message *tgbotapi.Message, userID int64, op string) {
	id, comments, err := parseTransitionArgs(message.CommandArguments())
	if err != nil {
		b.sendMessage(message.Chat.ID, "Usage: "+transitionUsage[op])
		return
	}

	var res lifecycle.Result
	switch op {
	case "submit":
		res, err = b.service.Submit(ctx, id)
	case "approve":
		res, err = b.service.Approve(ctx, id, userID, comments)
	case "reject":
		res, err = b.service.Reject(ctx, id, userID, comments)
	case "delete":
		res, err = b.service.Delete(ctx, id)
	}
	if err != nil {
		b.logger.Error("Lifecycle operation failed",
			zap.Error(err),
			zap.String("op", op),
			zap.Int64("expense_id", id),
			zap.Int64("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong. Please try again later.")
		return
	}
	if res.Failure != nil {
		b.sendErrorMessage(message.Chat.ID, fmt.Sprintf("Expense #%d: %s", id, res.Failure.Message))
		return
	}

	if res.Expense == nil {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Expense #%d deleted.", id))
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Expense #%d is now %s.", id, res.Expense.StatusName))
}

var transitionUsage = map[string]string{
	"submit":  "/submit <id> - Submit a draft expense",
	"approve": "/approve <id> [comment] - Approve a pending expense",
	"reject":  "/reject <id> [comment] - Reject a pending expense",
	"delete":  "/delete <id> - Delete a draft expense",
}

// parseTransitionArgs splits "<id> [comment...]".
func parseTransitionArgs(args string) (int64, *string, error) {
	head, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("invalid expense id %q", head)
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return id, nil, nil
	}
	return id, &rest, nil
}

func formatExpenses(title string, expenses []*models.Expense, withOwner bool) string {
	var sb strings.Builder
	sb.WriteString("*" + escapeMarkdown(title) + "*\n\n")
	for _, e := range expenses {
		line := fmt.Sprintf("#%d %s %s, %s", e.ID, e.Amount.StringFixed(2), e.CategoryName, e.Description)
		if withOwner {
			line += " (" + e.UserName + ")"
		} else {
			line += " [" + e.StatusName + "]"
		}
		sb.WriteString(escapeMarkdown(line) + "\n")
	}
	return sb.String()
}

// escapeMarkdown escapes MarkdownV2 special characters.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	b.send(msg)
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, "⚠️ "+text))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID))
	}
}
