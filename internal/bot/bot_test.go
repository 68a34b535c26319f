package bot

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/expense-assistant/internal/assistant"
	"github.com/xaenox/expense-assistant/internal/lifecycle"
	"github.com/xaenox/expense-assistant/internal/models"
	"github.com/xaenox/expense-assistant/internal/storage"
	"go.uber.org/zap"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type echoProvider struct{}

func (echoProvider) Complete(ctx context.Context, req assistant.Request) (*assistant.Completion, error) {
	return &assistant.Completion{Text: "echo: " + req.Messages[len(req.Messages)-1].Content}, nil
}

// Telegram account 100 is John (user 1), 200 is Jane (user 2, manager).
func newTestBot(t *testing.T) (*Bot, *fakeAPI, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewSeededMemoryStorage()
	logger := zap.NewNop()
	service := lifecycle.NewService(store, lifecycle.NewMachine(lifecycle.Policy{}), logger)
	orchestrator := assistant.NewOrchestrator(echoProvider{}, assistant.NewExpenseRegistry(store), logger)
	users := func(telegramID int64) (int64, bool) {
		id, ok := map[int64]int64{100: 1, 200: 2}[telegramID]
		return id, ok
	}

	api := &fakeAPI{updates: make(chan tgbotapi.Update)}
	return newBot(api, store, service, orchestrator, users, logger), api, store
}

func textMessage(from int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: from},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
	}
	if len(text) > 0 && text[0] == '/' {
		length := len(text)
		for i, r := range text {
			if r == ' ' {
				length = i
				break
			}
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	}
	return msg
}

func TestBot_UnlinkedAccount(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.handleMessage(context.Background(), textMessage(999, "/expenses"))
	assert.Contains(t, api.last(t).Text, "not linked")

	b.handleMessage(context.Background(), textMessage(999, "/help"))
	assert.Contains(t, api.last(t).Text, "/approve <id>")
}

func TestBot_Listings(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, textMessage(100, "/expenses"))
	out := api.last(t)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, out.ParseMode)
	assert.Contains(t, out.Text, `250\.00 Meals, Client lunch meeting \[Pending\]`)

	b.handleMessage(ctx, textMessage(200, "/expenses"))
	assert.Equal(t, "You don't have any expenses yet.", api.last(t).Text)

	b.handleMessage(ctx, textMessage(200, "/pending"))
	assert.Contains(t, api.last(t).Text, `125\.50 Travel, Taxi to airport \(John Doe\)`)

	b.handleMessage(ctx, textMessage(200, "/summary"))
	assert.Contains(t, api.last(t).Text, `Pending: 2, 375\.50`)
}

func TestBot_Transitions(t *testing.T) {
	b, api, store := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, textMessage(100, "/approve 1"))
	assert.Contains(t, api.last(t).Text, "⚠️")

	b.handleMessage(ctx, textMessage(200, "/approve 1 looks fine"))
	assert.Equal(t, "Expense #1 is now Approved.", api.last(t).Text)

	approved, err := store.GetExpense(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, approved.Comments)
	assert.Equal(t, "looks fine", *approved.Comments)

	b.handleMessage(ctx, textMessage(200, "/reject 1"))
	assert.Contains(t, api.last(t).Text, "only pending expenses")

	b.handleMessage(ctx, textMessage(200, "/reject 2 no receipt"))
	assert.Equal(t, "Expense #2 is now Rejected.", api.last(t).Text)

	b.handleMessage(ctx, textMessage(100, "/submit"))
	assert.Equal(t, "Usage: /submit <id> - Submit a draft expense", api.last(t).Text)

	b.handleMessage(ctx, textMessage(200, "/approve"))
	assert.Equal(t, "Usage: /approve <id> [comment] - Approve a pending expense", api.last(t).Text)

	b.handleMessage(ctx, textMessage(200, "/reject soon"))
	assert.Equal(t, "Usage: /reject <id> [comment] - Reject a pending expense", api.last(t).Text)

	b.handleMessage(ctx, textMessage(100, "/delete 42"))
	assert.Contains(t, api.last(t).Text, "does not exist")
}

func TestBot_SubmitAndDeleteDraft(t *testing.T) {
	b, api, store := newTestBot(t)
	ctx := context.Background()

	draft := &models.Expense{UserID: 1, ExpenseFields: models.ExpenseFields{
		CategoryID:  3,
		ExpenseDate: time.Now(),
		Description: "Notebooks",
	}}
	require.NoError(t, store.CreateExpense(ctx, draft))
	other := &models.Expense{UserID: 1, ExpenseFields: models.ExpenseFields{
		CategoryID:  4,
		ExpenseDate: time.Now(),
		Description: "Stamps",
	}}
	require.NoError(t, store.CreateExpense(ctx, other))

	b.handleMessage(ctx, textMessage(100, "/submit "+itoa(draft.ID)))
	assert.Equal(t, "Expense #"+itoa(draft.ID)+" is now Pending.", api.last(t).Text)

	b.handleMessage(ctx, textMessage(100, "/delete "+itoa(other.ID)))
	assert.Equal(t, "Expense #"+itoa(other.ID)+" deleted.", api.last(t).Text)
}

func TestBot_ChatTurn(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.handleMessage(context.Background(), textMessage(100, "how much did I spend?"))
	out := api.last(t)
	assert.Equal(t, "echo: how much did I spend?", out.Text)
	assert.Equal(t, 7, out.ReplyToMessageID)
}

func TestBot_UnknownCommand(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.handleMessage(context.Background(), textMessage(100, "/tags"))
	assert.Contains(t, api.last(t).Text, "Unknown command")
}

func TestBot_StartStopsOnCancel(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	api.updates <- tgbotapi.Update{Message: textMessage(100, "/start")}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	assert.Contains(t, api.last(t).Text, "Welcome")
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.True(t, api.stopped)
}

func TestParseTransitionArgs(t *testing.T) {
	id, comments, err := parseTransitionArgs(" 12  needs a receipt ")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	require.NotNil(t, comments)
	assert.Equal(t, "needs a receipt", *comments)

	id, comments, err = parseTransitionArgs("3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.Nil(t, comments)

	_, _, err = parseTransitionArgs("")
	assert.Error(t, err)
	_, _, err = parseTransitionArgs("-1")
	assert.Error(t, err)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `12\.50 \(Travel\) \- taxi\!`, escapeMarkdown("12.50 (Travel) - taxi!"))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
