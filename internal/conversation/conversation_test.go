package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"expense-intake/internal/categories"
	"expense-intake/internal/llm"
	"expense-intake/internal/models"
	"expense-intake/pkg/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakeCompleter struct {
	mu   sync.Mutex
	reqs []llm.Request
	fn   func(req llm.Request) (string, error)
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(req)
}

func newMachine(t *testing.T, c llm.Completer, limit int) *Machine {
	t.Helper()
	return NewMachine(c, nil, &config.ChatConfig{HistoryLimit: limit}, &config.LLMConfig{Timeout: time.Second}, zaptest.NewLogger(t)).
		WithClock(clock)
}

func newConversation() *models.ConversationContext {
	return &models.ConversationContext{ID: uuid.New(), UserID: uuid.New(), Step: models.StepInitial}
}

func TestSingleMessageExpense(t *testing.T) {
	m := newMachine(t, nil, 0)
	conv := newConversation()

	res, err := m.Turn(context.Background(), conv, "I spent $12 at McDonald's for lunch yesterday")
	require.NoError(t, err)

	assert.Equal(t, "12", res.ExtractedData.Amount)
	assert.Equal(t, "McDonald's", res.ExtractedData.Merchant)
	assert.Equal(t, "lunch", res.ExtractedData.Description)
	assert.Equal(t, "2026-10-16", res.ExtractedData.Date)
	assert.Equal(t, models.StepConfirming, res.NextStep)
	assert.True(t, res.NeedsUserInput)
	assert.False(t, res.IsComplete)

	assert.Equal(t, categories.FoodDining, conv.CurrentExpense.Category)
	assert.Equal(t, models.StepConfirming, conv.Step)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, conv.Messages[1].Role)
	assert.Contains(t, res.Message, "$12.00")
}

func TestParserExtract(t *testing.T) {
	p := NewParser(clock)

	tests := []struct {
		name string
		text string
		want models.ExpenseDraft
	}{
		{
			name: "thousands separator",
			text: "$1,250.50 at Best Buy",
			want: models.ExpenseDraft{Amount: "1250.5", Currency: "USD", Merchant: "Best Buy"},
		},
		{
			name: "euros and days ago",
			text: "paid 20 euros at Lidl 3 days ago",
			want: models.ExpenseDraft{Amount: "20", Currency: "EUR", Merchant: "Lidl", Date: "2026-10-14"},
		},
		{
			name: "weeks ago and wallet",
			text: "Uber ride for work two weeks ago with apple pay",
			want: models.ExpenseDraft{Description: "work", Date: "2026-10-03", PaymentMethod: categories.DigitalWallet},
		},
		{
			name: "explicit date and category",
			text: "category travel, date 2026-09-30",
			want: models.ExpenseDraft{Category: categories.Travel, Date: "2026-09-30"},
		},
		{
			name: "today and cash",
			text: "15 bucks from the corner shop today, paid cash",
			want: models.ExpenseDraft{Amount: "15", Currency: "USD", Merchant: "the corner shop", Date: "2026-10-17", PaymentMethod: categories.Cash},
		},
		{
			name: "nothing",
			text: "hmm let me think",
			want: models.ExpenseDraft{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Extract(tt.text))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, IntentAffirmative, Classify("yes"))
	assert.Equal(t, IntentAffirmative, Classify("Looks good!"))
	assert.Equal(t, IntentNegative, Classify("no"))
	assert.Equal(t, IntentNegative, Classify("that's not correct"))
	assert.Equal(t, IntentNegative, Classify("please change the amount"))
	assert.Equal(t, IntentOther, Classify("hmm"))
}

func TestCollectEditConfirmFlow(t *testing.T) {
	m := newMachine(t, nil, 0)
	conv := newConversation()
	ctx := context.Background()

	res, err := m.Turn(ctx, conv, "I spent some money")
	require.NoError(t, err)
	assert.Equal(t, models.StepCollecting, res.NextStep)

	res, err = m.Turn(ctx, conv, "$40")
	require.NoError(t, err)
	assert.Equal(t, models.StepCollecting, res.NextStep)
	assert.Equal(t, "Where did you spend it?", res.Message)

	res, err = m.Turn(ctx, conv, "at Target")
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirming, res.NextStep)
	assert.Equal(t, "40", conv.CurrentExpense.Amount)
	assert.Equal(t, "Target", conv.CurrentExpense.Merchant)
	assert.Equal(t, categories.Shopping, conv.CurrentExpense.Category)
	assert.Equal(t, "2026-10-17", conv.CurrentExpense.Date)

	res, err = m.Turn(ctx, conv, "no")
	require.NoError(t, err)
	assert.Equal(t, models.StepEditing, res.NextStep)

	res, err = m.Turn(ctx, conv, "category travel")
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirming, res.NextStep)
	assert.Equal(t, categories.Travel, conv.CurrentExpense.Category)

	res, err = m.Turn(ctx, conv, "yes")
	require.NoError(t, err)
	assert.Equal(t, models.StepComplete, res.NextStep)
	assert.True(t, res.IsComplete)
	assert.False(t, res.NeedsUserInput)

	before := len(conv.Messages)
	_, err = m.Turn(ctx, conv, "one more thing")
	assert.ErrorIs(t, err, ErrConversationComplete)
	assert.Len(t, conv.Messages, before)
}

func TestBareReplyFillsPromptedField(t *testing.T) {
	tests := []struct {
		name     string
		first    string
		prompt   string
		reply    string
		amount   string
		currency string
		merchant string
	}{
		{name: "whole number", first: "I was at Starbucks", prompt: "How much did you spend at Starbucks?", reply: "12", amount: "12", currency: "USD", merchant: "Starbucks"},
		{name: "decimal", first: "I was at Starbucks", prompt: "How much did you spend at Starbucks?", reply: "12.50", amount: "12.5", currency: "USD", merchant: "Starbucks"},
		{name: "euro symbol", first: "I was at Lidl", prompt: "How much did you spend at Lidl?", reply: "€7.20", amount: "7.2", currency: "EUR", merchant: "Lidl"},
		{name: "merchant name", first: "I spent $40", prompt: "Where did you spend it?", reply: "Starbucks", amount: "40", currency: "USD", merchant: "Starbucks"},
		{name: "merchant with period", first: "I spent $40", prompt: "Where did you spend it?", reply: "Whole Foods.", amount: "40", currency: "USD", merchant: "Whole Foods"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine(t, nil, 0)
			conv := newConversation()
			ctx := context.Background()

			res, err := m.Turn(ctx, conv, tt.first)
			require.NoError(t, err)
			require.Equal(t, models.StepCollecting, res.NextStep)
			require.Equal(t, tt.prompt, res.Message)

			res, err = m.Turn(ctx, conv, tt.reply)
			require.NoError(t, err)
			assert.Equal(t, models.StepConfirming, res.NextStep)
			assert.Equal(t, tt.amount, conv.CurrentExpense.Amount)
			assert.Equal(t, tt.currency, conv.CurrentExpense.Currency)
			assert.Equal(t, tt.merchant, conv.CurrentExpense.Merchant)
		})
	}
}

func TestBareReplyIgnoredWhenNotAnAnswer(t *testing.T) {
	m := newMachine(t, nil, 0)
	conv := newConversation()
	ctx := context.Background()

	_, err := m.Turn(ctx, conv, "I spent $40")
	require.NoError(t, err)

	for _, reply := range []string{"yes", "42", "where do you mean?"} {
		res, err := m.Turn(ctx, conv, reply)
		require.NoError(t, err)
		assert.Equal(t, models.StepCollecting, res.NextStep, reply)
		assert.Empty(t, conv.CurrentExpense.Merchant, reply)
	}
	assert.Equal(t, "40", conv.CurrentExpense.Amount)
}

func TestAffirmativeWithFillerObjectCompletes(t *testing.T) {
	m := newMachine(t, nil, 0)
	conv := newConversation()
	ctx := context.Background()

	_, err := m.Turn(ctx, conv, "I spent $12 at McDonald's for lunch yesterday")
	require.NoError(t, err)

	res, err := m.Turn(ctx, conv, "Yes, please save it for me")
	require.NoError(t, err)
	assert.Equal(t, models.StepComplete, res.NextStep)
	assert.True(t, res.IsComplete)
	assert.Equal(t, "lunch", conv.CurrentExpense.Description)
	assert.Equal(t, "12", conv.CurrentExpense.Amount)
}

func TestParserDropsFillerDescription(t *testing.T) {
	p := NewParser(clock)
	assert.Empty(t, p.Extract("save it for me").Description)
	assert.Empty(t, p.Extract("keep that for later").Description)
	assert.Equal(t, "groceries", p.Extract("$30 for groceries").Description)
}

func TestMergeNeverClearsFields(t *testing.T) {
	m := newMachine(t, nil, 0)
	conv := newConversation()
	ctx := context.Background()

	_, err := m.Turn(ctx, conv, "I was at Costco")
	require.NoError(t, err)
	_, err = m.Turn(ctx, conv, "it was $85.20")
	require.NoError(t, err)
	_, err = m.Turn(ctx, conv, "ok")
	require.NoError(t, err)

	assert.Equal(t, "Costco", conv.CurrentExpense.Merchant)
	assert.Equal(t, "85.2", conv.CurrentExpense.Amount)
}

func TestTransitionsStayInsideStateSet(t *testing.T) {
	replies := []string{"yes", "no", "hmm", "$5 at Shell"}
	want := map[models.Step]map[string]models.Step{
		models.StepInitial: {
			"yes": models.StepConfirming, "no": models.StepConfirming, "hmm": models.StepConfirming, "$5 at Shell": models.StepConfirming,
		},
		models.StepCollecting: {
			"yes": models.StepConfirming, "no": models.StepConfirming, "hmm": models.StepConfirming, "$5 at Shell": models.StepConfirming,
		},
		models.StepConfirming: {
			"yes": models.StepComplete, "no": models.StepEditing, "hmm": models.StepConfirming, "$5 at Shell": models.StepConfirming,
		},
		models.StepEditing: {
			"yes": models.StepConfirming, "no": models.StepEditing, "hmm": models.StepEditing, "$5 at Shell": models.StepConfirming,
		},
	}

	m := newMachine(t, nil, 0)
	for step, byReply := range want {
		for _, reply := range replies {
			conv := newConversation()
			conv.Step = step
			conv.CurrentExpense = models.ExpenseDraft{Amount: "9.99", Merchant: "Kiosk", Date: "2026-10-01", Category: categories.Other}

			res, err := m.Turn(context.Background(), conv, reply)
			require.NoError(t, err)
			assert.True(t, res.NextStep.Valid())
			assert.Equal(t, byReply[reply], res.NextStep, "step %s reply %q", step, reply)
			assert.Equal(t, res.NextStep == models.StepComplete, res.IsComplete)
		}
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	m := newMachine(t, nil, 0)
	_, err := m.Turn(context.Background(), newConversation(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestProviderTurn(t *testing.T) {
	fc := &fakeCompleter{fn: func(llm.Request) (string, error) {
		return `{"message":"20 EUR at Lidl, save it?","nextStep":"confirming","isComplete":false,"needsUserInput":true,
			"extractedData":{"merchant":"Lidl","amount":20,"currency":"eur","category":"food & dining","paymentMethod":"nonsense"}}`, nil
	}}
	m := newMachine(t, fc, 2)
	conv := newConversation()
	conv.Step = models.StepCollecting
	for i := 0; i < 5; i++ {
		conv.Messages = append(conv.Messages, models.Message{Role: models.RoleAssistant, Content: "earlier"})
	}

	res, err := m.Turn(context.Background(), conv, "20 euros at Lidl")
	require.NoError(t, err)

	assert.Equal(t, "20 EUR at Lidl, save it?", res.Message)
	assert.Equal(t, models.StepConfirming, res.NextStep)
	assert.Equal(t, models.ExpenseDraft{Merchant: "Lidl", Amount: "20", Currency: "EUR", Category: categories.FoodDining}, res.ExtractedData)

	require.Len(t, fc.reqs, 1)
	require.Len(t, fc.reqs[0].Messages, 2)
	assert.Equal(t, llm.RoleUser, fc.reqs[0].Messages[1].Role)
	assert.Equal(t, "20 euros at Lidl", fc.reqs[0].Messages[1].Content)
	assert.NotNil(t, fc.reqs[0].Tool)
}

func TestProviderFailureFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "error", err: errors.New("connection refused")},
		{name: "not json", reply: "Sure, I can help!"},
		{name: "unknown step", reply: `{"message":"ok","nextStep":"finished"}`},
		{name: "missing message", reply: `{"nextStep":"confirming"}`},
		{name: "complete too early", reply: `{"message":"Saved!","nextStep":"complete","isComplete":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCompleter{fn: func(llm.Request) (string, error) { return tt.reply, tt.err }}
			m := newMachine(t, fc, 0)
			conv := newConversation()

			res, err := m.Turn(context.Background(), conv, "I spent $12 at McDonald's for lunch yesterday")
			require.NoError(t, err)
			assert.Equal(t, models.StepConfirming, res.NextStep)
			assert.Equal(t, "McDonald's", conv.CurrentExpense.Merchant)
			assert.Equal(t, "2026-10-16", conv.CurrentExpense.Date)
		})
	}
}

func TestStoreOwnership(t *testing.T) {
	s := NewStore(time.Minute)
	owner := uuid.New()
	conv := s.Create(owner)

	assert.Equal(t, models.StepInitial, conv.Step)
	assert.Equal(t, categories.All(), conv.Categories)

	_, err := s.Get(conv.ID, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err := s.Get(conv.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestStoreUpdateKeepsStateOnError(t *testing.T) {
	s := NewStore(time.Minute)
	owner := uuid.New()
	conv := s.Create(owner)

	_, err := s.Update(conv.ID, owner, func(c *models.ConversationContext) error {
		c.Step = models.StepEditing
		c.Messages = append(c.Messages, models.Message{Content: "lost"})
		return errors.New("boom")
	})
	require.Error(t, err)

	got, err := s.Get(conv.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StepInitial, got.Step)
	assert.Empty(t, got.Messages)
}

func TestStoreSerializesTurns(t *testing.T) {
	s := NewStore(time.Minute)
	owner := uuid.New()
	conv := s.Create(owner)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(conv.ID, owner, func(c *models.ConversationContext) error {
				c.Messages = append(c.Messages, models.Message{Role: models.RoleUser, Content: "x"})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(conv.ID, owner)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 20)
}

func TestStoreEvictsIdleSessions(t *testing.T) {
	s := NewStore(time.Minute)
	now := fixedNow
	s.now = func() time.Time { return now }

	owner := uuid.New()
	conv := s.Create(owner)

	now = now.Add(2 * time.Minute)
	_, err := s.Get(conv.ID, owner)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, s.Len())
}
