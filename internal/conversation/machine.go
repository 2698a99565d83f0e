// Package conversation runs the chat flow that collects one expense from free
// text: initial → collecting → confirming ⇄ editing → complete.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"expense-intake/internal/categories"
	"expense-intake/internal/extractor"
	"expense-intake/internal/llm"
	"expense-intake/internal/models"
	"expense-intake/pkg/config"

	"go.uber.org/zap"
)

var (
	ErrConversationComplete = errors.New("conversation is already complete")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrInvalidTurn          = errors.New("invalid turn from provider")
)

const defaultHistoryLimit = 10

// Machine advances a ConversationContext by one user message per Turn. With
// a completer it asks the provider for the turn and falls back to the local
// parser whenever the reply is unusable.
type Machine struct {
	completer    llm.Completer
	categorizer  *extractor.Categorizer
	parser       *Parser
	historyLimit int
	timeout      time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewMachine(completer llm.Completer, categorizer *extractor.Categorizer, cfg *config.ChatConfig, llmCfg *config.LLMConfig, logger *zap.Logger) *Machine {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Machine{
		completer:    completer,
		categorizer:  categorizer,
		parser:       NewParser(time.Now),
		historyLimit: limit,
		timeout:      llmCfg.Timeout,
		now:          time.Now,
		logger:       logger,
	}
}

// WithClock fixes the clock used for relative dates and timestamps.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	m.parser = NewParser(now)
	return m
}

// Turn records text, computes the next step and applies the extracted fields
// to conv. conv is only modified when the turn succeeds.
func (m *Machine) Turn(ctx context.Context, conv *models.ConversationContext, text string) (models.TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.TurnResult{}, ErrEmptyMessage
	}
	if conv.Step.Terminal() {
		return models.TurnResult{}, ErrConversationComplete
	}
	if !conv.Step.Valid() {
		conv.Step = models.StepInitial
	}

	now := m.now()
	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleUser, Content: text, CreatedAt: now})

	var (
		res models.TurnResult
		err error
	)
	if m.completer != nil {
		res, err = m.remote(ctx, conv)
		if err != nil {
			m.logger.Warn("Provider chat turn failed, using local parser",
				zap.String("provider", m.completer.Name()),
				zap.String("conversationId", conv.ID.String()),
				zap.Error(err),
			)
		}
	}
	if m.completer == nil || err != nil {
		res = m.deterministic(ctx, conv, text)
	}

	conv.CurrentExpense = conv.CurrentExpense.Merge(res.ExtractedData)
	conv.Step = res.NextStep
	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleAssistant, Content: res.Message, CreatedAt: now})
	conv.UpdatedAt = now

	m.logger.Debug("Conversation turn",
		zap.String("conversationId", conv.ID.String()),
		zap.String("step", string(res.NextStep)),
		zap.Bool("complete", res.IsComplete),
	)
	return res, nil
}

func (m *Machine) deterministic(ctx context.Context, conv *models.ConversationContext, text string) models.TurnResult {
	update := m.parser.Extract(text)
	if conv.Step == models.StepCollecting && update.Amount == "" && update.Merchant == "" {
		if missing := conv.CurrentExpense.Missing(); len(missing) == 1 {
			update = update.Merge(m.parser.Answer(text, missing[0]))
		}
	}
	intent := Classify(text)
	if conv.Step == models.StepConfirming && intent == IntentAffirmative && onlyDescription(update) {
		update = models.ExpenseDraft{}
	}
	draft := conv.CurrentExpense.Merge(update)

	switch conv.Step {
	case models.StepConfirming:
		switch intent {
		case IntentNegative:
			return models.TurnResult{
				Message:          "No problem. What would you like to change? You can tell me a new amount, merchant, date, category or payment method.",
				ExtractedData:    update,
				NextStep:         models.StepEditing,
				NeedsUserInput:   true,
				SuggestedActions: []string{"Change amount", "Change category", "Change date"},
			}
		case IntentAffirmative:
			if update.IsEmpty() {
				return models.TurnResult{
					Message:       "Saved: " + summary(draft) + ".",
					ExtractedData: update,
					NextStep:      models.StepComplete,
					IsComplete:    true,
				}
			}
		}
		return m.confirm(ctx, draft, update)

	case models.StepEditing:
		if !update.IsEmpty() || intent == IntentAffirmative {
			if len(draft.Missing()) > 0 {
				return collect(update, draft)
			}
			return m.confirm(ctx, draft, update)
		}
		return models.TurnResult{
			Message:        "I didn't catch a change. Tell me the new value, for example \"amount $15\" or \"category travel\".",
			ExtractedData:  update,
			NextStep:       models.StepEditing,
			NeedsUserInput: true,
		}

	default:
		if len(draft.Missing()) > 0 {
			return collect(update, draft)
		}
		return m.confirm(ctx, draft, update)
	}
}

// confirm proposes a category and payment method when the user gave none and
// asks for confirmation of the merged draft.
func (m *Machine) confirm(ctx context.Context, draft, update models.ExpenseDraft) models.TurnResult {
	if draft.Category == "" {
		amount, _ := extractor.ParseAmount(draft.Amount)
		ec := models.ExpenseContext{
			Merchant:    draft.Merchant,
			Amount:      amount,
			Currency:    models.NormalizeCurrency(draft.Currency),
			Description: draft.Description,
			Notes:       draft.Notes,
		}
		var res models.ExtractionResult
		if m.categorizer != nil {
			res = m.categorizer.Categorize(ctx, ec)
		} else {
			res = extractor.NewRuleExtractor().Categorize(ec)
		}
		update.Category = res.Category
		draft.Category = res.Category
		if draft.PaymentMethod == "" && res.SuggestedPaymentMethod != "" {
			update.PaymentMethod = res.SuggestedPaymentMethod
			draft.PaymentMethod = res.SuggestedPaymentMethod
		}
	}
	if draft.Date == "" {
		update.Date = m.now().Format(extractor.DateLayout)
		draft.Date = update.Date
	}

	return models.TurnResult{
		Message:          "Got it: " + summary(draft) + ". Should I save it?",
		ExtractedData:    update,
		NextStep:         models.StepConfirming,
		NeedsUserInput:   true,
		SuggestedActions: []string{"Save", "Change category", "Edit details"},
	}
}

func collect(update, draft models.ExpenseDraft) models.TurnResult {
	missing := draft.Missing()
	var msg string
	switch {
	case len(missing) == 2:
		msg = "Tell me about the expense: how much did you spend and where?"
	case missing[0] == "amount":
		msg = fmt.Sprintf("How much did you spend at %s?", draft.Merchant)
	default:
		msg = "Where did you spend it?"
	}
	return models.TurnResult{
		Message:        msg,
		ExtractedData:  update,
		NextStep:       models.StepCollecting,
		NeedsUserInput: true,
	}
}

func summary(d models.ExpenseDraft) string {
	var b strings.Builder
	amount, _ := extractor.ParseAmount(d.Amount)
	b.WriteString(models.FormatAmount(amount, models.NormalizeCurrency(d.Currency)))
	if d.Merchant != "" {
		b.WriteString(" at ")
		b.WriteString(d.Merchant)
	}
	if d.Description != "" {
		b.WriteString(" for ")
		b.WriteString(d.Description)
	}
	if d.Date != "" {
		b.WriteString(" on ")
		b.WriteString(d.Date)
	}
	if d.Category != "" {
		b.WriteString(", category ")
		b.WriteString(d.Category)
	}
	if d.PaymentMethod != "" {
		b.WriteString(", paid by ")
		b.WriteString(d.PaymentMethod)
	}
	return b.String()
}

var turnTool = &llm.Tool{
	Name:        "expense_chat_turn",
	Description: "Reply to the user and record any expense details from their latest message",
	Params: []llm.Param{
		{Name: "message", Type: "string", Required: true, Description: "Reply shown to the user."},
		{Name: "nextStep", Type: "string", Required: true, Enum: []string{
			string(models.StepCollecting), string(models.StepConfirming), string(models.StepEditing), string(models.StepComplete),
		}, Description: "Conversation step after this reply."},
		{Name: "isComplete", Type: "boolean", Required: true, Description: "True only when the user confirmed the expense."},
		{Name: "needsUserInput", Type: "boolean", Required: true, Description: "True when the reply asks the user something."},
		{Name: "merchant", Type: "string", Description: "Merchant named in the latest message."},
		{Name: "amount", Type: "number", Description: "Amount named in the latest message."},
		{Name: "currency", Type: "string", Description: "ISO 4217 currency code."},
		{Name: "date", Type: "string", Description: "Expense date as YYYY-MM-DD."},
		{Name: "description", Type: "string", Description: "What the expense was for."},
		{Name: "category", Type: "string", Enum: categories.All(), Description: "Expense category."},
		{Name: "paymentMethod", Type: "string", Enum: categories.PaymentMethods(), Description: "Payment method."},
		{Name: "notes", Type: "string", Description: "Anything else worth keeping."},
	},
}

func (m *Machine) remote(ctx context.Context, conv *models.ConversationContext) (models.TurnResult, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	history := conv.Recent(m.historyLimit)
	msgs := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		role := llm.RoleUser
		if msg.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: msg.Content})
	}

	draft, _ := json.Marshal(conv.CurrentExpense)
	system := fmt.Sprintf(`You help the user record one expense through conversation.
Today is %s. The current step is %q and the expense so far is %s.
Collect at least the amount and the merchant, then summarize and ask for confirmation (nextStep "confirming").
If the user rejects the summary use nextStep "editing". Use nextStep "complete" only after the user confirms.
Categories: %s.`,
		m.now().Format(extractor.DateLayout), conv.Step, draft, strings.Join(categories.All(), ", "))

	content, err := m.completer.Complete(ctx, llm.Request{System: system, Messages: msgs, Tool: turnTool})
	if err != nil {
		return models.TurnResult{}, err
	}

	res, err := parseTurn(content)
	if err != nil {
		return models.TurnResult{}, err
	}
	if res.NextStep == models.StepComplete && len(conv.CurrentExpense.Merge(res.ExtractedData).Missing()) > 0 {
		return models.TurnResult{}, fmt.Errorf("%w: complete without amount and merchant", ErrInvalidTurn)
	}
	return res, nil
}

type turnPayload struct {
	Message          *string        `json:"message"`
	NextStep         *string        `json:"nextStep"`
	IsComplete       bool           `json:"isComplete"`
	NeedsUserInput   bool           `json:"needsUserInput"`
	SuggestedActions []string       `json:"suggestedActions"`
	ExtractedData    map[string]any `json:"extractedData"`
}

// parseTurn accepts the extracted fields either nested under extractedData or
// flat next to message.
func parseTurn(content string) (models.TurnResult, error) {
	raw, err := llm.ExtractJSONObject(content)
	if err != nil {
		return models.TurnResult{}, err
	}
	var p turnPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.TurnResult{}, fmt.Errorf("%w: %v", ErrInvalidTurn, err)
	}
	if p.Message == nil || strings.TrimSpace(*p.Message) == "" || p.NextStep == nil {
		return models.TurnResult{}, fmt.Errorf("%w: message and nextStep are required", ErrInvalidTurn)
	}
	step := models.Step(strings.ToLower(strings.TrimSpace(*p.NextStep)))
	if !step.Valid() || step == models.StepInitial {
		return models.TurnResult{}, fmt.Errorf("%w: unknown step %q", ErrInvalidTurn, *p.NextStep)
	}

	fields := p.ExtractedData
	if fields == nil {
		_ = json.Unmarshal([]byte(raw), &fields)
	}

	return models.TurnResult{
		Message:          strings.TrimSpace(*p.Message),
		ExtractedData:    draftFromFields(extractor.FieldsFromMap(fields)),
		NextStep:         step,
		IsComplete:       step == models.StepComplete,
		NeedsUserInput:   step != models.StepComplete && p.NeedsUserInput,
		SuggestedActions: p.SuggestedActions,
	}, nil
}

// draftFromFields keeps only the values that normalize cleanly.
func draftFromFields(f extractor.ReceiptFields) models.ExpenseDraft {
	d := models.ExpenseDraft{
		Merchant:    f.Merchant,
		Description: f.Description,
		Notes:       f.Notes,
	}
	if amount, ok := extractor.ParseAmount(f.Amount); ok {
		d.Amount = amount.String()
	}
	if f.Currency != "" {
		d.Currency = models.NormalizeCurrency(f.Currency)
	}
	if t, ok := extractor.ParseDate(f.Date); ok {
		d.Date = t.Format(extractor.DateLayout)
	}
	if c, ok := categories.Lookup(f.Category); ok {
		d.Category = c
	}
	if pm, ok := categories.LookupPaymentMethod(f.PaymentMethod); ok {
		d.PaymentMethod = pm
	}
	return d
}

// onlyDescription reports an update whose single field is a description.
func onlyDescription(d models.ExpenseDraft) bool {
	if d.Description == "" {
		return false
	}
	d.Description = ""
	return d.IsEmpty()
}
