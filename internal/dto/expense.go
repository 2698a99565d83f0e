package dto

// CategorizeRequest is one expense to categorize. Amount is a decimal string
// or number; Date is YYYY-MM-DD.
type CategorizeRequest struct {
	Merchant    string `json:"merchant"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type CategorizeBatchRequest struct {
	Expenses []CategorizeRequest `json:"expenses"`
}

type CategorizeResponse struct {
	Category               string  `json:"category"`
	Confidence             float64 `json:"confidence"`
	Reasoning              string  `json:"reasoning"`
	SuggestedPaymentMethod string  `json:"suggestedPaymentMethod"`
}

type CategorizeBatchResponse struct {
	Results []CategorizeResponse `json:"results"`
}

type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type CategoryResponse struct {
	Name           string   `json:"name"`
	PaymentMethods []string `json:"paymentMethods"`
}

type CategoriesResponse struct {
	Categories     []CategoryResponse `json:"categories"`
	PaymentMethods []string           `json:"paymentMethods"`
}

// CreateExpenseRequest saves a user-confirmed expense.
type CreateExpenseRequest struct {
	Merchant      string   `json:"merchant"`
	Amount        string   `json:"amount"`
	Currency      string   `json:"currency,omitempty"`
	Date          string   `json:"date,omitempty"`
	Description   string   `json:"description,omitempty"`
	Category      string   `json:"category,omitempty"`
	PaymentMethod string   `json:"paymentMethod,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Source        string   `json:"source,omitempty"`
	ArtifactID    string   `json:"artifactId,omitempty"`
}

type ExpenseResponse struct {
	ID            string  `json:"id"`
	ArtifactID    string  `json:"artifactId,omitempty"`
	Merchant      string  `json:"merchant"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Display       string  `json:"display"`
	Date          string  `json:"date"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"paymentMethod"`
	Notes         string  `json:"notes,omitempty"`
	Confidence    float64 `json:"confidence"`
	Source        string  `json:"source"`
	CreatedAt     string  `json:"createdAt"`
}
