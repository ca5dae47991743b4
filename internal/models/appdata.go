package models

import "encoding/json"

// AppData is the typed view of a sync blob. The backend stores it opaquely.
type AppData struct {
	Subscriptions []Subscription  `json:"subscriptions"`
	Budget        json.RawMessage `json:"budget,omitempty"`
	RestDays      []string        `json:"restDays,omitempty"`
	AIConfig      json.RawMessage `json:"aiConfig,omitempty"`
	Transactions  []Transaction   `json:"transactions,omitempty"`
	LastUpdated   int64           `json:"lastUpdated,omitempty"`
}

type Subscription struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Cycle       string  `json:"cycle"`
	StartDate   string  `json:"startDate"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	LogoURL     string  `json:"logoUrl,omitempty"`
}

type Transaction struct {
	ID          string          `json:"id"`
	Amount      float64         `json:"amount"`
	Date        string          `json:"date"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Type        TransactionType `json:"type"`
}
