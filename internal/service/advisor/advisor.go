// Package advisor turns the synced subscriptions and budget into a financial-advice prompt
// and streams the model's assessment.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
	"github.com/Jeffrey-done/SubScript/internal/service/ai"
)

var (
	weeksPerMonth = decimal.RequireFromString("4.33")
	twelve        = decimal.NewFromInt(12)
	fiftyTwo      = decimal.NewFromInt(52)
)

// Budget is the part of the budget document the prompt reports.
type Budget struct {
	Monthly    decimal.Decimal `json:"monthly"`
	BaseSalary decimal.Decimal `json:"baseSalary"`
	Commission decimal.Decimal `json:"commission"`
}

// Totals is the recurring spending normalised per month and per year.
type Totals struct {
	Monthly    decimal.Decimal
	Yearly     decimal.Decimal
	ByCategory map[string]decimal.Decimal
}

// Summarize normalises each subscription by its billing cycle. Unknown cycles count as monthly.
func Summarize(subs []models.Subscription) Totals {
	t := Totals{ByCategory: make(map[string]decimal.Decimal)}
	for _, s := range subs {
		price := decimal.NewFromFloat(s.Price)
		var monthly, yearly decimal.Decimal
		switch s.Cycle {
		case "yearly":
			monthly, yearly = price.Div(twelve), price
		case "weekly":
			monthly, yearly = price.Mul(weeksPerMonth), price.Mul(fiftyTwo)
		default:
			monthly, yearly = price, price.Mul(twelve)
		}
		t.Monthly = t.Monthly.Add(monthly)
		t.Yearly = t.Yearly.Add(yearly)
		category := s.Category
		if category == "" {
			category = "other"
		}
		t.ByCategory[category] = t.ByCategory[category].Add(monthly)
	}
	return t
}

// Prompt renders the advisor request for data.
func Prompt(data *models.AppData) (string, error) {
	const op = "advisor.prompt"
	if data == nil || len(data.Subscriptions) == 0 {
		return "", apperr.Data(op, "no subscriptions to analyze", nil)
	}
	var budget Budget
	if len(data.Budget) > 0 && string(data.Budget) != "null" {
		if err := json.Unmarshal(data.Budget, &budget); err != nil {
			return "", apperr.Data(op, "budget has unexpected field types", err)
		}
	}
	totals := Summarize(data.Subscriptions)

	categories := make([]string, 0, len(totals.ByCategory))
	for name := range totals.ByCategory {
		categories = append(categories, name)
	}
	sort.Strings(categories)
	breakdown := make([]string, 0, len(categories))
	for _, name := range categories {
		breakdown = append(breakdown, fmt.Sprintf("%s: %s", name, totals.ByCategory[name].StringFixed(2)))
	}

	var b strings.Builder
	b.WriteString("Act as a professional financial advisor. Review my recurring subscriptions and budget, assess my financial health and suggest ways to save money.\n\n")
	b.WriteString("My data:\n")
	fmt.Fprintf(&b, "- Subscriptions: %d\n", len(data.Subscriptions))
	fmt.Fprintf(&b, "- Fixed spending per month: %s CNY\n", totals.Monthly.StringFixed(2))
	fmt.Fprintf(&b, "- Fixed spending per year: %s CNY\n", totals.Yearly.StringFixed(2))
	fmt.Fprintf(&b, "- Monthly spending by category: %s\n", strings.Join(breakdown, ", "))
	fmt.Fprintf(&b, "- Base salary: %s CNY\n", budget.BaseSalary.String())
	fmt.Fprintf(&b, "- Commission: %s CNY\n", budget.Commission.String())
	fmt.Fprintf(&b, "- Monthly subscription budget: %s CNY\n\n", budget.Monthly.String())
	b.WriteString("Subscriptions:\n")
	for _, s := range data.Subscriptions {
		fmt.Fprintf(&b, "- %s (%s): %s %s/%s\n", s.Name, s.Category, decimal.NewFromFloat(s.Price).String(), s.Currency, s.Cycle)
	}
	b.WriteString("\nPlease give:\n")
	b.WriteString("1. A short assessment of my recurring expenses.\n")
	b.WriteString("2. Where I am likely overspending.\n")
	b.WriteString("3. Three to five concrete, actionable saving tips.\n")
	b.WriteString("Keep the tone professional and encouraging, and answer in Simplified Chinese (简体中文).\n")
	return b.String(), nil
}

// Analyze streams the advice for data. A non-empty question is appended to the request.
func Analyze(ctx context.Context, chatModel model.BaseChatModel, data *models.AppData, question string, onDelta func(string) error) (string, error) {
	prompt, err := Prompt(data)
	if err != nil {
		return "", err
	}
	if q := strings.TrimSpace(question); q != "" {
		prompt += "\nAlso answer this question: " + q + "\n"
	}
	return ai.StreamChat(ctx, chatModel, []*schema.Message{schema.UserMessage(prompt)}, onDelta)
}
