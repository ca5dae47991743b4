package document

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jeffrey-done/SubScript/internal/models"
)

const dateLayout = "2006-01-02"

// rawTransaction is the model's reply before normalisation. Amount may be a number,
// a string with currency marks, or null.
type rawTransaction struct {
	Amount      json.RawMessage `json:"amount"`
	Date        string          `json:"date"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
}

var (
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	fullDate      = regexp.MustCompile(`^(\d{4})\s*[-/.年]\s*(\d{1,2})\s*[-/.月]\s*(\d{1,2})\s*日?`)

	withdrawalWords = []string{"withdrawal", "withdraw", "提现"}
	incomeWords     = []string{"income", "salary", "refund", "received", "收入", "工资", "退款", "入账", "转入"}
)

func normalize(raw rawTransaction, hint string, now time.Time) models.ParsedTransaction {
	tx := models.ParsedTransaction{
		Amount:      parseAmount(raw.Amount).Abs(),
		Date:        normalizeDate(raw.Date, now),
		Category:    strings.ToLower(strings.TrimSpace(raw.Category)),
		Description: strings.TrimSpace(raw.Description),
		Type:        normalizeType(raw.Type, raw.Description+" "+hint),
	}
	if tx.Category == "" {
		tx.Category = "other"
	}
	return tx
}

func parseAmount(raw json.RawMessage) decimal.Decimal {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.Zero
		}
		s = str
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "，", "")
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	m := numberPattern.FindString(s)
	if m == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// normalizeDate keeps full dates and falls back to today when the year is missing.
func normalizeDate(s string, now time.Time) string {
	today := now.Format(dateLayout)
	m := fullDate.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return today
	}
	t, err := time.Parse("2006-1-2", m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return today
	}
	return t.Format(dateLayout)
}

func normalizeType(s, hint string) models.TransactionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expense", "支出":
		return models.TransactionExpense
	case "income", "收入":
		return models.TransactionIncome
	}
	lower := strings.ToLower(hint)
	for _, w := range withdrawalWords {
		if strings.Contains(lower, w) {
			return models.TransactionExpense
		}
	}
	for _, w := range incomeWords {
		if strings.Contains(lower, w) {
			return models.TransactionIncome
		}
	}
	return models.TransactionExpense
}
