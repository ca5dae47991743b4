package advisor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

type recordingModel struct {
	prompts []string
}

func (m *recordingModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("", nil), nil
}

func (m *recordingModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	for _, msg := range input {
		m.prompts = append(m.prompts, msg.Content)
	}
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("建议", nil),
		schema.AssistantMessage("取消重复订阅", nil),
	}), nil
}

var sample = []models.Subscription{
	{Name: "Netflix", Price: 30, Currency: "CNY", Cycle: "monthly", Category: "entertainment"},
	{Name: "iCloud", Price: 120, Currency: "CNY", Cycle: "yearly", Category: "software"},
	{Name: "Gym", Price: 10, Currency: "CNY", Cycle: "weekly", Category: ""},
}

func TestSummarize(t *testing.T) {
	totals := Summarize(sample)

	assert.Equal(t, "83.30", totals.Monthly.StringFixed(2))
	assert.Equal(t, "1000.00", totals.Yearly.StringFixed(2))
	assert.True(t, totals.ByCategory["software"].Equal(decimal.NewFromInt(10)))
	assert.True(t, totals.ByCategory["other"].Equal(decimal.RequireFromString("43.3")))
}

func TestPrompt(t *testing.T) {
	data := &models.AppData{
		Subscriptions: sample,
		Budget:        json.RawMessage(`{"monthly":200,"yearly":2400,"baseSalary":8000,"commission":1500,"payday":10}`),
	}
	prompt, err := Prompt(data)
	require.NoError(t, err)

	for _, want := range []string{
		"- Subscriptions: 3",
		"- Fixed spending per month: 83.30 CNY",
		"- Fixed spending per year: 1000.00 CNY",
		"entertainment: 30.00, other: 43.30, software: 10.00",
		"- Base salary: 8000 CNY",
		"- Commission: 1500 CNY",
		"- Monthly subscription budget: 200 CNY",
		"- iCloud (software): 120 CNY/yearly",
		"Simplified Chinese",
	} {
		assert.Contains(t, prompt, want)
	}
}

func TestPromptRejectsEmptyData(t *testing.T) {
	_, err := Prompt(&models.AppData{})
	assert.True(t, apperr.IsKind(err, apperr.KindData))

	_, err = Prompt(&models.AppData{Subscriptions: sample, Budget: json.RawMessage(`{"monthly":"lots"}`)})
	assert.True(t, apperr.IsKind(err, apperr.KindData))
}

func TestAnalyzeStreamsAdvice(t *testing.T) {
	m := &recordingModel{}
	var deltas []string
	full, err := Analyze(context.Background(), m, &models.AppData{Subscriptions: sample}, "Should I keep the gym?", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "建议取消重复订阅", full)
	assert.Equal(t, []string{"建议", "取消重复订阅"}, deltas)
	require.Len(t, m.prompts, 1)
	assert.True(t, strings.HasSuffix(m.prompts[0], "Also answer this question: Should I keep the gym?\n"))
	assert.Contains(t, m.prompts[0], "- Base salary: 0 CNY")
}
