package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/api"
	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/auth"
	"github.com/Jeffrey-done/SubScript/internal/backup"
	"github.com/Jeffrey-done/SubScript/internal/config"
	"github.com/Jeffrey-done/SubScript/internal/models"
	"github.com/Jeffrey-done/SubScript/internal/service/document"
	"github.com/Jeffrey-done/SubScript/internal/storage"
	"github.com/Jeffrey-done/SubScript/internal/syncclient"
)

type stubModel struct {
	chunks []string
	input  []*schema.Message
}

func (s *stubModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(strings.Join(s.chunks, ""), nil), nil
}

func (s *stubModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	s.input = input
	msgs := make([]*schema.Message, 0, len(s.chunks))
	for _, c := range s.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

type fakeImages struct {
	prompt string
	relay  string
}

func (f *fakeImages) Generate(_ context.Context, prompt string, _ models.ModelCredential, relay string) (string, error) {
	f.prompt, f.relay = prompt, relay
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG fake")), nil
}

type fakePantry struct {
	stored map[string]*models.AppData
}

func (f *fakePantry) Upload(_ context.Context, id string, data *models.AppData) error {
	if id == "" {
		return apperr.Configuration("backup.upload", "pantry id is required")
	}
	f.stored[id] = data
	return nil
}

func (f *fakePantry) Download(_ context.Context, id string) (*backup.Backup, error) {
	data, ok := f.stored[id]
	if !ok {
		return nil, apperr.Data("backup.download", "pantry id invalid or backup missing", nil)
	}
	return &backup.Backup{Subscriptions: data.Subscriptions, Budget: data.Budget, LastUpdated: "2025-01-01T00:00:00.000Z"}, nil
}

type fakeDocuments struct {
	result   *document.Result
	clarify  *models.ParsedTransaction
	noteSeen string
}

func (f *fakeDocuments) Analyze(context.Context, []byte, string) (*document.Result, error) {
	return f.result, nil
}

func (f *fakeDocuments) Extract(_ context.Context, text string) (*models.ParsedTransaction, error) {
	return &models.ParsedTransaction{Amount: decimal.RequireFromString("42"), Date: "2025-01-02", Category: "food", Description: text, Type: models.TransactionExpense}, nil
}

func (f *fakeDocuments) Clarify(_ context.Context, _ string, note string) (*models.ParsedTransaction, error) {
	f.noteSeen = note
	return f.clarify, nil
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	var stdout, stderr bytes.Buffer
	a := New(cfg, zap.NewNop(), &stdout, &stderr)
	return a, &stdout, &stderr
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSyncCommandsAgainstGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(auth.NewService(storage.NewMemoryStore(), time.Hour), zap.NewNop())))
	defer srv.Close()

	cfg := &config.Config{Sync: config.SyncConfig{BaseURL: srv.URL}}
	a, stdout, _ := newTestApp(t, cfg)
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"register", "-username", "erin", "-password", "pw"}))
	stdout.Reset()

	t.Setenv("SUBSCRIPT_PASSWORD", "pw")
	require.NoError(t, a.Run(ctx, []string{"login", "-username", "erin"}))
	token := strings.TrimSpace(stdout.String())
	require.Len(t, token, 64)

	payload := `{"subscriptions":[{"id":"1","name":"Bilibili","price":25,"currency":"CNY","cycle":"monthly","startDate":"2025-01-01","category":"video"}]}`
	require.NoError(t, a.Run(ctx, []string{"push", "-token", token, writeFile(t, "data.json", payload)}))

	out := filepath.Join(t.TempDir(), "pulled.json")
	require.NoError(t, a.Run(ctx, []string{"pull", "-token", token, "-o", out}))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))

	err = a.Run(ctx, []string{"pull", "-token", "bogus"})
	assert.True(t, apperr.IsKind(err, apperr.KindAuth))
}

func TestPushRejectsMalformedFile(t *testing.T) {
	a, _, _ := newTestApp(t, &config.Config{Sync: config.SyncConfig{BaseURL: "http://127.0.0.1:1"}})
	err := a.Run(context.Background(), []string{"push", "-token", "t", writeFile(t, "bad.json", `{"budget":{}}`)})
	assert.True(t, apperr.IsKind(err, apperr.KindData))
}

func TestUsageErrors(t *testing.T) {
	a, _, stderr := newTestApp(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, a.Run(ctx, nil), ErrUsage)
	assert.Contains(t, stderr.String(), "usage: subscript <command>")
	assert.ErrorIs(t, a.Run(ctx, []string{"teleport"}), ErrUsage)
	assert.ErrorIs(t, a.Run(ctx, []string{"push"}), ErrUsage)
	assert.ErrorIs(t, a.Run(ctx, []string{"chat"}), ErrUsage)
	assert.ErrorIs(t, a.Run(ctx, []string{"pull", "-nope"}), ErrUsage)
}

func TestMissingSyncURL(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	err := a.Run(context.Background(), []string{"login", "-username", "x", "-password", "y"})
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}

func TestChatStreamsDeltas(t *testing.T) {
	a, stdout, _ := newTestApp(t, nil)
	var gotProvider string
	a.chatModel = func(_ context.Context, provider string) (model.BaseChatModel, error) {
		gotProvider = provider
		return &stubModel{chunks: []string{"你好", "，", "world"}}, nil
	}

	require.NoError(t, a.Run(context.Background(), []string{"chat", "-provider", "openai", "say", "hi"}))
	assert.Equal(t, "openai", gotProvider)
	assert.Equal(t, "你好，world\n", stdout.String())
}

func TestChatAdvisesOnAppData(t *testing.T) {
	a, stdout, _ := newTestApp(t, nil)
	stub := &stubModel{chunks: []string{"少看", "视频"}}
	a.chatModel = func(context.Context, string) (model.BaseChatModel, error) { return stub, nil }

	file := writeFile(t, "appdata.json", `{"subscriptions":[`+
		`{"name":"Netflix","price":30,"currency":"CNY","cycle":"monthly","category":"entertainment"},`+
		`{"name":"iCloud","price":120,"currency":"CNY","cycle":"yearly","category":"software"}],`+
		`"budget":{"monthly":100,"baseSalary":8000,"commission":0}}`)
	require.NoError(t, a.Run(context.Background(), []string{"chat", "-data", file}))
	assert.Equal(t, "少看视频\n", stdout.String())
	require.Len(t, stub.input, 1)
	prompt := stub.input[0].Content
	assert.Contains(t, prompt, "- Fixed spending per month: 40.00 CNY")
	assert.Contains(t, prompt, "- Fixed spending per year: 480.00 CNY")
	assert.Contains(t, prompt, "- Monthly subscription budget: 100 CNY")
	assert.NotContains(t, prompt, "Also answer this question")

	require.NoError(t, a.Run(context.Background(), []string{"chat", "-data", file, "cancel", "iCloud?"}))
	assert.Contains(t, stub.input[0].Content, "Also answer this question: cancel iCloud?")

	bad := writeFile(t, "bad.json", `{"subscriptions":{}}`)
	err := a.Run(context.Background(), []string{"chat", "-data", bad})
	assert.True(t, apperr.IsKind(err, apperr.KindData))
}

func TestChatMissingCredential(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	err := a.Run(context.Background(), []string{"chat", "hello"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}

func TestScanClarifiesWithNote(t *testing.T) {
	a, stdout, _ := newTestApp(t, nil)
	docs := &fakeDocuments{
		result: &document.Result{RawText: "星巴克 拿铁", NeedsClarification: true},
		clarify: &models.ParsedTransaction{
			Amount: decimal.RequireFromString("36.5"), Date: "2025-01-02", Category: "food", Type: models.TransactionExpense,
		},
	}
	a.documents = func(context.Context) (documentAPI, error) { return docs, nil }

	img := writeFile(t, "receipt.png", "\x89PNG\r\n\x1a\nfake")
	require.NoError(t, a.Run(context.Background(), []string{"scan", "-note", "36.5元", img}))
	assert.Equal(t, "36.5元", docs.noteSeen)

	var out struct {
		RawText            string                   `json:"rawText"`
		Transaction        models.ParsedTransaction `json:"transaction"`
		NeedsClarification bool                     `json:"needsClarification"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, "星巴克 拿铁", out.RawText)
	assert.True(t, out.Transaction.Amount.Equal(decimal.RequireFromString("36.5")))
	assert.False(t, out.NeedsClarification)
}

func TestExtract(t *testing.T) {
	a, stdout, _ := newTestApp(t, nil)
	a.documents = func(context.Context) (documentAPI, error) { return &fakeDocuments{}, nil }

	require.NoError(t, a.Run(context.Background(), []string{"extract", "午饭", "42元"}))
	assert.Contains(t, stdout.String(), `"description": "午饭 42元"`)
	assert.Contains(t, stdout.String(), `"needsClarification": false`)
}

func TestImageWritesPNG(t *testing.T) {
	cfg := &config.Config{Spark: config.SparkConfig{RelayURL: "https://relay.example"}}
	a, stdout, _ := newTestApp(t, cfg)
	images := &fakeImages{}
	a.images = images

	out := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, a.Run(context.Background(), []string{"image", "-o", out, "a", "cat"}))
	assert.Equal(t, "a cat", images.prompt)
	assert.Equal(t, "https://relay.example", images.relay)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(got))

	require.NoError(t, a.Run(context.Background(), []string{"image", "dog"}))
	assert.True(t, strings.HasPrefix(stdout.String(), "data:image/png;base64,"))
}

func TestBackupAndRestore(t *testing.T) {
	cfg := &config.Config{Pantry: config.PantryConfig{PantryID: "pantry-1"}}
	a, stdout, _ := newTestApp(t, cfg)
	a.pantry = &fakePantry{stored: map[string]*models.AppData{}}
	ctx := context.Background()

	file := writeFile(t, "data.json", `{"subscriptions":[{"id":"1","name":"QQ Music","price":15,"currency":"CNY","cycle":"monthly"}],"budget":{"monthly":500}}`)
	require.NoError(t, a.Run(ctx, []string{"backup", file}))
	assert.Contains(t, stdout.String(), "backed up 1 subscriptions")
	stdout.Reset()

	require.NoError(t, a.Run(ctx, []string{"restore"}))
	data, err := syncclient.DecodeAppData("test", stdout.Bytes())
	require.NoError(t, err)
	require.Len(t, data.Subscriptions, 1)
	assert.Equal(t, "QQ Music", data.Subscriptions[0].Name)

	err = a.Run(ctx, []string{"restore", "-pantry", "other"})
	assert.True(t, apperr.IsKind(err, apperr.KindData))
}

func TestScanMultipleFiles(t *testing.T) {
	a, stdout, _ := newTestApp(t, nil)
	docs := &fakeDocuments{result: &document.Result{
		RawText:     "便利店 12.00",
		Transaction: models.ParsedTransaction{Amount: decimal.RequireFromString("12"), Category: "food", Type: models.TransactionExpense},
	}}
	a.documents = func(context.Context) (documentAPI, error) { return docs, nil }

	first := writeFile(t, "a.png", "\x89PNG\r\n\x1a\na")
	second := writeFile(t, "b.png", "\x89PNG\r\n\x1a\nb")
	missing := filepath.Join(t.TempDir(), "missing.png")

	require.NoError(t, a.Run(context.Background(), []string{"scan", "-workers", "2", first, missing, second}))

	var outs []scanOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &outs))
	require.Len(t, outs, 3)
	assert.Equal(t, first, outs[0].File)
	assert.Equal(t, "便利店 12.00", outs[0].RawText)
	assert.False(t, outs[0].NeedsClarification)
	assert.Equal(t, missing, outs[1].File)
	assert.NotEmpty(t, outs[1].Error)
	assert.True(t, outs[1].NeedsClarification)
	assert.Equal(t, second, outs[2].File)

	assert.ErrorIs(t, a.Run(context.Background(), []string{"scan", "-note", "x", first, second}), ErrUsage)
}

func TestChatProviderNameIgnoresCase(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"OpenAI": {APIKey: "sk-test", Model: "gpt-4o-mini"},
	}}
	a, _, _ := newTestApp(t, cfg)
	ctx := context.Background()

	m, err := a.chatModel(ctx, "openai")
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = a.chatModel(ctx, " OPENAI ")
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = a.chatModel(ctx, "gemini")
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}
