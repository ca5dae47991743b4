// Package cli implements the subscript operator command: account sync, backups, chat,
// receipt scanning and image generation driven by the config file.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/backup"
	"github.com/Jeffrey-done/SubScript/internal/config"
	"github.com/Jeffrey-done/SubScript/internal/models"
	"github.com/Jeffrey-done/SubScript/internal/service/ai"
	"github.com/Jeffrey-done/SubScript/internal/service/document"
	"github.com/Jeffrey-done/SubScript/internal/spark"
	"github.com/Jeffrey-done/SubScript/internal/syncclient"
)

// ErrUsage reports a malformed command line. Usage text has already been printed.
var ErrUsage = errors.New("usage error")

type syncAPI interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (string, error)
	Push(ctx context.Context, token string, blob json.RawMessage) error
	Pull(ctx context.Context, token string) (json.RawMessage, error)
}

type backupAPI interface {
	Upload(ctx context.Context, pantryID string, data *models.AppData) error
	Download(ctx context.Context, pantryID string) (*backup.Backup, error)
}

type imageAPI interface {
	Generate(ctx context.Context, prompt string, cred models.ModelCredential, relayBaseURL string) (string, error)
}

type documentAPI interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (*document.Result, error)
	Extract(ctx context.Context, text string) (*models.ParsedTransaction, error)
	Clarify(ctx context.Context, rawText, note string) (*models.ParsedTransaction, error)
}

// App holds the clients a command may need. Each is built once from the config.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer

	sync      syncAPI
	pantry    backupAPI
	images    imageAPI
	chatModel func(ctx context.Context, provider string) (model.BaseChatModel, error)
	documents func(ctx context.Context) (documentAPI, error)
}

type command struct {
	usage string
	run   func(a *App, ctx context.Context, fs *flag.FlagSet, args []string) error
}

var commands = map[string]command{
	"register": {"register -username NAME -password PASS", (*App).register},
	"login":    {"login -username NAME -password PASS", (*App).login},
	"push":     {"push [-token TOKEN] <file>", (*App).push},
	"pull":     {"pull [-token TOKEN] [-o FILE]", (*App).pull},
	"chat":     {"chat [-provider NAME] [-data FILE] [prompt]", (*App).chat},
	"scan":     {"scan [-note TEXT] [-workers N] <image>...", (*App).scan},
	"extract":  {"extract <text>", (*App).extract},
	"image":    {"image [-o FILE] <prompt>", (*App).image},
	"backup":   {"backup [-pantry ID] <file>", (*App).backup},
	"restore":  {"restore [-pantry ID] [-o FILE]", (*App).restore},
}

// New wires the production clients from cfg.
func New(cfg *config.Config, logger *zap.Logger, stdout, stderr io.Writer) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	sparkClient := spark.NewClient(
		spark.WithLogger(logger),
		spark.WithEndpoints(cfg.Spark.ChatURL, cfg.Spark.VisionURL),
	)
	a := &App{
		cfg:    cfg,
		logger: logger,
		stdout: stdout,
		stderr: stderr,
		sync:   syncclient.New(cfg.Sync.BaseURL, syncclient.WithTimeout(cfg.SyncTimeout())),
		pantry: backup.NewPantryClient(),
		images: spark.NewImageClient(nil, cfg.Spark.ImageURL, logger),
	}
	a.chatModel = func(ctx context.Context, provider string) (model.BaseChatModel, error) {
		provider = strings.ToLower(strings.TrimSpace(provider))
		return ai.NewChatModel(ctx, provider, providerConfig(cfg, provider), sparkClient, cfg.Spark.Chat)
	}
	a.documents = func(ctx context.Context) (documentAPI, error) {
		extractor, err := a.chatModel(ctx, cfg.Spark.ExtractionWith)
		if err != nil {
			return nil, err
		}
		p := document.NewPipeline(sparkClient, cfg.Spark.Vision, extractor, logger)
		if cfg.Spark.MinOCRLength > 0 {
			p.MinTextLength = cfg.Spark.MinOCRLength
		}
		return p, nil
	}
	return a
}

// providerConfig looks name up in the providers section, ignoring the case of the keys.
func providerConfig(cfg *config.Config, name string) config.ProviderConfig {
	if p, ok := cfg.Providers[name]; ok {
		return p
	}
	for key, p := range cfg.Providers {
		if strings.EqualFold(key, name) {
			return p
		}
	}
	return config.ProviderConfig{}
}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage()
		return ErrUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(a.stderr, "unknown command %q\n", args[0])
		a.usage()
		return ErrUsage
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() { fmt.Fprintf(a.stderr, "usage: subscript %s\n", cmd.usage) }
	return cmd.run(a, ctx, fs, args[1:])
}

func (a *App) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(a.stderr, "usage: subscript <command> [flags]")
	for _, name := range names {
		fmt.Fprintf(a.stderr, "  %s\n", commands[name].usage)
	}
}

// parse parses flags and requires exactly want positional arguments.
func parse(fs *flag.FlagSet, args []string, want int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, ErrUsage
	}
	rest := fs.Args()
	if want >= 0 && len(rest) != want {
		fs.Usage()
		return nil, ErrUsage
	}
	return rest, nil
}

// writeOutput writes data to path, or to stdout when path is empty.
func (a *App) writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := a.stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(a.stderr, "wrote %s\n", path)
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
