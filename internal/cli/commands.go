package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
	"github.com/Jeffrey-done/SubScript/internal/service/advisor"
	"github.com/Jeffrey-done/SubScript/internal/service/ai"
	"github.com/Jeffrey-done/SubScript/internal/syncclient"
	"github.com/Jeffrey-done/SubScript/internal/worker"
)

func credentialFlags(fs *flag.FlagSet) (*string, *string) {
	username := fs.String("username", "", "account name")
	password := fs.String("password", "", "account password (falls back to $SUBSCRIPT_PASSWORD)")
	return username, password
}

func passwordOrEnv(p string) string {
	if p != "" {
		return p
	}
	return os.Getenv("SUBSCRIPT_PASSWORD")
}

func (a *App) register(ctx context.Context, fs *flag.FlagSet, args []string) error {
	username, password := credentialFlags(fs)
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	if err := a.sync.Register(ctx, *username, passwordOrEnv(*password)); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "registered %s\n", *username)
	return nil
}

func (a *App) login(ctx context.Context, fs *flag.FlagSet, args []string) error {
	username, password := credentialFlags(fs)
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	token, err := a.sync.Login(ctx, *username, passwordOrEnv(*password))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, token)
	return nil
}

func (a *App) tokenFlag(fs *flag.FlagSet) *string {
	return fs.String("token", a.cfg.Sync.Token, "session token (default sync.token)")
}

func (a *App) push(ctx context.Context, fs *flag.FlagSet, args []string) error {
	token := a.tokenFlag(fs)
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	blob, err := os.ReadFile(rest[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", rest[0], err)
	}
	if _, err := syncclient.DecodeAppData("cli.push", blob); err != nil {
		return err
	}
	if err := a.sync.Push(ctx, *token, blob); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "pushed %d bytes\n", len(blob))
	return nil
}

func (a *App) pull(ctx context.Context, fs *flag.FlagSet, args []string) error {
	token := a.tokenFlag(fs)
	out := fs.String("o", "", "output file (default stdout)")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	blob, err := a.sync.Pull(ctx, *token)
	if err != nil {
		return err
	}
	if blob == nil {
		fmt.Fprintln(a.stderr, "no data on server")
		return nil
	}
	return a.writeOutput(*out, blob)
}

func (a *App) chat(ctx context.Context, fs *flag.FlagSet, args []string) error {
	provider := fs.String("provider", "spark", "chat provider: spark, openai, gemini or claude")
	dataFile := fs.String("data", "", "app data file; asks for financial advice on it")
	rest, err := parse(fs, args, -1)
	if err != nil {
		return err
	}
	prompt := joinArgs(rest)
	if prompt == "" && *dataFile == "" {
		fs.Usage()
		return ErrUsage
	}
	var data *models.AppData
	if *dataFile != "" {
		blob, err := os.ReadFile(*dataFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", *dataFile, err)
		}
		if data, err = syncclient.DecodeAppData("cli.chat", blob); err != nil {
			return err
		}
	}
	chatModel, err := a.chatModel(ctx, *provider)
	if err != nil {
		return err
	}
	write := func(delta string) error {
		_, werr := fmt.Fprint(a.stdout, delta)
		return werr
	}
	if data != nil {
		_, err = advisor.Analyze(ctx, chatModel, data, prompt, write)
	} else {
		_, err = ai.StreamChat(ctx, chatModel, []*schema.Message{schema.UserMessage(prompt)}, write)
	}
	fmt.Fprintln(a.stdout)
	return err
}

type scanOutput struct {
	File               string                    `json:"file,omitempty"`
	RawText            string                    `json:"rawText,omitempty"`
	Transaction        *models.ParsedTransaction `json:"transaction,omitempty"`
	NeedsClarification bool                      `json:"needsClarification"`
	Error              string                    `json:"error,omitempty"`
}

func (a *App) scan(ctx context.Context, fs *flag.FlagSet, args []string) error {
	note := fs.String("note", "", "clarification used when a single receipt lacks an amount")
	workers := fs.Int("workers", 4, "receipts scanned concurrently")
	files, err := parse(fs, args, -1)
	if err != nil {
		return err
	}
	if len(files) == 0 || (*note != "" && len(files) > 1) {
		fs.Usage()
		return ErrUsage
	}
	pipeline, err := a.documents(ctx)
	if err != nil {
		return err
	}
	if len(files) == 1 {
		out, err := a.scanOne(ctx, pipeline, files[0], *note)
		if err != nil {
			return err
		}
		out.File = ""
		return a.printJSON(out)
	}

	pool := worker.NewPool(0, *workers, 0, a.logger)
	outputs := make([]*scanOutput, len(files))
	for i, file := range files {
		if err := pool.Submit(func() {
			out, err := a.scanOne(ctx, pipeline, file, "")
			if err != nil {
				out = &scanOutput{File: file, NeedsClarification: true, Error: err.Error()}
			}
			outputs[i] = out
		}); err != nil {
			pool.Close()
			return err
		}
	}
	pool.Close()
	return a.printJSON(outputs)
}

func (a *App) scanOne(ctx context.Context, pipeline documentAPI, file, note string) (*scanOutput, error) {
	image, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	result, err := pipeline.Analyze(ctx, image, http.DetectContentType(image))
	if err != nil {
		return nil, err
	}
	if result.ExtractErr != nil {
		a.logger.Warn("extraction failed", zap.String("file", file), zap.Error(result.ExtractErr))
	}
	tx := &result.Transaction
	if result.NeedsClarification && strings.TrimSpace(note) != "" {
		if tx, err = pipeline.Clarify(ctx, result.RawText, note); err != nil {
			return nil, err
		}
	}
	return &scanOutput{
		File:               file,
		RawText:            result.RawText,
		Transaction:        tx,
		NeedsClarification: tx.NeedsClarification(),
	}, nil
}

func (a *App) extract(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, -1)
	if err != nil {
		return err
	}
	text := joinArgs(rest)
	if text == "" {
		fs.Usage()
		return ErrUsage
	}
	pipeline, err := a.documents(ctx)
	if err != nil {
		return err
	}
	tx, err := pipeline.Extract(ctx, text)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]any{
		"transaction":        tx,
		"needsClarification": tx.NeedsClarification(),
	})
}

func (a *App) image(ctx context.Context, fs *flag.FlagSet, args []string) error {
	out := fs.String("o", "", "write the PNG to this file instead of printing the data URI")
	rest, err := parse(fs, args, -1)
	if err != nil {
		return err
	}
	prompt := joinArgs(rest)
	if prompt == "" {
		fs.Usage()
		return ErrUsage
	}
	uri, err := a.images.Generate(ctx, prompt, a.cfg.Spark.Image, a.cfg.Spark.RelayURL)
	if err != nil {
		return err
	}
	if *out == "" {
		return a.writeOutput("", []byte(uri))
	}
	_, encoded, ok := strings.Cut(uri, ";base64,")
	if !ok {
		return apperr.Data("cli.image", "unexpected image uri", nil)
	}
	png, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return apperr.Data("cli.image", "decode image", err)
	}
	return a.writeOutput(*out, png)
}

func (a *App) pantryFlag(fs *flag.FlagSet) *string {
	return fs.String("pantry", a.cfg.Pantry.PantryID, "pantry id (default pantry.pantry_id)")
}

func (a *App) backup(ctx context.Context, fs *flag.FlagSet, args []string) error {
	pantryID := a.pantryFlag(fs)
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	blob, err := os.ReadFile(rest[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", rest[0], err)
	}
	data, err := syncclient.DecodeAppData("cli.backup", blob)
	if err != nil {
		return err
	}
	if err := a.pantry.Upload(ctx, *pantryID, data); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "backed up %d subscriptions\n", len(data.Subscriptions))
	return nil
}

func (a *App) restore(ctx context.Context, fs *flag.FlagSet, args []string) error {
	pantryID := a.pantryFlag(fs)
	out := fs.String("o", "", "output file (default stdout)")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	b, err := a.pantry.Download(ctx, *pantryID)
	if err != nil {
		return err
	}
	blob, err := json.MarshalIndent(b.AppData(), "", "  ")
	if err != nil {
		return apperr.Data("cli.restore", "encode backup", err)
	}
	return a.writeOutput(*out, blob)
}
