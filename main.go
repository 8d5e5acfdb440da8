// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chatflow is a streaming chat client for OpenAI-shaped and Ollama-shaped
// providers with transparent tool-call round-trips.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatflow/internal/chat"
	"github.com/jeranaias/chatflow/internal/config"
	"github.com/jeranaias/chatflow/internal/logging"
	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/provider"
	"github.com/jeranaias/chatflow/internal/store"
	"github.com/jeranaias/chatflow/internal/telemetry"
	"github.com/jeranaias/chatflow/internal/toolhost"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatflow:", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is a convenient place for CHATFLOW_OPENROUTER_KEY.
	_ = godotenv.Load()

	var (
		configPath   = flag.String("config", "", "path to config file")
		providerName = flag.String("provider", "", "provider to use: openrouter or ollama")
		modelName    = flag.String("model", "", "model identifier override")
		prompt       = flag.String("prompt", "", "run a single prompt and exit")
		chatID       = flag.String("chat", "", "resume a stored chat by id")
		system       = flag.String("system", "", "system prompt for new chats")
		listChats    = flag.Bool("list", false, "list stored chats and exit")
		initConfig   = flag.Bool("init", false, "write a default config file and exit")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("chatflow", version)
		return nil
	}

	if *initConfig {
		path := *configPath
		if path == "" {
			var err error
			if path, err = config.Path(); err != nil {
				return err
			}
		}
		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
		fmt.Println("wrote", path)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	// Hot-reloaded config is picked up at the next prompt.
	liveCfg := &atomic.Pointer[config.Config]{}
	liveCfg.Store(cfg)
	if watchPath := resolveConfigPath(*configPath); watchPath != "" {
		w, err := config.NewWatcher(watchPath, func(next *config.Config) {
			liveCfg.Store(next)
		}, log)
		if err == nil {
			if err := w.Watch(); err != nil {
				log.Warn().Err(err).Msg("config watch unavailable")
			} else {
				defer w.Close()
			}
		}
	}

	var db *store.Store
	if cfg.Store.Enabled {
		dbPath, err := cfg.DBPath()
		if err != nil {
			return err
		}
		db, err = store.Open(dbPath, log)
		if err != nil {
			return fmt.Errorf("failed to open chat store: %w", err)
		}
		defer db.Close()
	}

	ctx := context.Background()

	if *listChats {
		if db == nil {
			return fmt.Errorf("chat store is disabled")
		}
		return printChatList(ctx, db)
	}

	registry := toolhost.NewRegistry()
	if err := toolhost.RegisterBuiltins(registry); err != nil {
		return err
	}
	host := toolhost.NewHost(registry, log)
	host.SetTimeout(cfg.Tools.Timeout())

	usage := telemetry.NewUsageTracker()

	session, err := openSession(ctx, db, cfg, *chatID, *modelName, *system)
	if err != nil {
		return err
	}

	engine := func() (*chat.Orchestrator, error) {
		cur := liveCfg.Load()
		prov, err := buildProvider(cur, *providerName, *modelName, log)
		if err != nil {
			return nil, err
		}
		return chat.NewOrchestrator(prov, host, log).
			WithMaxDepth(cur.Orchestrator.MaxDepth).
			WithUsageTracker(usage), nil
	}

	if *prompt != "" {
		o, err := engine()
		if err != nil {
			return err
		}
		return runTurn(ctx, o, db, session, *prompt, log)
	}

	return runREPL(ctx, engine, db, session, usage, log)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// resolveConfigPath returns the config file to watch, or empty when none
// exists on disk.
func resolveConfigPath(explicit string) string {
	path := explicit
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return ""
		}
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func buildProvider(cfg *config.Config, override, modelOverride string, log zerolog.Logger) (*provider.Provider, error) {
	name := cfg.DefaultProvider
	if override != "" {
		name = override
	}

	switch strings.ToLower(name) {
	case "openrouter":
		m := cfg.Cloud.Model
		if modelOverride != "" {
			m = modelOverride
		}
		return provider.OpenRouter(m, cfg.Cloud.BaseURL, cfg.Cloud.Key, log), nil
	case "ollama":
		m := cfg.Local.Model
		if modelOverride != "" {
			m = modelOverride
		}
		return provider.Ollama(m, cfg.Local.BaseURL, log), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// openSession resumes a stored chat or starts a new one.
func openSession(ctx context.Context, db *store.Store, cfg *config.Config, chatID, modelOverride, system string) (*model.Chat, error) {
	if chatID != "" {
		if db == nil {
			return nil, fmt.Errorf("cannot resume %s: chat store is disabled", chatID)
		}
		return db.LoadChat(ctx, chatID)
	}

	m := cfg.Local.Model
	if cfg.DefaultProvider == "openrouter" {
		m = cfg.Cloud.Model
	}
	if modelOverride != "" {
		m = modelOverride
	}

	session := model.NewChat(m)
	if system != "" {
		session.Append(model.NewSystemMessage(system))
	}
	return session, nil
}

func printChatList(ctx context.Context, db *store.Store) error {
	metas, err := db.ListChats(ctx)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("no stored chats")
		return nil
	}
	for _, m := range metas {
		fmt.Printf("%s  %-40s  %s  %d msgs\n",
			m.ID, m.Title, m.UpdatedAt.Format("2006-01-02 15:04"), m.MessageCount)
	}
	return nil
}

// runTurn sends one user prompt through the orchestrator, streaming the
// reply to stdout. The store sink folds the outcome into the session and
// persists it.
func runTurn(ctx context.Context, o *chat.Orchestrator, db *store.Store, session *model.Chat, prompt string, log zerolog.Logger) error {
	session.AppendUser(prompt)

	// First Ctrl-C aborts the in-flight call; the terminal outcome still
	// arrives through the completion path.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			o.Abort()
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(sigs)
		close(done)
	}()

	sink := store.NewSink(db, session, log)
	out := o.Chat(ctx, session.Messages, sink.Handlers(ctx, chat.Handlers{
		OnProgress: func(chunk string) { fmt.Print(chunk) },
		OnToolCallStarted: func(name string) {
			fmt.Printf("\n[tool: %s]\n", name)
		},
	}))
	fmt.Println()

	if out.Failed() {
		if out.Aborted {
			fmt.Fprintln(os.Stderr, "(aborted)")
			return nil
		}
		return fmt.Errorf("chat failed (%d): %s", out.Err.Code, out.Err.Message)
	}
	return nil
}

func runREPL(ctx context.Context, engine func() (*chat.Orchestrator, error), db *store.Store, session *model.Chat, usage *telemetry.UsageTracker, log zerolog.Logger) error {
	fmt.Printf("chatflow %s  (chat %s, /quit to exit)\n", version, session.ID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		o, err := engine()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if err := runTurn(ctx, o, db, session, line, log); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s := usage.Session()
	if len(s.Calls) > 0 {
		log.Info().
			Int("calls", len(s.Calls)).
			Int("input_tokens", s.Tokens.Input).
			Int("output_tokens", s.Tokens.Output).
			Msg("session usage")
	}
	return nil
}
