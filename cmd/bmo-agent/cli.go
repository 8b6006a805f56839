package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bmolabs/bmo-agent/pkg/api"
	"github.com/bmolabs/bmo-agent/pkg/config"
	"github.com/bmolabs/bmo-agent/pkg/logger"
	"github.com/bmolabs/bmo-agent/pkg/memory"
	"github.com/bmolabs/bmo-agent/pkg/providers"
	"github.com/bmolabs/bmo-agent/pkg/status"
	chromemstore "github.com/bmolabs/bmo-agent/pkg/store/chromem"
	"github.com/bmolabs/bmo-agent/pkg/store/sqlite"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Long-term memory companion for a voice assistant",
		Long: strings.TrimSpace(`bmo-agent is the memory side of a voice assistant: it decides which
utterances become durable memories, stores them under closed categories,
and surfaces them back into the conversation when relevant.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newChatCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newMemoriesCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// runtime is the wired-up composition of store, provider and orchestrator.
type runtime struct {
	cfg     *config.Config
	store   memory.Store
	service *memory.Service
	tracker *status.Tracker
	gemini  *providers.Gemini
}

func (rt *runtime) close() {
	if rt.service != nil {
		_ = rt.service.Close()
	}
	if rt.gemini != nil {
		_ = rt.gemini.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, err
	}

	tz := time.FixedZone(fmt.Sprintf("GMT%+d", cfg.Status.TimezoneOffsetHours), cfg.Status.TimezoneOffsetHours*3600)
	tracker := status.NewTracker(tz)

	gemini, err := providers.CreateGemini(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// A typed nil must not leak into the Model interface, or the gatekeeper
	// would believe credentials exist.
	var model memory.Model
	if gemini != nil {
		model = gemini
	}

	var store memory.Store
	switch strings.ToLower(cfg.Memory.Backend) {
	case "chromem":
		if gemini == nil {
			return nil, fmt.Errorf("chromem backend needs a Gemini API key for embeddings")
		}
		store, err = chromemstore.New(gemini, uuid.NewString)
	default:
		store, err = sqlite.New(filepath.Join(cfg.Memory.Workspace, "state", "memories.db"))
	}
	if err != nil {
		return nil, err
	}

	gatekeeper := memory.NewGatekeeper(model, tracker)
	service, err := memory.NewService(memory.Config{
		Mode:           memory.Mode(strings.ToUpper(cfg.Memory.Mode)),
		UserID:         cfg.Memory.UserID,
		SearchLimit:    cfg.Memory.SearchLimit,
		Threshold:      cfg.Memory.Threshold,
		BootstrapQuery: cfg.Memory.BootstrapQuery,
		ProfileLimit:   cfg.Memory.ProfileLimit,
	}, store, gatekeeper)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.InfoCF("agent", "Memory runtime initialized", map[string]interface{}{
		"mode":    cfg.Memory.Mode,
		"backend": cfg.Memory.Backend,
		"user_id": cfg.Memory.UserID,
	})

	return &runtime{cfg: cfg, store: store, service: service, tracker: tracker, gemini: gemini}, nil
}

func newChatCommand() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:     "chat",
		Short:   "Feed user turns through the memory pipeline interactively",
		Example: "  bmo-agent chat\n  bmo-agent chat -m \"My favorite color is blue.\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if message != "" {
				return processOnce(cmd.Context(), rt, message)
			}
			return interactiveChat(cmd.Context(), rt)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Process a single turn and exit")
	return cmd
}

func processOnce(ctx context.Context, rt *runtime, message string) error {
	injected, err := rt.service.ProcessTurn(ctx, message)
	if err != nil {
		return err
	}
	if injected != "" {
		fmt.Printf("\n%s\n", injected)
	}
	// Drain the background write before exiting a one-shot invocation.
	return rt.service.Close()
}

func interactiveChat(ctx context.Context, rt *runtime) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".bmo_agent_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%s interactive turn loop (Ctrl+C to exit)\n\n", appName)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		injected, err := rt.service.ProcessTurn(ctx, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if injected == "" {
			fmt.Println("(no context injected)")
			continue
		}
		fmt.Printf("--- injected context ---\n%s\n------------------------\n", injected)
	}
	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the memory CRUD API and the scheduled memory report",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reporter, err := status.NewReporter(rt.cfg.Status.ReportCron, rt.tracker, memorySnapshot(rt))
			if err != nil {
				return err
			}
			go reporter.Run(ctx)

			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", rt.cfg.API.Port),
				Handler: api.NewServer(rt.store, rt.tracker, rt.cfg.API.PIN, rt.cfg.Memory.UserID).Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.InfoCF("api", "Memory API listening", map[string]interface{}{"port": rt.cfg.API.Port})
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func memorySnapshot(rt *runtime) func(ctx context.Context) (status.Snapshot, error) {
	return func(ctx context.Context) (status.Snapshot, error) {
		records, err := rt.store.GetAll(ctx, rt.cfg.Memory.UserID, 0)
		if err != nil {
			return status.Snapshot{}, err
		}
		snap := status.Snapshot{Total: len(records), ByCategory: map[string]int{}}
		for _, rec := range records {
			category := "uncategorized"
			if cat, ok := rec.DurableCategory(); ok {
				category = string(cat)
			}
			snap.ByCategory[category]++
		}
		return snap, nil
	}
}

func newMemoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "memories",
		Short: "Print all stored memories for the configured user",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			records, err := rt.store.GetAll(cmd.Context(), rt.cfg.Memory.UserID, 0)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no memories stored")
				return nil
			}
			for _, rec := range records {
				category := "uncategorized"
				if cat, ok := rec.DurableCategory(); ok {
					category = string(cat)
				}
				fmt.Printf("%s  [%s]  %s\n", rec.ID, category, rec.Memory)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}
}
