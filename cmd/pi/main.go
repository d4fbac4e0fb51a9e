// Command pi is the headless "print" driver: one prompt in, the final
// assistant text out, tool calls executing against the working directory.
// Terminal UIs and RPC daemons embed the agent package directly instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/agent"
	"github.com/gq3171/piagent/internal/configfile"
	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/provider"
)

func main() {
	// Load .env if present so provider keys resolve without exporting.
	_ = godotenv.Load()

	if err := run(); err != nil {
		log.Fatalf("pi: %v", err)
	}
}

func run() error {
	fs := flag.NewFlagSet("pi", flag.ExitOnError)
	modelFlag := fs.String("model", "", "model id (default: from settings)")
	providerFlag := fs.String("provider", "", "provider name (default: from settings)")
	dirFlag := fs.String("dir", "", "working directory (default: current directory)")
	baseFlag := fs.String("base", "", "config directory (default: ~/.config/pi)")
	thinkingFlag := fs.String("thinking", "", "thinking level: off|minimal|low|medium|high|xhigh")
	verboseFlag := fs.Bool("verbose", false, "enable diagnostic logging to stderr")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: pi [flags] <prompt>")
	}
	prompt := fs.Arg(0)

	workingDir := *dirFlag
	if workingDir == "" {
		var err error
		workingDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
	}

	baseDir := *baseFlag
	if baseDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve config directory: %w", err)
		}
		baseDir = filepath.Join(configDir, "pi")
	}

	logger := zap.NewNop()
	if *verboseFlag {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()
	}

	settings, err := configfile.NewStore(baseDir).Load()
	if err != nil {
		return err
	}

	model, err := resolveModel(settings, *providerFlag, *modelFlag)
	if err != nil {
		return err
	}

	thinkingLevel := settings.ThinkingLevel
	if *thinkingFlag != "" {
		thinkingLevel = msg.AgentThinkingLevel(*thinkingFlag)
	}

	a, err := agent.New(agent.Options{
		WorkingDir:    workingDir,
		BaseDir:       baseDir,
		Model:         model,
		ThinkingLevel: thinkingLevel,
		Temperature:   settings.Temperature,
		MaxTokens:     settings.MaxTokens,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	a.Subscribe(func(event agent.Event) {
		switch event.Kind {
		case agent.EventMessageUpdate:
			if event.StreamEvent != nil && event.StreamEvent.Delta != "" {
				fmt.Print(event.StreamEvent.Delta)
			}
		case agent.EventToolExecutionStart:
			fmt.Fprintf(os.Stderr, "\n[tool %s]\n", event.ToolName)
		case agent.EventError:
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", event.ErrorMessage)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		a.Abort()
	}()

	if err := a.Prompt(ctx, prompt); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func resolveModel(settings configfile.Settings, providerName, modelID string) (msg.Model, error) {
	catalog := provider.NewCatalog()
	catalog.AddCustom(settings.CustomModels...)

	if modelID == "" {
		modelID = settings.Model
	}
	if modelID == "" {
		return msg.Model{}, fmt.Errorf("no model configured: pass -model or set it in settings.json")
	}
	if providerName == "" {
		providerName = settings.Provider
	}
	if providerName != "" {
		if model, ok := catalog.Get(providerName, modelID); ok {
			return model, nil
		}
		return msg.Model{}, fmt.Errorf("unknown model %s/%s", providerName, modelID)
	}
	if model, ok := catalog.Find(modelID); ok {
		return model, nil
	}
	return msg.Model{}, fmt.Errorf("unknown model %q", modelID)
}
