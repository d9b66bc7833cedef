package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chadiek/voiceturn/internal/console"
	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/logging"
)

var chatURL string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	Long: `Talk to the assistant from the terminal.

Replies come from the local LLM provider unless --chat-url points at a
running /chat service. Quick actions: /balance /due /security /fraud.
Type /help for commands and /quit to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatURL, "chat-url", "", "reasoning service base URL (default: call the LLM directly)")
}

func runChat(cmd *cobra.Command, args []string) error {
	// Logs share the terminal with the conversation; keep them quiet unless asked.
	level := cfg.LogLevel
	if logLevel == "" && os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	log := logging.NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr}, level)

	var reasoner dispatch.Reasoner
	if chatURL != "" {
		cfg.ChatURL = chatURL
		reasoner = chatReasoner(cfg)
	} else {
		warnConfig(log)
		r, err := localReasoner(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		reasoner = r
	}
	arch, err := newArchiver(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := engineOptions(cfg)
	led, err := console.Run(ctx, reasoner, cmd.InOrStdin(), cmd.OutOrStdout(), console.Options{
		Engine:         opts,
		LedgerCapacity: cfg.LedgerCapacity,
		Logger:         logging.Component(log, "console"),
	})
	if err != nil {
		return err
	}

	archCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := arch.Archive(archCtx, uuid.NewString(), led.All()); err != nil {
		log.Warn().Err(err).Msg("archiving conversation failed")
	}
	return nil
}
