package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chadiek/voiceturn/internal/config"
	"github.com/chadiek/voiceturn/internal/logging"
)

var (
	logLevel string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "voiceturn",
	Short: "Voice customer support assistant",
	Long: `voiceturn - turn-taking voice assistant for customer support.

Configuration is read from the environment and an optional .env file
(HTTP_ADDRESS, CHAT_URL, LLM_PROVIDER, CEREBRAS_API_KEY, OPENAI_API_KEY,
RECOGNIZER, SYNTHESIZER, SUPABASE_URL, TWILIO_AUTH_TOKEN, ...).

Examples:
  # Serve the web session socket, the /chat backend and Twilio webhooks
  voiceturn serve --addr :8080

  # Chat from the terminal against a running server
  voiceturn chat --chat-url http://localhost:8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func newLogger() zerolog.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat == "console")
}

func warnConfig(log zerolog.Logger) {
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}
}
