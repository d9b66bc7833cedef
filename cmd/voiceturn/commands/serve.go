package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/voiceturn/internal/bridge"
	"github.com/chadiek/voiceturn/internal/httpserver"
	"github.com/chadiek/voiceturn/internal/logging"
	"github.com/chadiek/voiceturn/internal/phone"
)

var (
	serveAddr    string
	serveChatURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the HTTP server.

Routes:
  GET  /healthz         liveness
  POST /chat            reasoning backend (Cerebras or OpenAI)
  GET  /session         websocket running one conversation per connection
  POST /twilio/voice    phone calls (also /twilio/gather, /twilio/status)`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides HTTP_ADDRESS)")
	serveCmd.Flags().StringVar(&serveChatURL, "chat-url", "", "reasoning service base URL (overrides CHAT_URL)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.HTTPAddress = serveAddr
	}
	if serveChatURL != "" {
		cfg.ChatURL = serveChatURL
	}
	log := newLogger()
	warnConfig(log)

	gen, err := localReasoner(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	arch, err := newArchiver(cfg, log)
	if err != nil {
		return err
	}
	bc, err := bridgeConfig(cfg, arch)
	if err != nil {
		return err
	}
	reasoner := chatReasoner(cfg)
	sessions := bridge.NewServer(reasoner, bc, logging.Component(log, "bridge"))
	calls := phone.NewHandlers(reasoner, phoneConfig(cfg, arch), logging.Component(log, "phone"))

	srv := httpserver.New(cfg, httpserver.Deps{
		Chat:    gen,
		Session: sessions,
		Phone:   calls,
		Logger:  logging.Component(log, "http"),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Str("chat_url", cfg.ChatURL).
			Str("recognizer", cfg.Recognizer).Str("synthesizer", cfg.Synthesizer).
			Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Int("sessions", sessions.Sessions()).
			Int("calls", calls.ActiveCalls()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
	return nil
}
