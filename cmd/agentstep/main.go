// Package main provides the agentstep CLI: run an agent against a message,
// list backend models, or serve progress events over WebSocket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentstep"
	"github.com/hupe1980/agentstep/config"
	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/notify"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "agentstep",
		Short:         "Run step-list agents against local or remote models",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agentstep.toml", "path to the TOML configuration")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newModelsCmd(&configPath),
		newServeEventsCmd(&configPath),
	)
	return rootCmd
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		agentID string
		stream  bool
		restart bool
	)
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Send a message to an agent and print its answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			var sink core.Notifier
			if stream {
				sink = core.NotifierFunc(func(n core.Notification) {
					if n.Type == core.NotifyToken && !n.Done {
						fmt.Fprint(out, n.Text)
					}
				})
			}

			app, err := open(ctx, *configPath, sink)
			if err != nil {
				return err
			}
			defer app.Close()

			if _, err := app.EnsureAgent(ctx, agentID); err != nil {
				return err
			}
			if restart {
				if _, err := app.Restart(ctx, agentID); err != nil {
					return err
				}
			}

			chat, err := app.Process(ctx, agentID, args[0])
			if err != nil {
				return err
			}
			if stream {
				fmt.Fprintln(out)
				return nil
			}
			if last := chat.LastMessage(); last != nil {
				fmt.Fprintln(out, last.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent id (declared in the configuration or previously created)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print tokens as they are generated (interactive chats)")
	cmd.Flags().BoolVar(&restart, "restart", false, "reset the conversation before sending")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newModelsCmd(configPath *string) *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models a backend offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := open(ctx, *configPath, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			t := core.BackendType(backend)
			if t == "" {
				types := app.Backends().Types()
				for _, bt := range types {
					fmt.Fprintln(cmd.OutOrStdout(), bt)
				}
				return nil
			}
			models, err := app.ListModels(ctx, t)
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "backend type; lists the configured backends when empty")
	return cmd
}

func newServeEventsCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-events",
		Short: "Serve agent progress and tokens over WebSocket",
		Long: `Starts an HTTP server with two endpoints:

  GET  /events                      WebSocket feed, filter with ?chat_id= or ?agent_id=
  POST /agents/{id}/messages        {"message": "..."} processes a message and returns the chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Notify.Addr
			}

			logger := newLogger(cfg)
			hub := notify.NewHub(func(o *notify.HubOptions) {
				o.ClientBuffer = cfg.Notify.BufferSize
				o.Logger = logger
			})
			defer hub.Close()

			app, err := agentstep.New(ctx, func(o *agentstep.Options) {
				o.Config = cfg
				o.Notifier = notify.Multi{hub, notify.NewLog(logger)}
				o.Logger = logger
			})
			if err != nil {
				return err
			}
			defer app.Close()

			mux := http.NewServeMux()
			mux.Handle("GET /events", hub)
			mux.HandleFunc("POST /agents/{id}/messages", processHandler(app))

			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.Info("events.listening", "addr", addr)

			select {
			case <-ctx.Done():
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to notify.addr)")
	return cmd
}

type processRequest struct {
	Message string `json:"message"`
}

func processHandler(app *agentstep.AgentStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		id := r.PathValue("id")
		if _, err := app.EnsureAgent(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		chat, err := app.Process(r.Context(), id, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chat)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrAgentNotFound), errors.Is(err, core.ErrChatNotFound):
		status = http.StatusNotFound
	case core.IsConfigError(err):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}

func open(ctx context.Context, path string, sink core.Notifier) (*agentstep.AgentStep, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return agentstep.New(ctx, func(o *agentstep.Options) {
		o.Config = cfg
		o.Notifier = sink
		o.Logger = newLogger(cfg)
	})
}

func newLogger(cfg config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:       logging.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
		Output:      os.Stderr,
		Component:   "cli",
		CustomAttrs: map[string]any{},
	})
}
