package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogulcanaydogan/costwatch/internal/proxy"
	"github.com/ogulcanaydogan/costwatch/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API and the recording proxy",
	Long: `Run the dashboard API on server.listen and the transparent recording proxy
on proxy.listen. Point agents at the proxy with an X-Costwatch-Target header
naming the upstream URL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "API listen address (default from config)")
	serveCmd.Flags().String("proxy-listen", "", "Proxy listen address (default from config)")
	serveCmd.Flags().Bool("no-proxy", false, "Run only the dashboard API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if listen, _ := cmd.Flags().GetString("proxy-listen"); listen != "" {
		cfg.Proxy.Listen = listen
	}
	noProxy, _ := cmd.Flags().GetBool("no-proxy")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	servers := []*http.Server{{
		Addr:         cfg.Server.Listen,
		Handler:      server.NewServer(a.recorder, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}}
	if !noProxy {
		servers = append(servers, &http.Server{
			Addr: cfg.Proxy.Listen,
			Handler: proxy.NewHandler(a.recorder, proxy.Options{
				DefaultAgent:   cfg.Defaults.Agent,
				AddCostHeaders: cfg.Proxy.AddCostHeaders,
				MaxBodySize:    cfg.Proxy.MaxBodySize,
			}, logger),
			ReadTimeout:  cfg.Proxy.ReadTimeout,
			WriteTimeout: cfg.Proxy.WriteTimeout,
		})
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		name := "api"
		if i == 1 {
			name = "proxy"
		}
		go func() {
			logger.Info("listening", "server", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}
	fmt.Fprintf(os.Stderr, "costwatch API listening on %s\n", cfg.Server.Listen)
	if !noProxy {
		fmt.Fprintf(os.Stderr, "costwatch proxy listening on %s\n", cfg.Proxy.Listen)
	}

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
		}
	}

	logger.Info("stopped")
	return runErr
}
