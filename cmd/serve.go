package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/api"
	"github.com/previewkit/ogpipe/internal/browser"
)

// newServeCmd creates the 'serve' subcommand: the runtime HTTP endpoint
// that captures preview images on demand for routes whose options were
// not resolvable at build time.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve preview images over HTTP",
		Long: `Starts an HTTP server answering <route>/__og_image__/og.png requests.
Prebuilt images are served from the blob store; anything else is resolved
and captured on the fly with a long-lived headless browser.`,

		RunE: runServeCommand,
	}
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Cfg
	logger := appInstance.Logger

	backend, err := browser.Launch(browser.Config{
		UserAgent:  cfg.Browser.UserAgent,
		NavTimeout: cfg.NavTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := backend.Close(context.Background()); cerr != nil {
			logger.Warn("close browser", zap.Error(cerr))
		}
	}()

	server := api.NewServer(api.Config{
		SiteBaseURL:    cfg.Site.BaseURL,
		CaptureTimeout: cfg.NavTimeout(),
	}, appInstance.Resolver, appInstance.Cache, appInstance.Fetcher, backend, appInstance.Store, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-cmd.Context().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("http shutdown", zap.Error(serr))
		}
	}()

	logger.Info("serving preview images", zap.Int("port", cfg.Server.Port))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
