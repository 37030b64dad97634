package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/app"
	"github.com/previewkit/ogpipe/internal/browser"
	"github.com/previewkit/ogpipe/internal/orchestrator"
	"github.com/previewkit/ogpipe/internal/previewserver"
)

// newGenerateCmd creates the 'generate' subcommand. It scans the build
// output directory for rendered pages, collects screenshot jobs from
// their markup, and drains the queue against a preview server and a
// headless browser.
func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Collect and capture preview images for a finished site build",
		Long: `Walks the build output directory, resolves preview-image options from
each rendered page, and captures the eligible routes with a headless
browser served from a local preview server.`,

		RunE: runGenerateCommand,
	}
	return cmd
}

func runGenerateCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	orch := buildOrchestrator(appInstance)

	collected, err := collectPages(appInstance.Cfg.Build.OutputDir, orch)
	if err != nil {
		return fmt.Errorf("collect pages: %w", err)
	}
	appInstance.Logger.Info("page collection finished",
		zap.Int("pages", collected),
		zap.Int("queued", orch.QueueLen()))

	if err := orch.OnBuildComplete(cmd.Context()); err != nil {
		return fmt.Errorf("drain screenshot queue: %w", err)
	}
	return nil
}

func buildOrchestrator(a *app.App) *orchestrator.Orchestrator {
	cfg := a.Cfg

	preview := previewserver.New(previewserver.Config{
		Command:      cfg.Preview.Command,
		Dir:          cfg.Build.OutputDir,
		ReadyPhrase:  cfg.Preview.ReadyPhrase,
		ReadyTimeout: cfg.ReadyTimeout(),
	}, a.Logger)

	factory := func(context.Context) (orchestrator.CaptureBackend, error) {
		return browser.Launch(browser.Config{
			UserAgent:  cfg.Browser.UserAgent,
			NavTimeout: cfg.NavTimeout(),
		}, a.Logger)
	}

	return orchestrator.New(orchestrator.Config{
		FullExport:     cfg.Build.FullExport,
		Dev:            cfg.Build.Dev,
		Topic:          cfg.Publisher.Topic,
		CaptureTimeout: cfg.NavTimeout(),
		DefaultWidth:   cfg.Images.Width,
		DefaultHeight:  cfg.Images.Height,
	}, orchestrator.Deps{
		Resolver:  a.Resolver,
		Cache:     a.Cache,
		Browser:   factory,
		Preview:   preview,
		Installer: orchestrator.NewCommandInstaller(cfg.Browser.InstallCommand, a.Logger),
		Fetcher:   a.Fetcher,
		Store:     a.Store,
		Publisher: a.Publisher,
		Emitter:   a.Reporter,
		Clock:     a.Clock,
		Logger:    a.Logger,
	})
}

// collectPages walks outputDir and feeds every rendered page to the
// orchestrator. A page is a *.html file; its route is the file's
// directory relative to outputDir, with index.html mapping to the
// directory itself.
func collectPages(outputDir string, orch *orchestrator.Orchestrator) (int, error) {
	count := 0
	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".html") {
			return nil
		}
		markup, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		orch.OnPageRendered(routeForPage(rel), string(markup))
		count++
		return nil
	})
	return count, err
}

func routeForPage(rel string) string {
	rel = filepath.ToSlash(rel)
	switch {
	case rel == "index.html":
		return "/"
	case strings.HasSuffix(rel, "/index.html"):
		return "/" + strings.TrimSuffix(rel, "/index.html")
	default:
		return "/" + strings.TrimSuffix(rel, ".html")
	}
}
