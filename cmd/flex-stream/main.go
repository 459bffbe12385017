// Command flex-stream: resolve a title to a playable HLS URL and relay it.
//
//	serve    Run the HTTP service (resolution, capture, playlist/segment relay)
//	resolve  One-shot: resolve a title from the command line and print the URL
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexstream/flex-stream/internal/capture"
	"github.com/flexstream/flex-stream/internal/config"
	"github.com/flexstream/flex-stream/internal/embed"
	"github.com/flexstream/flex-stream/internal/health"
	"github.com/flexstream/flex-stream/internal/hls"
	"github.com/flexstream/flex-stream/internal/relay"
	"github.com/flexstream/flex-stream/internal/resolver"
	"github.com/flexstream/flex-stream/internal/server"
	"github.com/flexstream/flex-stream/internal/tmdb"
)

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[flex-stream] ")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveAddr := serveCmd.String("addr", "", "Listen address (default: FLEX_STREAM_ADDR or :5000)")
	serveSkipHealth := serveCmd.Bool("skip-health", false, "Skip catalog/embed reachability checks at startup")

	resolveCmd := flag.NewFlagSet("resolve", flag.ExitOnError)
	resolveTitle := resolveCmd.String("title", "", "Title to resolve (required)")
	resolveSeason := resolveCmd.Int("season", 0, "Season number (series only)")
	resolveEpisode := resolveCmd.Int("episode", 0, "Episode number (series only)")
	resolveTimeout := resolveCmd.Duration("timeout", 3*time.Minute, "Overall deadline for the pipeline")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <serve|resolve> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  serve    Run the HTTP service\n")
		fmt.Fprintf(os.Stderr, "  resolve  Resolve one title and print its playlist URL\n")
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		if *serveAddr != "" {
			cfg.Addr = *serveAddr
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if !*serveSkipHealth {
			if err := health.CheckCatalog(ctx, cfg.TMDBBaseURL, cfg.TMDBAPIKey); err != nil {
				log.Printf("Catalog check failed: %v", err)
				os.Exit(1)
			}
			if err := health.CheckEmbedSource(ctx, cfg.EmbedBaseURL, cfg.UserAgent); err != nil {
				log.Printf("Embed source check failed: %v", err)
				os.Exit(1)
			}
			log.Print("Startup checks passed")
		}
		if cfg.BaseURL != "" {
			log.Printf("Serving at %s", cfg.BaseURL)
		}
		srv := buildServer(cfg)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server failed: %v", err)
			os.Exit(1)
		}
	case "resolve":
		_ = resolveCmd.Parse(os.Args[2:])
		if *resolveTitle == "" {
			log.Print("resolve: -title is required")
			os.Exit(2)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, *resolveTimeout)
		defer cancel()
		url, err := resolveOnce(ctx, cfg, *resolveTitle, *resolveSeason, *resolveEpisode)
		if err != nil {
			log.Printf("Resolve failed: %v", err)
			os.Exit(1)
		}
		fmt.Println(url)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

func buildServer(cfg *config.Config) *server.Server {
	catalog := tmdb.New(cfg.TMDBBaseURL, cfg.TMDBAPIKey, cfg.RequestTimeout)
	browser := &capture.ChromeBrowser{ExecPath: cfg.ChromePath, UserAgent: cfg.UserAgent}
	return &server.Server{
		Addr:     cfg.Addr,
		Catalog:  catalog,
		Resolver: resolver.New(catalog),
		Embed: &embed.Locator{
			BaseURL:   cfg.EmbedBaseURL,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.RequestTimeout,
		},
		Capture: capture.NewCapturer(browser, cfg),
		Variants: &hls.Selector{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.RequestTimeout,
		},
		Relay: relay.New(cfg.UserAgent, cfg.RequestTimeout, cfg.CacheTTL),
	}
}

// resolveOnce runs the pipeline outside the server, for scripting and for
// checking a deployment from the shell.
func resolveOnce(ctx context.Context, cfg *config.Config, title string, season, episode int) (string, error) {
	catalog := tmdb.New(cfg.TMDBBaseURL, cfg.TMDBAPIKey, cfg.RequestTimeout)
	target, err := resolver.New(catalog).Resolve(ctx, title)
	if err != nil {
		return "", err
	}
	log.Printf("Matched catalog id %d (%s), external id %s", target.CatalogID, target.MediaType, target.ExternalID)

	loc := &embed.Locator{BaseURL: cfg.EmbedBaseURL, UserAgent: cfg.UserAgent, Timeout: cfg.RequestTimeout}
	pageURL, err := loc.PlayerIframe(ctx, loc.URL(target.ExternalID, target.MediaType, season, episode))
	if err != nil {
		return "", err
	}
	log.Printf("Player page: %s", pageURL)

	browser := &capture.ChromeBrowser{ExecPath: cfg.ChromePath, UserAgent: cfg.UserAgent}
	manifestURL, err := capture.NewCapturer(browser, cfg).FirstManifestURL(ctx, pageURL)
	if err != nil {
		return "", err
	}
	log.Printf("Captured manifest: %s", manifestURL)

	sel := &hls.Selector{UserAgent: cfg.UserAgent, Timeout: cfg.RequestTimeout}
	return sel.FetchBest(ctx, manifestURL)
}
