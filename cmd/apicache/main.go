// Command apicache fetches the endpoints listed in a YAML config through the
// caching, retrying request client and prints one JSON result per request.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"github.com/guarzo/apicache/common"
	"github.com/guarzo/apicache/common/model"
	"github.com/guarzo/apicache/modules/cache"
	"github.com/guarzo/apicache/modules/client"
	"github.com/guarzo/apicache/modules/collection"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "apicache:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("apicache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "apicache.yaml", "path to the YAML config")
	rounds := fs.Int("rounds", 1, "how many times to fetch every endpoint; later rounds exercise the cache")
	parallel := fs.Int("parallel", 4, "maximum concurrent requests")
	collect := fs.String("collect", "", "walk this paginated endpoint and print the merged items")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Format, stderr)

	reg := prometheus.NewRegistry()
	responses, err := cache.New[[]byte](cache.Options{
		MaxAge:  cfg.Cache.MaxAge,
		MaxSize: cfg.Cache.MaxSize,
		Metrics: cache.NewPrometheusMetrics(reg, cfg.Metrics.Namespace),
		Logger:  logger.With("component", "cache"),
	})
	if err != nil {
		return err
	}
	defer responses.Stop()

	httpClient := common.NewHttpClient(cfg.Client.UserAgent, &http.Client{})
	defer httpClient.CloseIdleConnections()

	c, err := client.NewClient(client.Config{
		BaseURL:       cfg.Client.BaseURL,
		Timeout:       cfg.Client.Timeout,
		RetryAttempts: cfg.Client.RetryAttempts,
		BackoffStep:   cfg.Client.BackoffStep,
	}, httpClient, responses, credentials(ctx, cfg.Auth),
		client.WithLogger(logger.With("component", "client")),
		client.WithMetrics(client.NewPrometheusMetrics(reg, cfg.Metrics.Namespace)),
	)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		shutdown := serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer shutdown()
	}

	enc := json.NewEncoder(stdout)

	if *collect != "" {
		svc := collection.NewCollectionService(c, collection.DefaultMaxPages, true)
		items, err := svc.FetchAll(ctx, *collect)
		if err != nil {
			return err
		}
		return enc.Encode(items)
	}

	for round := 1; round <= *rounds; round++ {
		results := fetchAll(ctx, c, cfg.Endpoints, *parallel)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		logger.Info("round complete", "round", round, "endpoints", len(results), "cached_entries", responses.Len())
	}
	return nil
}

// fetchAll requests every endpoint concurrently. Failures are reported in the
// result rather than aborting the other requests.
func fetchAll(ctx context.Context, c client.Requester, endpoints []common.EndpointConfig, parallel int) []model.FetchResult {
	results := make([]model.FetchResult, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, ep := range endpoints {
		g.Go(func() error {
			start := time.Now()
			data, err := c.Request(gctx, ep.Method, ep.Path, client.RequestOptions{Body: ep.Body, UseCache: ep.UseCache})

			r := model.FetchResult{
				Method:   ep.Method,
				Path:     ep.Path,
				UseCache: ep.UseCache,
				Bytes:    len(data),
				Duration: time.Since(start),
			}
			if err != nil {
				r.Error = err.Error()
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// credentials picks the provider described by the auth section, or nil for none.
func credentials(ctx context.Context, auth common.AuthConfig) common.CredentialProvider {
	switch {
	case auth.TokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			TokenURL:     auth.TokenURL,
			Scopes:       auth.Scopes,
		}
		return common.NewTokenSourceProvider(cc.TokenSource(ctx))
	case auth.AccessToken != "":
		return common.NewTokenProvider(&oauth2.Token{AccessToken: auth.AccessToken, TokenType: "Bearer"})
	default:
		return nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
