package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/analytics"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/api"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/circuitbreaker"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/config"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/engine"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/lifetime"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/metrics"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/platform"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/ratelimit"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/tier"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// redisPinger adapts the redis client to the handler's health interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// upstreamPinger adapts the admin client to the handler's health interface.
type upstreamPinger struct {
	client *platform.Client
}

func (p upstreamPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func main() {
	// Optional .env for local development.
	godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`discountd - lifetime-spend discount eligibility server

Usage:
  discountd <command>

Commands:
  serve      Start the eligibility API server
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  SHOP_DOMAIN            Shop domain, e.g. "my-shop.example.com" (required)
  ADMIN_API_TOKEN        Admin API access token (required)
  ADMIN_API_VERSION      Admin API version (default: "2024-10")
  HTTP_ADDR              HTTP server address (default: ":8080")
  UPSTREAM_TIMEOUT       Admin API request timeout (default: "10s")

  RATE_LIMIT             Requests per key per window (default: "30")
  RATE_WINDOW            Rate limit window (default: "60s")
  CACHE_TTL              Lifetime-value cache TTL (default: "5m")
  SWEEP_SCHEDULE         Cron expression for cache sweeps (default: "@every 1m")

  BREAKER_THRESHOLD      Upstream circuit breaker threshold, 0 disables (default: "5")
  BREAKER_COOLDOWN       Circuit breaker cooldown (default: "2m")

  REDIS_ADDR             Redis address for analytics (optional)
  ANALYTICS_RETENTION    Analytics key retention (default: "24h")

  METRICS_ENABLED        Enable Prometheus metrics (default: "false")
  METRICS_ADDR           Metrics server address (default: ":9090")
  METRICS_PATH           Metrics endpoint path (default: "/metrics")

  HTTP_SHUTDOWN_TIMEOUT  Graceful HTTP shutdown timeout (default: "10s")`)
}

func runServe() int {
	cfg := config.LoadServer()

	if err := config.ValidateServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	upstream, err := platform.NewClient(cfg.AdminEndpoint(), cfg.AdminAPIToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build admin client: %v\n", err)
		return exitRuntimeError
	}
	upstream = upstream.WithTimeout(cfg.UpstreamTimeout)

	if cfg.BreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
		upstream = upstream.WithBreaker(breaker)
		log.Printf("discountd: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.BreakerThreshold, cfg.BreakerCooldown)
	} else {
		log.Println("discountd: BREAKER_THRESHOLD=0; circuit breaker disabled")
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("discountd: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("discountd: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("discountd: METRICS_ENABLED not set; metrics disabled")
	}

	limiter := ratelimit.New(ratelimit.Config{
		Limit:  cfg.RateLimit,
		Window: cfg.RateWindow,
	})

	resolver := lifetime.New(lifetime.Config{CacheTTL: cfg.CacheTTL}, upstream)
	if metricsSink != nil {
		resolver = resolver.WithMetrics(metricsSink)
	}

	eng := engine.New(limiter, resolver, tier.NewResolver(), tier.TopPercent)
	if metricsSink != nil {
		eng = eng.WithMetrics(metricsSink)
	}

	handler := api.NewHandler(eng, version).
		WithHealthChecker("upstream", upstreamPinger{client: upstream})

	// Wire analytics if Redis is configured
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient).WithRetention(cfg.AnalyticsRetention)
		eng = eng.WithAnalytics(sink)
		handler = handler.WithHealthChecker("redis", redisPinger{client: redisClient})
		log.Printf("discountd: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("discountd: REDIS_ADDR not set; analytics disabled")
	}

	// Periodic sweeps keep the lifetime cache and rate windows from
	// accumulating dead entries between requests.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.SweepSchedule, func() {
		resolver.Sweep()
		limiter.Sweep()
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to schedule sweeps: %v\n", err)
		return exitRuntimeError
	}
	sweeper.Start()
	log.Printf("discountd: sweeps scheduled (%s)", cfg.SweepSchedule)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	go func() {
		log.Printf("discountd: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("discountd: http server error: %v", err)
		}
	}()

	log.Printf("discountd: started (shop=%s, http=%s)", cfg.ShopDomain, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("discountd: received signal %v, shutting down", received)

	// Phase 1: Stop the sweep scheduler, waiting for a running sweep.
	log.Println("discountd: stopping sweeper...")
	<-sweeper.Stop().Done()
	log.Println("discountd: sweeper stopped")

	// Phase 2: Stop HTTP server with graceful shutdown
	log.Println("discountd: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("discountd: http server shutdown error: %v", err)
	}
	log.Println("discountd: http server stopped")

	// Phase 3: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("discountd: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("discountd: metrics server shutdown error: %v", err)
		}
		log.Println("discountd: metrics server stopped")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("discountd: redis close error: %v", err)
		}
	}

	log.Println("discountd: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.LoadServer()

	if err := config.ValidateServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.LoadServer()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("discountd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
