package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/config"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/metrics"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/monitor"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/storefront"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/transport/channel"
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

func main() {
	// Optional .env for local development.
	godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runAgent())
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
	fmt.Println(`cartmon - cart monitor agent for lifetime-spend discounts

Usage:
  cartmon <command>

Commands:
  run        Start the cart monitor
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON
  version    Print version information

Environment Variables:
  STOREFRONT_URL    Storefront base URL (required)
  ENGINE_URL        Eligibility endpoint URL (required)
  WEBSOCKET_URL     Cart event websocket URL (optional)
  POLL_INTERVAL     Cart polling interval, "0" disables (default: "0")
  CUSTOMER_ID       Logged-in customer identifier (optional)

  DEBOUNCE          Trigger debounce window (default: "500ms")
  SESSION_TIMEOUT   Idle session timeout (default: "30m")
  RESULT_CACHE_TTL  Local eligibility cache TTL (default: "5m")
  SWEEP_INTERVAL    Cache and session sweep interval (default: "60s")
  MAX_ATTEMPTS      Eligibility request attempts (default: "3")
  RETRY_BACKOFF     Delay between rate-limited retries (default: "1s")
  REQUEST_TIMEOUT   HTTP request timeout (default: "10s")
  EVENT_BUFFER_SIZE Trigger event buffer size (default: "100")

  METRICS_ENABLED   Enable Prometheus metrics (default: "false")
  METRICS_ADDR      Metrics server address (default: ":9091")
  METRICS_PATH      Metrics endpoint path (default: "/metrics")`)
}

func runAgent() int {
	cfg := config.LoadAgent()

	if err := config.ValidateAgent(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	store, err := storefront.NewClient(cfg.StorefrontURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build storefront client: %v\n", err)
		return exitRuntimeError
	}
	store = store.WithTimeout(cfg.RequestTimeout)

	eligibility := monitor.NewHTTPEligibilityClient(cfg.EngineURL).WithTimeout(cfg.RequestTimeout)

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
			log.Printf("cartmon: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("cartmon: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("cartmon: METRICS_ENABLED not set; metrics disabled")
	}

	busOpts := []channel.Option{}
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBufferSize, busOpts...)

	mon := monitor.New(monitor.Config{
		Debounce:       cfg.Debounce,
		CacheTTL:       cfg.ResultCacheTTL,
		SessionTimeout: cfg.SessionTimeout,
		SweepInterval:  cfg.SweepInterval,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBackoff:   cfg.RetryBackoff,
	}, store, eligibility, monitor.StaticIdentity(cfg.CustomerID), storefront.NewLogNotifier())
	if metricsSink != nil {
		mon = mon.WithMetrics(metricsSink)
	}

	observerCtx, stopObservers := context.WithCancel(context.Background())
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopObservers()
	defer stopMonitor()

	var observers sync.WaitGroup

	if cfg.WebsocketURL != "" {
		observers.Add(1)
		go func() {
			defer observers.Done()
			storefront.NewWebsocketObserver(cfg.WebsocketURL, bus).Run(observerCtx)
		}()
		log.Printf("cartmon: websocket observer enabled (%s)", cfg.WebsocketURL)
	} else {
		log.Println("cartmon: WEBSOCKET_URL not set; websocket observer disabled")
	}

	if cfg.PollInterval > 0 {
		observers.Add(1)
		go func() {
			defer observers.Done()
			storefront.NewPollObserver(cfg.PollInterval, bus).Run(observerCtx)
		}()
		log.Printf("cartmon: poll observer enabled (interval=%s)", cfg.PollInterval)
	} else {
		log.Println("cartmon: POLL_INTERVAL=0; poll observer disabled")
	}

	var monitorDone sync.WaitGroup
	monitorDone.Add(1)
	go func() {
		defer monitorDone.Done()
		mon.Run(monitorCtx, bus.Channel())
	}()

	log.Printf("cartmon: started (storefront=%s, engine=%s)", cfg.StorefrontURL, cfg.EngineURL)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("cartmon: received signal %v, shutting down", received)

	// Phase 1: Stop observers so no new triggers are produced.
	log.Println("cartmon: stopping observers...")
	stopObservers()
	observers.Wait()
	log.Println("cartmon: observers stopped")

	// Phase 2: Stop the monitor loop.
	log.Println("cartmon: stopping monitor...")
	stopMonitor()
	monitorDone.Wait()
	log.Println("cartmon: monitor stopped")

	// Phase 3: Stop metrics server if running.
	if metricsServer != nil {
		log.Println("cartmon: stopping metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("cartmon: metrics server shutdown error: %v", err)
		}
		log.Println("cartmon: metrics server stopped")
	}

	log.Println("cartmon: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.LoadAgent()

	if err := config.ValidateAgent(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.LoadAgent()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("cartmon version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
