package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	alarmapp "plant-edge/internal/alarms/application"
	alarmhttp "plant-edge/internal/alarms/interfaces/http"
	apihttp "plant-edge/internal/api/http"
	"plant-edge/internal/collector"
	"plant-edge/internal/configsync"
	"plant-edge/internal/controlplane"
	"plant-edge/internal/ingest"
	"plant-edge/internal/observability/metrics"
	"plant-edge/internal/outbox"
	"plant-edge/internal/processing"
	"plant-edge/internal/uploader"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	processor, err := processing.NewProcessor(cfg.Processing, logger)
	if err != nil {
		logger.Fatalf("processor error: %v", err)
	}
	if len(cfg.Tags) > 0 {
		if err := processor.UpdateTagConfigs(cfg.Tags); err != nil {
			logger.Fatalf("tag config error: %v", err)
		}
	}

	channel, err := ingest.NewChannel(cfg.ChannelCapacity, logger)
	if err != nil {
		logger.Fatalf("channel error: %v", err)
	}

	store, err := outbox.NewStore(cfg.Outbox, logger)
	if err != nil {
		logger.Fatalf("outbox error: %v", err)
	}

	broker := alarmhttp.NewSSEBroker()
	evaluator, err := alarmapp.NewEvaluator(nil, logger, alarmapp.WithNotifier(broker))
	if err != nil {
		logger.Fatalf("evaluator error: %v", err)
	}

	consumer, err := ingest.NewConsumer(channel, processor, store, evaluator, cfg.FlushBatchSize, cfg.FlushInterval, logger)
	if err != nil {
		logger.Fatalf("consumer error: %v", err)
	}
	go consumer.Run(ctx)

	var cpOpts []controlplane.Option
	if cfg.APISecret != "" {
		cpOpts = append(cpOpts, controlplane.WithAuthSecret([]byte(cfg.APISecret)))
	}
	cpClient, err := controlplane.NewClient(cfg.ControlPlaneURL, cfg.EdgeID, cpOpts...)
	if err != nil {
		logger.Fatalf("controlplane client error: %v", err)
	}

	sync, err := configsync.NewService(cpClient, cfg.ConfigSyncInterval, logger)
	if err != nil {
		logger.Fatalf("configsync error: %v", err)
	}
	sync.OnConfigChanged = processor.UpdateConfig
	sync.OnTagConfigsChanged = processor.UpdateTagConfigs
	sync.OnRulesChanged = evaluator.UpdateRules
	go sync.Run(ctx)

	up, err := uploader.New(store, cpClient, cfg.UploadInterval, cfg.UploadMaxBackoff, cfg.UploadBatchLimit, logger)
	if err != nil {
		logger.Fatalf("uploader error: %v", err)
	}
	go up.Run(ctx)

	go evaluator.RunOfflineSweep(ctx, cfg.OfflineSweepInterval)

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.Cleanup(ctx); err != nil && ctx.Err() == nil {
					logger.Printf("outbox cleanup error: %v", err)
				}
			}
		}
	}()

	var collectors []collector.Collector
	if cfg.MQTT != nil {
		mc, err := collector.NewMQTTCollector(*cfg.MQTT, logger)
		if err != nil {
			logger.Fatalf("mqtt collector error: %v", err)
		}
		collectors = append(collectors, mc)
	}
	if cfg.Simulator != nil {
		sim, err := collector.NewSimulator(*cfg.Simulator)
		if err != nil {
			logger.Fatalf("simulator error: %v", err)
		}
		collectors = append(collectors, sim)
	}
	if len(collectors) == 0 {
		logger.Printf("warning: no collectors configured, pipeline will stay idle")
	}
	runner := collector.NewRunner(channel, logger, collectors...)
	go runner.Run(ctx)

	alarmHandler, err := alarmhttp.NewHandler(evaluator)
	if err != nil {
		logger.Fatalf("alarm handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/alarms/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/stats", apihttp.NewStatsHandler(processor, store, channel, evaluator))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("plant-edge agent %s listening on %s", cfg.EdgeID, cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
	logger.Printf("shutdown complete")
}

type config struct {
	HTTPAddr        string
	EdgeID          string
	ControlPlaneURL string
	APISecret       string

	ChannelCapacity int
	FlushBatchSize  int
	FlushInterval   time.Duration

	UploadInterval   time.Duration
	UploadMaxBackoff time.Duration
	UploadBatchLimit int

	ConfigSyncInterval   time.Duration
	OfflineSweepInterval time.Duration
	CleanupInterval      time.Duration

	Outbox     outbox.Options
	Processing processing.Config
	Tags       map[string]processing.TagConfig
	MQTT       *collector.MQTTOptions
	Simulator  *collector.SimulatorOptions
}

// fileConfig is the optional YAML layer (AGENT_CONFIG); env vars carry
// the connection basics, the file carries the structured parts.
type fileConfig struct {
	Processing processing.Config               `yaml:"processing"`
	Tags       map[string]processing.TagConfig `yaml:"tags"`
	Outbox     outbox.Options                  `yaml:"outbox"`
	MQTT       *collector.MQTTOptions          `yaml:"mqtt"`
	Simulator  *collector.SimulatorOptions     `yaml:"simulator"`
}

func loadConfig() config {
	cfg := config{
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":9090"),
		EdgeID:               getenvDefault("EDGE_ID", ""),
		ControlPlaneURL:      getenvDefault("CONTROL_PLANE_URL", ""),
		APISecret:            getenvDefault("API_SECRET", ""),
		ChannelCapacity:      getenvIntDefault("CHANNEL_CAPACITY", 10000),
		FlushBatchSize:       getenvIntDefault("FLUSH_BATCH_SIZE", 500),
		FlushInterval:        getenvDuration("FLUSH_INTERVAL", 5*time.Second),
		UploadInterval:       getenvDuration("UPLOAD_INTERVAL", 10*time.Second),
		UploadMaxBackoff:     getenvDuration("UPLOAD_MAX_BACKOFF", 5*time.Minute),
		UploadBatchLimit:     getenvIntDefault("UPLOAD_BATCH_LIMIT", 1000),
		ConfigSyncInterval:   getenvDuration("CONFIG_SYNC_INTERVAL", time.Minute),
		OfflineSweepInterval: getenvDuration("OFFLINE_SWEEP_INTERVAL", 10*time.Second),
		CleanupInterval:      getenvDuration("CLEANUP_INTERVAL", time.Hour),
		Outbox: outbox.Options{
			Dir:           getenvDefault("OUTBOX_DIR", "data/outbox"),
			MaxSizeMB:     int64(getenvIntDefault("OUTBOX_MAX_SIZE_MB", 512)),
			RetentionDays: getenvIntDefault("OUTBOX_RETENTION_DAYS", 7),
			Compression:   getenvDefault("OUTBOX_COMPRESSION", "true") == "true",
		},
		Processing: processing.Config{
			OutlierAction: processing.OutlierPass,
		},
	}

	if path := os.Getenv("AGENT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read agent config: %v", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			log.Fatalf("parse agent config: %v", err)
		}
		cfg.Processing = fc.Processing
		cfg.Tags = fc.Tags
		if fc.Outbox.Dir != "" {
			cfg.Outbox = fc.Outbox
		}
		cfg.MQTT = fc.MQTT
		cfg.Simulator = fc.Simulator
	}

	if cfg.EdgeID == "" {
		log.Fatal("EDGE_ID is required")
	}
	if cfg.ControlPlaneURL == "" {
		log.Fatal("CONTROL_PLANE_URL is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
