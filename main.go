package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	analyticsrepo "zone-tracker/internal/analytics/infrastructure/postgres"
	analyticshttp "zone-tracker/internal/analytics/interfaces/http"
	apihttp "zone-tracker/internal/api/http"
	audiorepo "zone-tracker/internal/audio/infrastructure/postgres"
	audiohttp "zone-tracker/internal/audio/interfaces/http"
	masterdatarepo "zone-tracker/internal/masterdata/infrastructure/postgres"
	masterdatahttp "zone-tracker/internal/masterdata/interfaces/http"
	"zone-tracker/internal/observability/metrics"
	"zone-tracker/internal/occupancy/application"
	occupancyrepo "zone-tracker/internal/occupancy/infrastructure/postgres"
	occupancymqtt "zone-tracker/internal/occupancy/interfaces/mqtt"
	"zone-tracker/internal/schema"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := schema.EnsureSchema(ctx, db); err != nil {
		logger.Fatalf("schema bootstrap error: %v", err)
	}

	metrics.Init(db, logger)

	trackerCfg, err := application.LoadConfig()
	if err != nil {
		logger.Fatalf("tracker config error: %v", err)
	}

	ledger := occupancyrepo.NewLedger(db)
	tracker, err := application.NewTrackerService(ledger, application.SystemClock{})
	if err != nil {
		logger.Fatalf("tracker service error: %v", err)
	}

	consumer, err := occupancymqtt.NewConsumer(occupancymqtt.ConsumerConfig{
		BrokerURL:     cfg.MQTTBrokerURL,
		ClientID:      cfg.MQTTClientID,
		Topic:         cfg.MQTTTopic,
		DefaultSiteID: trackerCfg.DefaultSiteID,
		Workers:       cfg.MQTTWorkers,
		QueueSize:     cfg.MQTTQueueSize,
	}, tracker, logger)
	if err != nil {
		logger.Fatalf("mqtt consumer error: %v", err)
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatalf("mqtt connect error: %v", err)
	}
	defer consumer.Close()

	query := analyticsrepo.NewQuery(db)
	historyHandler, err := analyticshttp.NewDeviceHistoryHandler(query, trackerCfg, application.SystemClock{})
	if err != nil {
		logger.Fatalf("history handler error: %v", err)
	}
	mostVisitedHandler, err := analyticshttp.NewMostVisitedHandler(query, trackerCfg.DefaultSiteID)
	if err != nil {
		logger.Fatalf("most visited handler error: %v", err)
	}
	transitionsHandler, err := analyticshttp.NewTransitionsHandler(query, trackerCfg.DefaultSiteID)
	if err != nil {
		logger.Fatalf("transitions handler error: %v", err)
	}
	exportHandler, err := analyticshttp.NewExportHandler(query, trackerCfg.DefaultSiteID)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	zoneRepo := masterdatarepo.NewZoneRepository(db)
	zonesHandler, err := masterdatahttp.NewZonesHandler(zoneRepo, trackerCfg.DefaultSiteID)
	if err != nil {
		logger.Fatalf("zones handler error: %v", err)
	}
	anchorRepo := masterdatarepo.NewAnchorRepository(db)
	anchorsHandler, err := masterdatahttp.NewAnchorsHandler(anchorRepo, trackerCfg.DefaultSiteID)
	if err != nil {
		logger.Fatalf("anchors handler error: %v", err)
	}

	audioRepo := audiorepo.NewRepository(db)
	audioHandler, err := audiohttp.NewHandler(audioRepo, trackerCfg.DefaultSiteID)
	if err != nil {
		logger.Fatalf("audio handler error: %v", err)
	}

	queryHandler, err := apihttp.NewQueryHandler(db)
	if err != nil {
		logger.Fatalf("query handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/device/", historyHandler)
	mux.Handle("/metrics/most-visited", mostVisitedHandler)
	mux.Handle("/metrics/transitions", transitionsHandler)
	mux.Handle("/exports/", exportHandler)
	mux.Handle("/zones", zonesHandler)
	mux.Handle("/zones/bulk", zonesHandler)
	mux.Handle("/anchors", anchorsHandler)
	mux.Handle("/anchors/", anchorsHandler)
	mux.Handle("/audio/", audioHandler)
	mux.Handle("/query", queryHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", apihttp.NewHealthHandler(db))

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http serve error: %v", err)
	}
	logger.Printf("shutting down")
}

type config struct {
	DatabaseURL   string
	HTTPAddr      string
	MQTTBrokerURL string
	MQTTClientID  string
	MQTTTopic     string
	MQTTWorkers   int
	MQTTQueueSize int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:   getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		MQTTBrokerURL: getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:  getenvDefault("MQTT_CLIENT_ID", ""),
		MQTTTopic:     getenvDefault("MQTT_TOPIC", ""),
		MQTTWorkers:   getenvIntDefault("MQTT_WORKERS", 4),
		MQTTQueueSize: getenvIntDefault("MQTT_QUEUE_SIZE", 256),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
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

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
