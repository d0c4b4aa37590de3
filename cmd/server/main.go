package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"

	"github.com/commercekit/inventory-core/internal/cache"
	"github.com/commercekit/inventory-core/internal/config"
	"github.com/commercekit/inventory-core/internal/events"
	"github.com/commercekit/inventory-core/internal/inventory"
	"github.com/commercekit/inventory-core/internal/orders"
	"github.com/commercekit/inventory-core/internal/storage"
	"github.com/commercekit/inventory-core/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Environment)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := initTracer(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("error shutting down tracer", zap.Error(err))
		}
	}()

	mp, err := initMetrics(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize metrics", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Warn("error shutting down meter", zap.Error(err))
		}
	}()

	pool, err := storage.NewPool(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer pool.Close()

	if err := storage.InitSchema(ctx, pool); err != nil {
		log.Fatal("failed to initialize schema", zap.Error(err))
	}

	tracer := tp.Tracer(cfg.ServiceName)

	// Change propagation: mutations → classifier → registry → cache eviction.
	registry := events.NewRegistry(log)
	readCache := cache.New(cfg, log)
	invalidator := cache.NewInvalidator(readCache, log)
	unsubscribe := invalidator.Register(registry)
	defer unsubscribe()

	inventoryRepo := inventory.NewRepository(pool)
	inventoryUC := inventory.NewUseCase(inventoryRepo, registry, tracer, log)
	reaper := inventory.NewReaper(inventoryUC, cfg.ReaperBatchSize, log)
	inventoryHandler := inventory.NewHandler(inventoryUC, reaper,
		time.Duration(cfg.ReservationTTLSeconds)*time.Second)

	orderRepo := orders.NewRepository(pool)
	orderUC := orders.NewUseCase(orderRepo, inventoryRepo, inventoryUC, registry, tracer, log)
	orderHandler := orders.NewHandler(orderUC)

	// Scheduled expiry sweep, alongside the external-scheduler endpoint.
	go runReaperLoop(ctx, reaper, time.Duration(cfg.ReaperIntervalSeconds)*time.Second, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(logger.GinMiddleware(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": cfg.ServiceName})
	})

	api := r.Group("/api")
	{
		api.POST("/orders", orderHandler.CreateOrder)
		api.GET("/orders/:id", orderHandler.GetOrder)
		api.POST("/orders/:id/confirm", orderHandler.ConfirmOrder)
		api.POST("/orders/:id/cancel", orderHandler.CancelOrder)
		api.POST("/orders/:id/resync", orderHandler.ManualResync)

		api.POST("/inventory/items", inventoryHandler.StockItem)
		api.GET("/inventory/items/:id", inventoryHandler.GetItem)
		api.POST("/inventory/items/:id/retire", inventoryHandler.RetireItem)

		api.POST("/reservations", inventoryHandler.Reserve)
		api.POST("/reservations/:id/release", inventoryHandler.Release)

		api.POST("/maintenance/expiry-sweep", inventoryHandler.ExpirySweep)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
}

func runReaperLoop(ctx context.Context, reaper *inventory.Reaper, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := reaper.Sweep(ctx)
			if err != nil {
				log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				log.Info("expiry sweep completed", zap.Int("expired_count", count))
			}
		}
	}
}

func initTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(ctx context.Context, cfg *config.Config) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp, nil
}
