package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wuchinator/monetai-go/internal/agent"
	"github.com/Wuchinator/monetai-go/internal/config"
	"github.com/Wuchinator/monetai-go/pkg/kafka"
	"github.com/Wuchinator/monetai-go/pkg/logger"
	"github.com/Wuchinator/monetai-go/pkg/monetai"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const initRetryInterval = 5 * time.Second

func main() {

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Error loading config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Error initializing logger: %v", err))
	}

	defer log.Sync()

	log = logger.WithService(log, "monetai-agent")

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Starting Monetai Agent",
		zap.String("environment", cfg.Environment),
		zap.String("health_port", cfg.HealthPort),
		zap.String("platform", cfg.Monetai.Platform),
		zap.Bool("kafka", cfg.Kafka.KafkaEnabled()),
	)

	client := monetai.NewHTTPClient(monetai.HTTPConfig{
		BaseURL: cfg.Monetai.APIBaseURL,
		Timeout: cfg.Monetai.HTTPTimeout,
	}, log)

	sdk := monetai.New(client,
		monetai.WithLogger(log),
		monetai.WithPlatform(cfg.Monetai.Platform),
		monetai.WithBilling(cfg.Monetai.BundleID, nil, nil),
	)

	var publisher agent.Publisher
	if cfg.Kafka.KafkaEnabled() {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.DiscountsTopic,
			Retries:          cfg.Kafka.ProducerRetries,
			Timeout:          cfg.Kafka.ProducerTimeout,
			RequiredAcks:     cfg.Kafka.RequiredAcks,
			Compression:      cfg.Kafka.CompressionType,
			IdempotentWrites: cfg.Kafka.IdempotentWrites,
			MaxMessageBytes:  cfg.Kafka.MaxMessageBytes,
		}, log)
		if err != nil {
			log.Fatal("Error initializing kafka producer", zap.Error(err))
		}
		defer producer.Close()
		publisher = producer
	}

	bridge := agent.NewService(sdk, publisher, sdk.UserID, log)
	cancelSubscription := sdk.Subscribe(bridge.OnDiscountChange)
	defer cancelSubscription()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bridge.Run(ctx)
	go sdk.WatchExpiry(ctx, cfg.Monetai.ExpiryCheckInterval, bridge.OnDiscountExpired)

	if cfg.Kafka.KafkaEnabled() {
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:           cfg.Kafka.Brokers,
			Topics:            []string{cfg.Kafka.AppEventsTopic},
			GroupID:           cfg.Kafka.ConsumerGroup,
			AutoCommit:        true,
			CommitInterval:    1 * time.Second,
			SessionTimeout:    10 * time.Second,
			RebalanceStrategy: "sticky",
		}, bridge.CreateMessageHandler(), log)
		if err != nil {
			log.Fatal("Error initializing kafka consumer", zap.Error(err))
		}
		defer consumer.Close()

		// events consumed before initialization completes are queued by the sdk
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("Consumer error", zap.Error(err))
			}
		}()
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingInterceptor(log),
		recoveryInterceptor(log)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	go agent.WatchHealth(ctx, healthServer, sdk, time.Second)

	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", ":"+cfg.HealthPort)
	if err != nil {
		log.Fatal("Error initializing gRPC listener", zap.Error(err))
	}

	go func() {
		log.Info("Starting gRPC server", zap.String("port", cfg.HealthPort))
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatal("Error initializing gRPC server", zap.Error(err))
		}
	}()

	go initialize(ctx, sdk, cfg.Monetai, healthServer, log)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Monetai Agent")
	cancel()
	healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	select {
	case <-stopped:
		log.Info("gRPC server stopped")
	case <-shutdownCtx.Done():
		log.Warn("shutdown gRPC server timed out")
		grpcServer.Stop()
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := sdk.Flush(flushCtx); err != nil {
		log.Warn("Pending events not delivered before shutdown", zap.Error(err))
	}

	sdk.Reset()
	log.Info("Monetai Agent stopped")
}

// initialize retries until the session is ready or ctx is cancelled.
func initialize(ctx context.Context, sdk *monetai.SDK, cfg config.MonetaiConfig, hs *health.Server, log *zap.Logger) {
	for {
		result, err := sdk.Initialize(ctx, cfg.SDKKey, cfg.UserID)
		if err == nil {
			agent.SyncHealth(hs, sdk)
			log.Info("Monetai session ready",
				zap.Int("organization_id", result.OrganizationID),
				zap.String("user_id", result.UserID),
			)
			break
		}

		log.Error("Monetai initialization failed, retrying",
			zap.Error(err),
			zap.Duration("retry_in", initRetryInterval),
		)
		select {
		case <-time.After(initRetryInterval):
		case <-ctx.Done():
			return
		}
	}

	if !cfg.PredictOnStart {
		return
	}

	prediction, err := sdk.Predict(ctx)
	if err != nil {
		log.Error("Startup prediction failed", zap.Error(err))
		return
	}
	fields := []zap.Field{}
	if prediction.Prediction != nil {
		fields = append(fields, zap.Stringer("prediction", *prediction.Prediction))
	}
	if prediction.TestGroup != nil {
		fields = append(fields, zap.Stringer("test_group", *prediction.TestGroup))
	}
	log.Info("Startup prediction", fields...)
}

func loggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
		}

		if err != nil {
			fields = append(fields, zap.Error(err))
			log.Error("gRPC call failed", fields...)
		} else {
			log.Debug("gRPC call", fields...)
		}

		return resp, err
	}
}

func recoveryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Panic recovered",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
				)
				err = fmt.Errorf("internal server error")
			}
		}()

		return handler(ctx, req)
	}
}
