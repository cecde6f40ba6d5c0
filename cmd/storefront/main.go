package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/admin"
	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/docstore"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/ledger"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/fjod/storefront/internal/receipt"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store
	var store docstore.Store
	var mongoDB *mongo.Database
	switch cfg.StoreDriver {
	case "mongo":
		mongoDB, err = docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		ms := docstore.NewMongoStore(mongoDB, logger)
		if err := ms.CreateIndexes(ctx); err != nil {
			logger.Fatal("Failed to create indexes", zap.Error(err))
		}
		store = ms
		logger.Info("Connected to MongoDB", zap.String("database", cfg.MongoDatabase))
	default:
		store = docstore.NewMemoryStore()
		logger.Warn("Using in-memory document store, state is lost on restart")
	}

	// Cart cache
	var cartCache cache.CartCache = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Redis connection failed", zap.Error(err))
		}
		cartCache = cache.NewRedisCache(redisClient, cfg.CartCacheTTL)
		logger.Info("Redis ping succeeded", zap.String("addr", cfg.RedisAddr))
	}

	// Identity
	verifier, err := identity.NewVerifier([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("Failed to create token verifier", zap.Error(err))
	}
	directory := identity.NewDirectory(store, logger.Named("identity"))
	if cfg.BootstrapAdmin != "" {
		if err := directory.Bootstrap(ctx, cfg.BootstrapAdmin); err != nil {
			logger.Fatal("Failed to bootstrap administrator", zap.Error(err))
		}
	}

	// Storefront services
	cat := catalog.New(store)
	sessions := cart.NewSessions(cat, cart.NewStoreMirror(store, cartCache, logger.Named("cart")), logger.Named("cart"))

	merchant := receipt.DefaultMerchant()
	sink, err := receipt.NewFileSink(cfg.ReceiptDir, merchant, logger.Named("receipt"))
	if err != nil {
		logger.Fatal("Failed to create receipt directory", zap.Error(err))
	}

	policy, err := checkout.ParsePolicy(cfg.StockPolicy)
	if err != nil {
		logger.Fatal("Invalid stock policy", zap.Error(err))
	}
	checkoutService := checkout.NewService(store,
		checkout.WithPolicy(policy),
		checkout.WithReceiptSink(sink),
		checkout.WithLogger(logger.Named("checkout")),
	)

	// Sales ledger
	var sales admin.SalesLedger
	var repo *ledger.Repository
	if cfg.LedgerDSN != "" {
		dialect, err := ledger.ParseDialect(cfg.LedgerDialect)
		if err != nil {
			logger.Fatal("Invalid ledger dialect", zap.Error(err))
		}
		repo, err = ledger.Open(ctx, dialect, cfg.LedgerDSN)
		if err != nil {
			logger.Fatal("Failed to open sales ledger", zap.Error(err))
		}
		defer repo.Close()
		sales = repo
	}
	adminService := admin.NewService(store, cat, sales, merchant, logger.Named("admin"))

	// Outbox relay and ledger consumer
	var workers sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		writer := outbox.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...)
		defer writer.Close()
		poller := outbox.NewPoller(store, writer, logger.Named("outbox"), outbox.WithTick(cfg.OutboxTick))
		workers.Add(1)
		go func() {
			defer workers.Done()
			poller.Run(ctx)
		}()

		if repo != nil {
			reader := ledger.NewKafkaReader(cfg.KafkaTopic, cfg.KafkaGroupID, cfg.KafkaBrokers...)
			defer reader.Close()
			consumer := ledger.NewConsumer(repo, reader, logger.Named("ledger"))
			workers.Add(1)
			go func() {
				defer workers.Done()
				consumer.Run(ctx)
			}()
		}
		logger.Info("Outbox relay started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		logger.Warn("No Kafka brokers configured, order events stay in the outbox")
	}

	router := h.NewRouter(h.Deps{
		Catalog:            cat,
		Sessions:           sessions,
		Checkout:           checkoutService,
		Admin:              adminService,
		Directory:          directory,
		Authenticator:      identity.NewAuthenticator(verifier, directory, logger.Named("auth")),
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		Logger:             logger.Named("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Storefront starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// gRPC health for orchestrators
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("port", cfg.GRPCHealthPort), zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)
	go func() {
		logger.Info("gRPC health listening", zap.String("port", cfg.GRPCHealthPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down storefront...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	sessions.FlushAll(shutdownCtx)
	workers.Wait()

	if mongoDB != nil {
		if err := mongoDB.Client().Disconnect(shutdownCtx); err != nil {
			logger.Warn("MongoDB disconnect failed", zap.Error(err))
		}
	}
	logger.Info("storefront stopped")
}
