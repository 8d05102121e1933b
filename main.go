package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/skin-advisor/internal/auth"
	"github.com/example/skin-advisor/internal/catalog"
	"github.com/example/skin-advisor/internal/handlers"
	"github.com/example/skin-advisor/internal/imaging"
	"github.com/example/skin-advisor/internal/logging"
	"github.com/example/skin-advisor/internal/repository"
	"github.com/example/skin-advisor/internal/usecase"
	"github.com/example/skin-advisor/internal/vision"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, logger)
	logRepo := repository.NewAnalysisLogRepository(db, logger)
	if err := logRepo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	mongoDB := initMongo(ctx, logger)
	productRepo := catalog.NewProductRepository(mongoDB, logger)

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, logger)

	engine, err := vision.NewEngine(vision.Config{
		ModelDir:            getEnv("MODEL_DIR", "models"),
		DetectionConfidence: 0.5,
		MeshConfidence:      0.5,
		AppendAllFaces:      getEnvBool("APPEND_ALL_FACES", true),
	}, logger)
	if err != nil {
		logger.Fatal("failed to load vision models", zap.Error(err))
	}
	defer engine.Close()

	normalizer, err := imaging.NewNormalizer(getEnv("UPLOAD_DIR", "uploads"), logger)
	if err != nil {
		logger.Fatal("failed to prepare upload staging", zap.Error(err))
	}

	threshold := getEnvFloat("SCORE_THRESHOLD", 0.3)
	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewAnalysisUseCase(normalizer, engine.Face, engine.Scorers(), productRepo, logRepo, cache, threshold, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	var authMiddleware gin.HandlerFunc
	if getEnvBool("AUTH_REQUIRED", false) {
		jwtSecret := getEnv("JWT_SECRET", "dev-secret")
		jwtAudience := os.Getenv("JWT_AUDIENCE")
		authMiddleware = auth.JWTMiddleware(jwtSecret, jwtAudience)
	}

	handlers.RegisterRoutes(r, uc, authMiddleware)

	addr := ":" + getEnv("PORT", "8080")
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	logger.Info("skin advisor API listening",
		zap.String("addr", addr),
		zap.Float64("score_threshold", float64(threshold)))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, zapLogger *zap.Logger) *gorm.DB {
	dsn := getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=skinadvisor port=5432 sslmode=disable")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initMongo(ctx context.Context, zapLogger *zap.Logger) *mongo.Database {
	uri := getEnv("MONGO_URI", "mongodb://mongo:27017")
	clientOpts := options.Client().ApplyURI(uri)
	clientOpts.SetMinPoolSize(2)
	clientOpts.SetMaxPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		zapLogger.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		zapLogger.Fatal("mongodb ping failed", zap.Error(err))
	}

	return client.Database(getEnv("MONGO_DB", "skincare_app"))
}

func initRedis(ctx context.Context, zapLogger *zap.Logger) *redis.Client {
	addr := getEnv("REDIS_ADDR", "redis:6379")
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float32) float32 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return fallback
	}
	return float32(parsed)
}
