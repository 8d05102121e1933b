package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/skin-advisor/internal/catalog"
	"github.com/example/skin-advisor/internal/imaging"
	"github.com/example/skin-advisor/internal/logging"
	"github.com/example/skin-advisor/internal/repository"
	"github.com/example/skin-advisor/internal/vision"
)

// Normalizer stages an uploaded blob into the reference raster encoding.
type Normalizer interface {
	Normalize(data []byte, filename, key string) (*imaging.NormalizedImage, error)
}

// ProductFinder is the catalog capability the pipeline depends on.
type ProductFinder interface {
	FindByConcerns(ctx context.Context, labels []string) ([]catalog.Product, error)
	FindBySkinType(ctx context.Context, skinType string) ([]catalog.Product, error)
}

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// AnalysisUseCase orchestrates the full inference pipeline: normalization,
// face gate, condition ensemble, concern merge, catalog match and response
// composition.
type AnalysisUseCase struct {
	normalizer     Normalizer
	face           vision.FaceAnalyzer
	scorers        []vision.Scorer
	products       ProductFinder
	repo           AnalysisRepository
	cache          Cache
	logger         *zap.Logger
	threshold      float32
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedAnalysis struct {
	RequestID    string    `json:"request_id"`
	FaceDetected bool      `json:"face_detected"`
	Concerns     string    `json:"concerns"`
	ProductCount int       `json:"product_count"`
	Hash         string    `json:"sha1_hash"`
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAnalysisUseCase constructs a new use case instance. The decision
// threshold is the single knob shared by the classifier cutoff and the
// detector confidence cutoff.
func NewAnalysisUseCase(
	normalizer Normalizer,
	face vision.FaceAnalyzer,
	scorers []vision.Scorer,
	products ProductFinder,
	repo AnalysisRepository,
	cache Cache,
	threshold float32,
	logger *zap.Logger,
) *AnalysisUseCase {
	return &AnalysisUseCase{
		normalizer:     normalizer,
		face:           face,
		scorers:        scorers,
		products:       products,
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("analysis_usecase"),
		threshold:      threshold,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AnalyzeSkin runs one pipeline invocation to completion. "No face" is a
// successful negative outcome; codec, model and catalog failures are errors.
func (uc *AnalysisUseCase) AnalyzeSkin(ctx context.Context, data []byte, filename string) (*AnalysisResponse, error) {
	requestID := uuid.NewString()
	started := time.Now()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_skin", requestID)

	cacheKey := fmt.Sprintf("analysis:%s", requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	img, err := uc.normalizer.Normalize(data, filename, requestID)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.normalize_image", requestID, err)
		opLogger.Error("image normalization failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer img.Close()

	scan, err := uc.face.Analyze(ctx, img)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.face_gate", requestID, err)
		opLogger.Error("face gate failed", zap.Error(wrapped))
		return nil, wrapped
	}

	if scan.FaceCount == 0 {
		resp := composeNoFaceResponse(requestID)
		if err := uc.finish(ctx, requestID, cacheKey, data, resp, started, opLogger); err != nil {
			return nil, err
		}
		return resp, nil
	}

	var scores []vision.ConditionScore
	for _, scorer := range uc.scorers {
		modelScores, err := scorer.Score(ctx, img)
		if err != nil {
			wrapped := logging.NewOperationError("usecase.condition_ensemble", requestID, err)
			opLogger.Error("model scoring failed", zap.Error(wrapped))
			return nil, wrapped
		}
		scores = append(scores, modelScores...)
	}

	concerns := MergeConcerns(scores, uc.threshold)
	labels := DetectedLabels(concerns)
	opLogger.Info("concerns merged",
		zap.Float32("threshold", uc.threshold),
		zap.Strings("detected", labels))

	// An empty concern set must not reach the store; a query with zero
	// conditions would match the whole catalog.
	products := []catalog.Product{}
	if len(labels) > 0 {
		products, err = uc.products.FindByConcerns(ctx, labels)
		if err != nil {
			wrapped := logging.NewOperationError("usecase.catalog_match", requestID, err)
			opLogger.Error("catalog lookup failed", zap.Error(wrapped))
			return nil, wrapped
		}
	}

	resp := composeResponse(requestID, scan, concerns, products)
	if err := uc.finish(ctx, requestID, cacheKey, data, resp, started, opLogger); err != nil {
		return nil, err
	}
	return resp, nil
}

// RecommendBySkinType serves the standalone self-report endpoint; it never
// touches the vision pipeline.
func (uc *AnalysisUseCase) RecommendBySkinType(ctx context.Context, skinType string) ([]catalog.Product, error) {
	return uc.products.FindBySkinType(ctx, skinType)
}

// finish persists the analysis log and caches the outcome.
func (uc *AnalysisUseCase) finish(ctx context.Context, requestID, cacheKey string, data []byte, resp *AnalysisResponse, started time.Time, opLogger *zap.Logger) error {
	hash := sha1.Sum(data)
	hashHex := hex.EncodeToString(hash[:])
	concernsJSON, err := json.Marshal(resp.Analysis)
	if err != nil {
		opLogger.Error("failed to serialize concern map", zap.Error(err))
		return err
	}

	log := &repository.AnalysisLog{
		RequestID:    requestID,
		SHA1Hash:     hashHex,
		FaceDetected: resp.FaceDetected,
		Concerns:     string(concernsJSON),
		ProductCount: len(resp.RecommendedProducts),
		LatencyMs:    time.Since(started).Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist analysis log", zap.Error(wrapped))
		return wrapped
	}

	cached := cachedAnalysis{
		RequestID:    requestID,
		FaceDetected: log.FaceDetected,
		Concerns:     log.Concerns,
		ProductCount: log.ProductCount,
		Hash:         log.SHA1Hash,
		LatencyMs:    log.LatencyMs,
		CreatedAt:    log.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize analysis result", zap.Error(err))
		return err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache analysis result", zap.Error(err))
		return err
	}
	return nil
}

// GetResult retrieves a cached analysis outcome or loads from persistence.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, requestID string) (*repository.AnalysisLog, error) {
	cacheKey := fmt.Sprintf("analysis:%s", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedAnalysis
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.RequestID != "" {
			return &repository.AnalysisLog{
				RequestID:    payload.RequestID,
				SHA1Hash:     payload.Hash,
				FaceDetected: payload.FaceDetected,
				Concerns:     payload.Concerns,
				ProductCount: payload.ProductCount,
				LatencyMs:    payload.LatencyMs,
				CreatedAt:    payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		// A cache miss is an outcome, not a failure.
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
