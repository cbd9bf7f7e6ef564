package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/petclassify/internal/classifier"
	"github.com/example/petclassify/internal/features"
	"github.com/example/petclassify/internal/logging"
	"github.com/example/petclassify/internal/repository"
	"github.com/example/petclassify/internal/retry"
)

// ErrNotFound is returned when no classification matches the request and user.
var ErrNotFound = errors.New("classification not found")

// ClassificationRepository defines the persistence operations needed by the use case.
type ClassificationRepository interface {
	SaveLog(ctx context.Context, log *repository.ClassificationLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.ClassificationLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.ClassificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Extractor reduces encoded image bytes to Features.
type Extractor func(ctx context.Context, r io.Reader) (features.Features, error)

// Options tunes a ClassificationUseCase. The zero value uses features.Extract,
// process-wide randomness and retry.DefaultPolicy, and reports decode
// failures instead of substituting a fallback.
type Options struct {
	// FallbackOnDecodeError substitutes a random classification when an
	// upload cannot be decoded. The result is flagged as a fallback.
	FallbackOnDecodeError bool
	// MaxPixels rejects uploads whose header declares more pixels, before
	// decoding. Ignored when Extract is set; non-positive disables it.
	MaxPixels int64
	Noise     classifier.Noise
	Source    classifier.Source
	Extract   Extractor
	Retry     retry.Policy
}

// ClassificationUseCase sequences feature extraction and scoring for an
// upload and owns everything the core does not: processing time, fallback
// policy, persistence and caching.
type ClassificationUseCase struct {
	repo     ClassificationRepository
	cache    Cache
	logger   *zap.Logger
	extract  Extractor
	noise    classifier.Noise
	source   classifier.Source
	fallback bool
	policy   retry.Policy
}

// Result is the outcome of one upload.
type Result struct {
	RequestID      string                    `json:"request_id"`
	Features       *features.Features        `json:"features,omitempty"`
	Classification classifier.Classification `json:"classification"`
	Fallback       bool                      `json:"fallback"`
}

type cachedClassification struct {
	RequestID        string    `json:"request_id"`
	UserID           string    `json:"user_id"`
	Prediction       string    `json:"prediction"`
	Confidence       float64   `json:"confidence"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
	Fallback         bool      `json:"fallback"`
	AspectRatio      float64   `json:"aspect_ratio"`
	Brightness       float64   `json:"brightness"`
	Contrast         float64   `json:"contrast"`
	DominantColors   string    `json:"dominant_colors"`
	Details          string    `json:"details"`
	Hash             string    `json:"sha1_hash"`
	CreatedAt        time.Time `json:"created_at"`
}

// DuplicateReport lists earlier classifications of the same image bytes.
type DuplicateReport struct {
	Request    *repository.ClassificationLog
	Duplicates []*repository.ClassificationLog
}

// NewClassificationUseCase constructs a new use case instance.
func NewClassificationUseCase(repo ClassificationRepository, cache Cache, logger *zap.Logger, opts Options) *ClassificationUseCase {
	uc := &ClassificationUseCase{
		repo:     repo,
		cache:    cache,
		logger:   logger.Named("classification_usecase"),
		extract:  opts.Extract,
		noise:    opts.Noise,
		source:   opts.Source,
		fallback: opts.FallbackOnDecodeError,
		policy:   opts.Retry,
	}
	if uc.extract == nil {
		maxPixels := opts.MaxPixels
		uc.extract = func(ctx context.Context, r io.Reader) (features.Features, error) {
			return features.ExtractLimited(ctx, r, maxPixels)
		}
	}
	if uc.source == nil {
		uc.source = classifier.NewSeededSource(uint64(time.Now().UnixNano()))
	}
	if uc.noise == nil {
		uc.noise = classifier.Uniform(uc.source)
	}
	if uc.policy.Attempts == 0 {
		uc.policy = retry.DefaultPolicy
	}
	return uc
}

// ExtractFeatures reduces an upload without scoring or persisting it.
func (uc *ClassificationUseCase) ExtractFeatures(ctx context.Context, imageBytes []byte) (features.Features, error) {
	f, err := uc.extract(ctx, bytes.NewReader(imageBytes))
	if err != nil {
		return features.Features{}, logging.NewOperationError("usecase.extract_features", "", err)
	}
	return f, nil
}

// ClassifyImage extracts, scores, persists and caches one upload.
func (uc *ClassificationUseCase) ClassifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.classify_image", requestID)

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, statusProcessing, processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	result := &Result{RequestID: requestID}
	f, err := uc.extract(ctx, bytes.NewReader(imageBytes))
	switch {
	case err == nil:
		result.Features = &f
		result.Classification = classifier.Classify(f, uc.noise)
	case uc.fallback && features.IsDecodeError(err):
		// Fallback policy: an undecodable upload still gets a displayed
		// result, flagged so clients and metrics can tell it apart.
		opLogger.Warn("image could not be decoded, using fallback classification", zap.Error(err))
		result.Classification = classifier.Fallback(uc.source)
		result.Fallback = true
	default:
		wrapped := logging.NewOperationError("usecase.extract_features", requestID, err)
		opLogger.Warn("feature extraction failed", zap.Error(wrapped))
		return "", nil, wrapped
	}
	result.Classification.ProcessingTimeMs = processingTimeMs(uc.source)

	hash := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(hash[:])
	log := &repository.ClassificationLog{
		RequestID:        requestID,
		UserID:           userID,
		Prediction:       string(result.Classification.Prediction),
		Confidence:       result.Classification.Confidence,
		ProcessingTimeMs: result.Classification.ProcessingTimeMs,
		Fallback:         result.Fallback,
		SHA1Hash:         hashHex,
		CreatedAt:        time.Now().UTC(),
	}
	if result.Features != nil {
		log.AspectRatio = result.Features.AspectRatio
		log.Brightness = result.Features.Brightness
		log.Contrast = result.Features.Contrast
		log.DominantColors = joinColors(result.Features.DominantColors)
	}
	log.Details = fmt.Sprintf("prediction:%s confidence:%.4f cat:%.4f dog:%.4f fallback:%t hash:%s",
		log.Prediction, log.Confidence, result.Classification.CatScore, result.Classification.DogScore, log.Fallback, hashHex)

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist classification log", zap.Error(wrapped))
		return "", nil, wrapped
	}

	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Error("failed to serialize classification result", zap.Error(err))
		return "", nil, err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache classification result", zap.Error(err))
		return "", nil, err
	}

	opLogger.Info("image classified",
		zap.String("prediction", log.Prediction),
		zap.Float64("confidence", log.Confidence),
		zap.Bool("fallback", log.Fallback))

	return requestID, result, nil
}

// GetResult retrieves a cached classification or loads it from persistence.
func (uc *ClassificationUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.ClassificationLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil && cached != statusProcessing:
		var payload cachedClassification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			return fromCached(payload), nil
		}
	case err != nil && !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return log, nil
}

// GetDuplicateReport builds a duplicate report for a classification request.
func (uc *ClassificationUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, notFound(err)
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *ClassificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.logger, uc.policy, operation, requestID, fn)
}

func (uc *ClassificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
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

// processingTimeMs fabricates the displayed processing time, 150-450ms.
func processingTimeMs(src classifier.Source) float64 {
	return 150 + src.Float64()*300
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func joinColors(colors []features.ColorLabel) string {
	names := make([]string, len(colors))
	for i, c := range colors {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

func toCached(log *repository.ClassificationLog) cachedClassification {
	return cachedClassification{
		RequestID:        log.RequestID,
		UserID:           log.UserID,
		Prediction:       log.Prediction,
		Confidence:       log.Confidence,
		ProcessingTimeMs: log.ProcessingTimeMs,
		Fallback:         log.Fallback,
		AspectRatio:      log.AspectRatio,
		Brightness:       log.Brightness,
		Contrast:         log.Contrast,
		DominantColors:   log.DominantColors,
		Details:          log.Details,
		Hash:             log.SHA1Hash,
		CreatedAt:        log.CreatedAt,
	}
}

func fromCached(payload cachedClassification) *repository.ClassificationLog {
	return &repository.ClassificationLog{
		RequestID:        payload.RequestID,
		UserID:           payload.UserID,
		Prediction:       payload.Prediction,
		Confidence:       payload.Confidence,
		ProcessingTimeMs: payload.ProcessingTimeMs,
		Fallback:         payload.Fallback,
		AspectRatio:      payload.AspectRatio,
		Brightness:       payload.Brightness,
		Contrast:         payload.Contrast,
		DominantColors:   payload.DominantColors,
		Details:          payload.Details,
		SHA1Hash:         payload.Hash,
		CreatedAt:        payload.CreatedAt,
	}
}
