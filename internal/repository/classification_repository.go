package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/petclassify/internal/retry"
)

// ClassificationLog is one persisted classification outcome. The uploaded
// image is never stored, only its SHA-1.
type ClassificationLog struct {
	ID               uint      `gorm:"primaryKey"`
	RequestID        string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID           string    `gorm:"column:user_id;size:64;index"`
	Prediction       string    `gorm:"column:prediction;size:8"`
	Confidence       float64   `gorm:"column:confidence"`
	ProcessingTimeMs float64   `gorm:"column:processing_time_ms"`
	Fallback         bool      `gorm:"column:fallback"`
	AspectRatio      float64   `gorm:"column:aspect_ratio"`
	Brightness       float64   `gorm:"column:brightness"`
	Contrast         float64   `gorm:"column:contrast"`
	DominantColors   string    `gorm:"column:dominant_colors;size:64"`
	SHA1Hash         string    `gorm:"column:sha1_hash;size:40;index"`
	Details          string    `gorm:"column:details;type:text"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ClassificationLog) TableName() string {
	return "classification_logs"
}

// MetricsAggregation holds raw aggregates over all classification logs.
type MetricsAggregation struct {
	TotalCount              int64
	CatCount                int64
	DogCount                int64
	FallbackCount           int64
	AverageConfidence       float64
	AverageProcessingTimeMs float64
}

// ClassificationRepository provides persistence APIs for classification logs.
type ClassificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClassificationRepository creates a new repository instance.
func NewClassificationRepository(db *gorm.DB, logger *zap.Logger) *ClassificationRepository {
	return &ClassificationRepository{
		db:             db,
		logger:         logger.Named("classification_repository"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ClassificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&ClassificationLog{})
	})
}

// SaveLog persists a classification log entry.
func (r *ClassificationRepository) SaveLog(ctx context.Context, log *ClassificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a classification log matching the request and owner.
func (r *ClassificationRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*ClassificationLog, error) {
	var log ClassificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists the user's other classifications of the same image bytes, newest first.
func (r *ClassificationRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*ClassificationLog, error) {
	var logs []*ClassificationLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND sha1_hash = ? AND request_id <> ?", userID, hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics summarises every stored classification.
func (r *ClassificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&ClassificationLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN prediction = 'cat' THEN 1 ELSE 0 END), 0) AS cat_count,
				COALESCE(SUM(CASE WHEN prediction = 'dog' THEN 1 ELSE 0 END), 0) AS dog_count,
				COALESCE(SUM(CASE WHEN fallback THEN 1 ELSE 0 END), 0) AS fallback_count,
				COALESCE(AVG(confidence), 0) AS average_confidence,
				COALESCE(AVG(processing_time_ms), 0) AS average_processing_time_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *ClassificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, r.logger, policy, operation, requestID, fn)
}
