package usecase

import "context"

// MetricsSummary represents aggregated classification insights.
type MetricsSummary struct {
	TotalRequests           int64   `json:"total_requests"`
	CatCount                int64   `json:"cat_count"`
	DogCount                int64   `json:"dog_count"`
	FallbackCount           int64   `json:"fallback_count"`
	CatRate                 float64 `json:"cat_rate"`
	FallbackRate            float64 `json:"fallback_rate"`
	AverageConfidence       float64 `json:"average_confidence"`
	AverageProcessingTimeMs float64 `json:"average_processing_time_ms"`
}

// GetMetricsSummary aggregates classification metrics from persisted logs.
func (uc *ClassificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:           aggregation.TotalCount,
		CatCount:                aggregation.CatCount,
		DogCount:                aggregation.DogCount,
		FallbackCount:           aggregation.FallbackCount,
		AverageConfidence:       aggregation.AverageConfidence,
		AverageProcessingTimeMs: aggregation.AverageProcessingTimeMs,
	}

	if aggregation.TotalCount > 0 {
		total := float64(aggregation.TotalCount)
		summary.CatRate = float64(aggregation.CatCount) / total
		summary.FallbackRate = float64(aggregation.FallbackCount) / total
	}

	return summary, nil
}
