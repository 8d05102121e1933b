package usecase

import "context"

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	FacesDetected    int64   `json:"faces_detected"`
	FaceDetectRate   float64 `json:"face_detect_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates analysis metrics from persisted logs.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:    aggregation.TotalCount,
		FacesDetected:    aggregation.FaceCount,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.FaceDetectRate = float64(aggregation.FaceCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
