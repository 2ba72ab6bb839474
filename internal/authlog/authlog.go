// Package authlog は認証試行の相関ID付き診断情報を提供する。
// 直近のエラーとメトリクスを容量制限付きリングバッファに保持し、
// 内部ヘルスチェックエンドポイントから参照できるようにする。
package authlog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultCapacity はリングバッファのデフォルト容量。
const defaultCapacity = 100

// NewCorrelationID は新しい相関IDを生成する。
// 1つの論理操作の間に出力される全ログ・メトリクスに付与する。
func NewCorrelationID() string {
	return uuid.New().String()
}

// ErrorEntry は直近エラーバッファの1エントリを表す。
type ErrorEntry struct {
	CorrelationID string    `json:"correlation_id"`
	Operation     string    `json:"operation"`
	ErrorType     string    `json:"error_type"`
	Message       string    `json:"message"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// MetricEntry は直近メトリクスバッファの1エントリを表す。
type MetricEntry struct {
	CorrelationID string        `json:"correlation_id"`
	Operation     string        `json:"operation"`
	Outcome       string        `json:"outcome"`
	Duration      time.Duration `json:"duration_ns"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// Recorder は相関ID付きの構造化認証ログを記録する。
// slogへの出力と同時に、直近エントリを容量制限付きバッファへ保持する。
// 容量超過時は古いエントリから破棄する（時間では破棄しない）。
type Recorder struct {
	logger   *slog.Logger
	capacity int

	mu      sync.Mutex
	errors  []ErrorEntry
	metrics []MetricEntry
}

// NewRecorder はRecorderを生成する。
// capacityが0以下の場合はデフォルト容量（100）を使用する。
func NewRecorder(logger *slog.Logger, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		logger:   logger,
		capacity: capacity,
	}
}

// RecordError はエラーをslogに出力し、直近エラーバッファへ追加する。
func (r *Recorder) RecordError(correlationID, operation, errorType, message string) {
	r.logger.Error("auth error",
		slog.String("correlation_id", correlationID),
		slog.String("operation", operation),
		slog.String("error_type", errorType),
		slog.String("message", message),
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, ErrorEntry{
		CorrelationID: correlationID,
		Operation:     operation,
		ErrorType:     errorType,
		Message:       message,
		OccurredAt:    time.Now(),
	})
	if len(r.errors) > r.capacity {
		r.errors = r.errors[len(r.errors)-r.capacity:]
	}
}

// RecordMetric は操作の結果と所要時間をslogに出力し、直近メトリクスバッファへ追加する。
func (r *Recorder) RecordMetric(correlationID, operation, outcome string, duration time.Duration) {
	r.logger.Info("auth metric",
		slog.String("correlation_id", correlationID),
		slog.String("operation", operation),
		slog.String("outcome", outcome),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics = append(r.metrics, MetricEntry{
		CorrelationID: correlationID,
		Operation:     operation,
		Outcome:       outcome,
		Duration:      duration,
		RecordedAt:    time.Now(),
	})
	if len(r.metrics) > r.capacity {
		r.metrics = r.metrics[len(r.metrics)-r.capacity:]
	}
}

// RecentErrors は直近エラーのコピーを新しい順で返す。
func (r *Recorder) RecentErrors() []ErrorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ErrorEntry, len(r.errors))
	for i, e := range r.errors {
		out[len(r.errors)-1-i] = e
	}
	return out
}

// RecentMetrics は直近メトリクスのコピーを新しい順で返す。
func (r *Recorder) RecentMetrics() []MetricEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]MetricEntry, len(r.metrics))
	for i, m := range r.metrics {
		out[len(r.metrics)-1-i] = m
	}
	return out
}
