// Package breaker は依存先ごとのサーキットブレーカーを提供する。
// 劣化した外部依存先への呼び出しを遮断し、連鎖的な障害を防ぐ。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State はブレーカーの状態を表す。
type State string

const (
	// StateClosed は通常状態。呼び出しはそのまま通過する。
	StateClosed State = "CLOSED"
	// StateOpen は遮断状態。依存先を呼び出さずに即座に失敗する。
	StateOpen State = "OPEN"
	// StateHalfOpen は試行状態。1回だけ呼び出しを許可する。
	StateHalfOpen State = "HALF_OPEN"
)

// ErrOpen はブレーカーがOPENで呼び出しが遮断されたことを表す。
// 呼び出し側は通常の認証失敗と区別し、バックオフ後の再試行を案内する。
var ErrOpen = errors.New("circuit breaker is open")

// ignoredError は業務上のエラー（レコード未検出等）を包み、
// ブレーカーの失敗カウントから除外するためのマーカー。
type ignoredError struct {
	err error
}

func (e *ignoredError) Error() string { return e.err.Error() }
func (e *ignoredError) Unwrap() error { return e.err }

// Ignore はエラーをブレーカーの失敗として数えないよう包んで返す。
// 依存先が正常に応答した上での業務エラー（"該当レコードなし"等）に使う。
// タイムアウト・接続エラー・5xx相当のインフラ障害には使わないこと。
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return &ignoredError{err: err}
}

// Config はブレーカーの動作設定。
type Config struct {
	// FailureThreshold はOPENに遷移する連続失敗回数。
	FailureThreshold int
	// ResetTimeout はOPENからHALF_OPEN試行を許可するまでの時間。
	ResetTimeout time.Duration
}

// DefaultConfig はデフォルト設定（閾値5回、リセット30秒）を返す。
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// StateInfo は診断用のブレーカー状態スナップショット。
type StateInfo struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

// circuit は1つの依存先のブレーカー状態機械。
type circuit struct {
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	openedAt            time.Time
	// HALF_OPENで試行中の呼び出しが存在するか
	trialInFlight bool
}

// StateListener はブレーカーの状態遷移の通知を受け取る。メトリクス連携用。
type StateListener func(dependency string, to State)

// Registry は名前付き依存先ごとのブレーカーを管理する。
// ブレーカーは初回使用時に遅延生成され、プロセスの生存期間だけ生きる。
// ある依存先の障害が別の依存先のブレーカーに影響することはない。
type Registry struct {
	config   Config
	logger   *slog.Logger
	nowFn    func() time.Time
	listener StateListener

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewRegistry はRegistryを生成する。
func NewRegistry(config Config, logger *slog.Logger) *Registry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:   config,
		logger:   logger,
		nowFn:    time.Now,
		circuits: make(map[string]*circuit),
	}
}

// SetStateListener は状態遷移ごとに呼ばれるリスナーを登録する。
// Execute開始前に一度だけ設定すること。
func (r *Registry) SetStateListener(listener StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = listener
}

// notifyLocked はリスナーに状態遷移を通知する。
// 呼び出し側がミューテックスを保持していること。
func (r *Registry) notifyLocked(name string, to State) {
	if r.listener != nil {
		r.listener(name, to)
	}
}

// Execute は指定した依存先のブレーカー配下でopを実行する。
// OPENの場合は依存先を呼び出さずErrOpenを返す。
// opがインフラ障害を返すと失敗として数え、閾値到達でOPENに遷移する。
// Ignoreで包まれたエラーは数えずにそのまま透過する。
func (r *Registry) Execute(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if !r.allow(name) {
		return fmt.Errorf("%w: %s", ErrOpen, name)
	}

	err := op(ctx)

	var ignored *ignoredError
	if errors.As(err, &ignored) {
		// 業務エラー: ブレーカー上は成功として扱い、元のエラーを返す
		r.onSuccess(name)
		return ignored.err
	}

	if err != nil {
		r.onFailure(name)
		return err
	}

	r.onSuccess(name)
	return nil
}

// Status は全ブレーカーの状態スナップショットを返す。内部診断用。
func (r *Registry) Status() map[string]StateInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := make(map[string]StateInfo, len(r.circuits))
	for name, c := range r.circuits {
		status[name] = StateInfo{
			State:               c.state,
			ConsecutiveFailures: c.consecutiveFailures,
			LastFailureAt:       c.lastFailureAt,
			OpenedAt:            c.openedAt,
		}
	}
	return status
}

// allow は呼び出しを許可するかを判定し、必要な状態遷移を行う。
func (r *Registry) allow(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitLocked(name)

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if r.nowFn().Sub(c.openedAt) > r.config.ResetTimeout {
			// リセットタイムアウト経過後の最初の1回だけ試行を許可する
			c.state = StateHalfOpen
			c.trialInFlight = true
			r.logger.Info("circuit breaker half-open",
				slog.String("dependency", name),
			)
			r.notifyLocked(name, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// 試行は同時に1回のみ
		if c.trialInFlight {
			return false
		}
		c.trialInFlight = true
		return true
	}
	return false
}

// onSuccess は成功を記録する。HALF_OPENの試行成功はCLOSEDに戻す。
func (r *Registry) onSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitLocked(name)

	if c.state != StateClosed {
		r.logger.Info("circuit breaker closed",
			slog.String("dependency", name),
		)
		r.notifyLocked(name, StateClosed)
	}
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.trialInFlight = false
}

// onFailure は失敗を記録する。閾値到達またはHALF_OPENの試行失敗でOPENに遷移する。
func (r *Registry) onFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitLocked(name)
	now := r.nowFn()

	c.consecutiveFailures++
	c.lastFailureAt = now
	c.trialInFlight = false

	if c.state == StateHalfOpen || c.consecutiveFailures >= r.config.FailureThreshold {
		if c.state != StateOpen {
			r.logger.Warn("circuit breaker opened",
				slog.String("dependency", name),
				slog.Int("consecutive_failures", c.consecutiveFailures),
			)
			r.notifyLocked(name, StateOpen)
		}
		c.state = StateOpen
		c.openedAt = now
	}
}

// circuitLocked は依存先のブレーカーを取得または遅延生成する。
// 呼び出し側がミューテックスを保持していること。
func (r *Registry) circuitLocked(name string) *circuit {
	c, ok := r.circuits[name]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[name] = c
	}
	return c
}
