// Package ratelimit は固定窓方式のレート制限を提供する。
// ルールと識別子の組ごとに窓内のリクエスト回数を数える。
// 窓の境界でのバーストにより瞬間的に公称レートの最大2倍を許す点は、
// O(1)メモリ・O(1)チェックコストと引き換えの仕様である。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// 組み込みルール名。
const (
	RuleAuth         = "auth"
	RuleAuthPerIP    = "auth-per-ip"
	RuleGeneral      = "general"
	RuleVerification = "verification-token"
)

// ErrUnknownRule は未登録のルール名が指定された場合の設定エラー。
// ルールは起動時に登録を完了し、呼び出し時の暗黙的な追加は行わない。
var ErrUnknownRule = errors.New("unknown rate limit rule")

// Rule はレート制限ルールを表す。プロセス起動後は変更しない。
type Rule struct {
	Window      time.Duration // 窓の長さ
	MaxRequests int           // 窓あたりの最大リクエスト数
	Message     string        // 拒否時にユーザーへ返す文言
}

// Result は1回のレート制限チェックの結果を表す。
type Result struct {
	Allowed   bool
	Remaining int       // 窓内の残り回数
	ResetTime time.Time // 窓が終了する時刻
	Message   string    // 拒否時のみルールの文言を設定
}

// Entry は識別子ごとのカウンタ状態を表す。
// WindowStartは常に現在の窓の開始時刻であり、窓が満了したエントリは
// 加算ではなく置き換えられる。
type Entry struct {
	Count       int
	WindowStart time.Time
}

// EntryStat は診断用のエントリ情報を表す。外部公開は想定しない。
type EntryStat struct {
	Key   string        `json:"key"`
	Count int           `json:"count"`
	Age   time.Duration `json:"age_ns"`
}

// Store はカウンタ状態の保存先を表す。
// 単一インスタンス運用ではメモリストア、複数インスタンス間で制限を
// 共有する場合はRedisストアを用いる。アルゴリズムはストアに依らない。
type Store interface {
	// Incr は窓の算術を適用しつつカウントを1進め、更新後のエントリを返す。
	// 窓が満了している場合は新しい窓としてcount=1から数え直す。
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error)
	// Delete は指定キーのエントリを削除する。
	Delete(ctx context.Context, key string) error
	// DeleteAll は全エントリを削除する。テスト・デバッグ用。
	DeleteAll(ctx context.Context) error
	// Stats は現在の全エントリを返す。内部診断用。
	Stats(ctx context.Context, now time.Time) ([]EntryStat, error)
}

// Limiter はルール表とストアを束ねたレート制限器。
// 起動時に1回構築し、参照渡しで共有する。
type Limiter struct {
	rules map[string]Rule
	store Store
	nowFn func() time.Time
}

// New はLimiterを生成する。ルール表は起動時に検証し、
// 窓長や最大回数が不正なルールはエラーとする。
func New(store Store, rules map[string]Rule) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if len(rules) == 0 {
		return nil, errors.New("ratelimit: at least one rule is required")
	}
	for name, rule := range rules {
		if rule.Window <= 0 {
			return nil, fmt.Errorf("ratelimit: rule %q has non-positive window", name)
		}
		if rule.MaxRequests <= 0 {
			return nil, fmt.Errorf("ratelimit: rule %q has non-positive max requests", name)
		}
	}
	return &Limiter{
		rules: rules,
		store: store,
		nowFn: time.Now,
	}, nil
}

// DefaultRules は組み込みルール表を返す。
// 各ルールの窓あたり最大回数は設定で上書きできる。
func DefaultRules(auth, authPerIP, general, verification int) map[string]Rule {
	return map[string]Rule{
		RuleAuth: {
			Window:      15 * time.Minute,
			MaxRequests: auth,
			Message:     "ログイン試行が多すぎます。",
		},
		RuleAuthPerIP: {
			Window:      15 * time.Minute,
			MaxRequests: authPerIP,
			Message:     "このネットワークからのログイン試行が多すぎます。",
		},
		RuleGeneral: {
			Window:      1 * time.Minute,
			MaxRequests: general,
			Message:     "リクエストが多すぎます。",
		},
		RuleVerification: {
			Window:      30 * time.Second,
			MaxRequests: verification,
			Message:     "確認メールの送信リクエストが多すぎます。",
		},
	}
}

// Rule は登録済みルールを返す。未登録の場合はfalseを返す。
func (l *Limiter) Rule(name string) (Rule, bool) {
	rule, ok := l.rules[name]
	return rule, ok
}

// Check は識別子に対してルールを適用し、許可判定を返す。
// 拒否された呼び出しでもカウントは進む。リトライの嵐は窓をリセット
// させるのではなく、カウントを積み増して抑止する。
// 未登録のルール名はErrUnknownRuleを返す。
func (l *Limiter) Check(ctx context.Context, identifier, ruleName string) (Result, error) {
	rule, ok := l.rules[ruleName]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownRule, ruleName)
	}

	key := ruleName + ":" + identifier
	entry, err := l.store.Incr(ctx, key, rule.Window, l.nowFn())
	if err != nil {
		return Result{}, fmt.Errorf("failed to update rate limit entry: %w", err)
	}

	res := Result{
		Allowed:   entry.Count <= rule.MaxRequests,
		Remaining: rule.MaxRequests - entry.Count,
		ResetTime: entry.WindowStart.Add(rule.Window),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.Message = rule.Message
	}
	return res, nil
}

// Reset は指定した識別子のエントリを全ルールから削除する。
// テスト・デバッグ用。
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	for name := range l.rules {
		if err := l.store.Delete(ctx, name+":"+identifier); err != nil {
			return err
		}
	}
	return nil
}

// ResetAll は全エントリを削除する。テスト・デバッグ用。
func (l *Limiter) ResetAll(ctx context.Context) error {
	return l.store.DeleteAll(ctx)
}

// Stats は現在の全エントリを返す。内部の自己診断用であり、
// 外部には公開しない。
func (l *Limiter) Stats(ctx context.Context) ([]EntryStat, error) {
	return l.store.Stats(ctx, l.nowFn())
}
