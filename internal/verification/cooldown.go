package verification

import (
	"math"
	"time"
)

// DefaultCooldown はクールダウン窓のデフォルト（24時間）。
const DefaultCooldown = 24 * time.Hour

// Cooldown は繰り返しの機微な操作に要求する最小経過時間を計算する。
// 「最後の操作時刻」は呼び出し元が外部ストアから読んで渡すものであり、
// この型自体は状態を持たない。
type Cooldown struct {
	window time.Duration
	nowFn  func() time.Time
}

// NewCooldown はCooldownを生成する。windowが0以下の場合はデフォルト（24時間）。
func NewCooldown(window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Cooldown{
		window: window,
		nowFn:  time.Now,
	}
}

// IsActive は最後の操作からの経過時間がクールダウン窓未満かを返す。
// lastActionがnilの場合（一度も操作していない）はfalse。
func (c *Cooldown) IsActive(lastAction *time.Time) bool {
	if lastAction == nil {
		return false
	}
	return c.nowFn().Sub(*lastAction) < c.window
}

// RemainingSeconds はクールダウン解除までの残り秒数を返す。
// 残り時間は切り上げ、解除済みの場合は0。
func (c *Cooldown) RemainingSeconds(lastAction *time.Time) int {
	if lastAction == nil {
		return 0
	}
	remaining := c.window - c.nowFn().Sub(*lastAction)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}
