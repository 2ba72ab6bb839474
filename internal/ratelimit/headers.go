package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// SetHeaders はレート制限結果をHTTPレスポンスヘッダーに書き込む。
// 拒否時はRetry-Afterも設定する。
func SetHeaders(w http.ResponseWriter, res Result, now time.Time) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.UnixMilli(), 10))
	w.Header().Set("X-RateLimit-Reset-Time", res.ResetTime.UTC().Format(time.RFC3339))

	if !res.Allowed {
		retryAfterSec := int(math.Ceil(res.ResetTime.Sub(now).Seconds()))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	}
}
