package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
)

// isAPIErrorCode はエラーが指定したコードのAWS APIエラーかどうかを判定する。
func isAPIErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// retry はretryableがtrueを返す間、待ち時間を倍にしながらfnを再実行する。
func retry(ctx context.Context, attempts int, initial time.Duration, retryable func(error) bool, fn func() error) error {
	sleep := initial
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
			sleep *= 2
		}
	}
	return lastErr
}
