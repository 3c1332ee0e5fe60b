// Upstream 호출 에러 분류
//   - TransientError: 네트워크 오류, 429, 5xx → 재시도 대상
//   - AuthError: 401/403 → 사이클 실패 처리
//   - RejectedError: 그 외 4xx → 재시도하지 않음 (404는 ErrNotFound로도 판별)
//   - ValidationError: upstream 레코드 형식 오류 → 해당 레코드만 건너뜀

package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrTransient   = errors.New("upstream temporarily unavailable")
	ErrAuth        = errors.New("upstream authentication failed")
	ErrRejected    = errors.New("upstream rejected request")
	ErrNotFound    = errors.New("upstream resource not found")
	ErrRateLimited = errors.New("rate limit wait exceeded")
	ErrValidation  = errors.New("invalid upstream record")
)

// TransientError - 재시도 가능한 upstream 에러
type TransientError struct {
	Upstream   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient upstream error (status %d)", e.Upstream, e.StatusCode)
	}
	return fmt.Sprintf("%s: transient upstream error: %v", e.Upstream, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// AuthError - 인증/권한 실패
type AuthError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Upstream, e.StatusCode)
}

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// RejectedError - 재시도해도 결과가 같은 4xx 응답
type RejectedError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: request rejected (status %d): %s", e.Upstream, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: request rejected (status %d)", e.Upstream, e.StatusCode)
}

func (e *RejectedError) Is(target error) bool {
	if target == ErrRejected {
		return true
	}
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ValidationError - 정규화할 수 없는 upstream 레코드
type ValidationError struct {
	Upstream string
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("%s: invalid record: %s", e.Upstream, e.Reason)
	}
	return fmt.Sprintf("%s: invalid record %s: %s", e.Upstream, e.RecordID, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IsTransient - 재시도 또는 partial 처리 대상인지 확인
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsAuth - 인증 실패인지 확인
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// classifyStatus - HTTP 상태 코드를 에러로 변환 (2xx는 nil)
func classifyStatus(upstream string, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return &TransientError{
			Upstream:   upstream,
			StatusCode: code,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("status %d", code),
		}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{Upstream: upstream, StatusCode: code, Body: truncate(string(body), 200)}
	default:
		return &RejectedError{Upstream: upstream, StatusCode: code, Body: truncate(string(body), 200)}
	}
}

// errorClass - 메트릭 라벨용 분류
func errorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "transient"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
