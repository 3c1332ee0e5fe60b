// Upstream별 요청 예산과 재시도를 관리하는 공통 HTTP 호출 레이어
// 모든 upstream 요청(재시도 포함)은 토큰 하나를 소비

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kube-rca/alertsync/internal/metrics"
)

// Budget - 윈도우당 최대 요청 수를 보장하는 token bucket
//
// burst + rate*window = limit 이 되도록 계산하므로
// 어떤 길이 window 구간에서도 limit을 초과하지 않음
type Budget struct {
	limiter *rate.Limiter
	limit   int
	window  time.Duration
	maxWait time.Duration
	now     func() time.Time
}

// NewBudget - limit/window 예산 생성 (maxWait 초과 대기는 ErrRateLimited)
func NewBudget(limit int, window, maxWait time.Duration) *Budget {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	burst := limit / 10
	if burst < 1 {
		burst = 1
	}
	refill := limit - burst
	if refill <= 0 {
		refill = limit
	}
	every := window / time.Duration(refill)
	return &Budget{
		limiter: rate.NewLimiter(rate.Every(every), burst),
		limit:   limit,
		window:  window,
		maxWait: maxWait,
		now:     time.Now,
	}
}

// Limit - 윈도우당 최대 요청 수
func (b *Budget) Limit() int { return b.limit }

// Window - 예산 윈도우
func (b *Budget) Window() time.Duration { return b.window }

// Wait - 토큰 하나를 확보할 때까지 대기
// 필요한 대기 시간이 maxWait을 넘으면 예약을 취소하고 ErrRateLimited 반환
func (b *Budget) Wait(ctx context.Context) (time.Duration, error) {
	now := b.now()
	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return 0, ErrRateLimited
	}
	delay := res.DelayFrom(now)
	if delay <= 0 {
		return 0, nil
	}
	if b.maxWait > 0 && delay > b.maxWait {
		res.CancelAt(now)
		return 0, ErrRateLimited
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		res.CancelAt(b.now())
		return 0, ctx.Err()
	case <-timer.C:
		return delay, nil
	}
}

// allowAt - 지정 시각 기준 즉시 토큰 확보 시도 (테스트용 가상 시계)
func (b *Budget) allowAt(t time.Time) bool {
	return b.limiter.AllowN(t, 1)
}

// RequestFactory - 시도마다 새 요청을 생성 (body 재사용)
type RequestFactory func(ctx context.Context) (*http.Request, error)

// RateLimitedClient - upstream 하나에 대한 예산/재시도/에러 분류
type RateLimitedClient struct {
	upstream   string
	httpClient *http.Client
	budget     *Budget
	retry      RetryPolicy
	logger     *zap.Logger

	// sleep: 재시도 대기 (테스트에서 교체)
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimitedClient 객체 생성
func NewRateLimitedClient(upstream string, httpClient *http.Client, budget *Budget, retry RetryPolicy, logger *zap.Logger) *RateLimitedClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitedClient{
		upstream:   upstream,
		httpClient: httpClient,
		budget:     budget,
		retry:      retry,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Upstream - 클라이언트 이름 (grafana, jsm)
func (c *RateLimitedClient) Upstream() string { return c.upstream }

// Do - 예산 안에서 요청을 보내고 2xx 응답 body를 반환
// transient 에러만 RetryPolicy에 따라 재시도
func (c *RateLimitedClient) Do(ctx context.Context, build RequestFactory) ([]byte, error) {
	var lastErr error
	attempts := c.retry.attempts()

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.retryDelay(attempt-1, lastErr)
			metrics.UpstreamRetries.WithLabelValues(c.upstream).Inc()
			c.logger.Debug("retrying upstream request",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, err := c.once(ctx, build)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsTransient(err) || errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *RateLimitedClient) once(ctx context.Context, build RequestFactory) ([]byte, error) {
	if c.budget != nil {
		waited, err := c.budget.Wait(ctx)
		metrics.RateLimitWait.WithLabelValues(c.upstream).Observe(waited.Seconds())
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				metrics.RateLimitExceeded.WithLabelValues(c.upstream).Inc()
				return nil, &TransientError{Upstream: c.upstream, Err: ErrRateLimited}
			}
			return nil, err
		}
	}

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.UpstreamRequests.WithLabelValues(c.upstream, "transient").Inc()
		return nil, &TransientError{Upstream: c.upstream, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(c.upstream, "transient").Inc()
		return nil, &TransientError{Upstream: c.upstream, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	err = classifyStatus(c.upstream, resp, body)
	metrics.UpstreamRequests.WithLabelValues(c.upstream, errorClass(err)).Inc()
	if err != nil {
		return nil, err
	}
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
