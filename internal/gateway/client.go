package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"copy-relay/internal/config"
)

const listenKeyPath = "/api/v3/userDataStream"

// Client 负责用户数据流令牌的申请、续期与注销，并实现重试机制。
// 这三个端点只需 API-Key 请求头，不涉及签名。
type Client struct {
	cfg    config.ExchangeConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient 构造交易所网关客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// NewSessionToken 用账户凭证申请一个新的流订阅令牌。
func (c *Client) NewSessionToken(ctx context.Context, creds Credentials) (SessionToken, error) {
	var payload struct {
		ListenKey string `json:"listenKey"`
	}

	err := c.callWithRetry(ctx, "new_session_token", func() error {
		body, err := c.do(ctx, http.MethodPost, creds, nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &payload)
	})
	if err != nil {
		return "", err
	}

	if payload.ListenKey == "" {
		return "", fmt.Errorf("%w: 响应缺少 listenKey", ErrTokenRejected)
	}

	return SessionToken(payload.ListenKey), nil
}

// KeepAliveToken 续期令牌，使其有效期向后顺延。
func (c *Client) KeepAliveToken(ctx context.Context, creds Credentials, token SessionToken) error {
	return c.callWithRetry(ctx, "keepalive_session_token", func() error {
		_, err := c.do(ctx, http.MethodPut, creds, url.Values{"listenKey": {string(token)}})
		return err
	})
}

// CloseToken 注销令牌；交易所会在此后中断对应的流。
func (c *Client) CloseToken(ctx context.Context, creds Credentials, token SessionToken) error {
	return c.callWithRetry(ctx, "close_session_token", func() error {
		_, err := c.do(ctx, http.MethodDelete, creds, url.Values{"listenKey": {string(token)}})
		return err
	})
}

func (c *Client) do(ctx context.Context, method string, creds Credentials, query url.Values) ([]byte, error) {
	endpoint := strings.TrimRight(c.cfg.RestURL, "/") + listenKeyPath
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: 构造请求失败: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: 读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %s", ErrTokenRejected, apiErr.Error())
		}
		return nil, apiErr
	}

	return body, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("网关调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !IsRetryable(err) || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("网关调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("网关调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
