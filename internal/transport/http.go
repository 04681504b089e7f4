package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/obs"
	"go.uber.org/zap"
)

const maxResponseBody = 64 << 10

type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	VerifyTLS       bool          `mapstructure:"verify_tls"`
	FollowRedirects bool          `mapstructure:"follow_redirects"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// HTTPClient sends rendered messages and maps responses onto delivery errors.
type HTTPClient struct {
	c       *http.Client
	timeout time.Duration
	ua      string
	log     *zap.Logger
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "lastbeat"
	}
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: obs.HTTPTransport(base),
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &HTTPClient{
		c:       client,
		timeout: cfg.Timeout,
		ua:      cfg.UserAgent,
		log:     zap.L().With(zap.String("component", "transport.http")),
	}
}

func (h *HTTPClient) WithLogger(l *zap.Logger) *HTTPClient {
	if l == nil {
		return h
	}
	cp := *h
	cp.log = l.With(zap.String("component", "transport.http"))
	return &cp
}

// Do performs one attempt. The returned error is nil, *domain.TransientDeliveryError
// or *domain.PermanentDeliveryError.
func (h *HTTPClient) Do(ctx context.Context, m *Message) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	method := m.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if len(m.Body) > 0 {
		body = bytes.NewReader(m.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.URL, body)
	if err != nil {
		return domain.Permanent("Invalid request: %v", err)
	}
	req.Header.Set("User-Agent", h.ua)
	for k, v := range m.Header {
		req.Header.Set(k, v)
	}
	if m.User != "" || m.Password != "" {
		req.SetBasicAuth(m.User, m.Password)
	}

	start := time.Now()
	resp, err := h.c.Do(req)
	if err != nil {
		h.log.Debug("request failed", zap.String("method", method), zap.Error(err))
		return classifyNetErr(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	h.log.Debug("response",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if m.Inspect != nil {
		if err := m.Inspect(resp.StatusCode, raw); err != nil {
			return err
		}
	}
	return classifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"), time.Now())
}

func classifyNetErr(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return domain.Transient("Connection timed out")
	}
	return domain.Transient("Connection failed")
}

func classifyStatus(code int, retryAfter string, now time.Time) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &domain.TransientDeliveryError{
			Msg:        "Rate limited (status code 429)",
			RetryAfter: parseRetryAfter(retryAfter, now),
		}
	case code < 500:
		return domain.Permanent("Received status code %d", code)
	default:
		return domain.Transient("Received status code %d", code)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Zero means no hint.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
