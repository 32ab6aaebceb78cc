package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/hookrelay/internal/model"
)

const (
	DefaultUserAgent       = "Hookrelay-Webhook/1.0"
	DefaultMaxRedirects    = 3
	DefaultMaxResponseBody = 4096
)

var ErrTooManyRedirects = errors.New("too many redirects")

type SenderConfig struct {
	UserAgent       string
	MaxRedirects    int
	MaxResponseBody int64
	// Transport overrides the default transport, mostly for tests.
	Transport http.RoundTripper
}

// Sender POSTs envelopes to subscriber endpoints. It never returns an error:
// every outcome, including transport failures, is an AttemptResult.
type Sender struct {
	client *http.Client
	cfg    SenderConfig
	now    func() time.Time
}

func NewSender(cfg SenderConfig) *Sender {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = DefaultMaxResponseBody
	}
	maxRedirects := cfg.MaxRedirects
	return &Sender{
		cfg: cfg,
		now: time.Now,
		client: &http.Client{
			Transport: cfg.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
	}
}

func (s *Sender) UserAgent() string { return s.cfg.UserAgent }

// Post sends body to url within timeout. Any 2xx is a success.
func (s *Sender) Post(ctx context.Context, url string, headers http.Header, body []byte, timeout time.Duration) model.AttemptResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	res := s.post(ctx, url, headers, body)
	res.CompletedAt = s.now()
	res.Duration = res.CompletedAt.Sub(start)
	return res
}

func (s *Sender) post(ctx context.Context, url string, headers http.Header, body []byte) model.AttemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.AttemptResult{Error: err.Error()}
	}
	for k, vs := range headers {
		req.Header[k] = append([]string(nil), vs...)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		res := model.AttemptResult{Error: err.Error()}
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = "timeout: " + err.Error()
		}
		// a refused redirect still carries the last response
		if resp != nil {
			res.HTTPStatus = resp.StatusCode
			res.ResponseHeaders = flattenHeaders(resp.Header)
			_ = resp.Body.Close()
		}
		return res
	}
	defer resp.Body.Close()

	res := model.AttemptResult{
		Success:         resp.StatusCode/100 == 2,
		HTTPStatus:      resp.StatusCode,
		ResponseHeaders: flattenHeaders(resp.Header),
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxResponseBody))
	res.ResponseBody = strings.ToValidUTF8(string(b), "")
	if !res.Success {
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	} else if err != nil {
		res.Error = "read response: " + err.Error()
	}
	return res
}

func flattenHeaders(h http.Header) model.Headers {
	if len(h) == 0 {
		return nil
	}
	out := make(model.Headers, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}
