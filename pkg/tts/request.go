package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-voicewidget/internal/httpc"
)

// errorParser turns a non-2xx response into an error.
type errorParser func(resp *http.Response) error

// postJSON posts payload and returns the body of a 2xx answer. 429 and 5xx
// answers are retried up to cfg.MaxRetries times.
func postJSON(
	ctx context.Context,
	client *http.Client,
	cfg *Config,
	logger *slog.Logger,
	provider, url string,
	payload any,
	headers map[string]string,
	parseError errorParser,
) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := httpc.NewJSONRequest(ctx, http.MethodPost, url, payload, headers)
		if err != nil {
			return nil, WrapError(provider, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = WrapError(provider, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			lastErr = parseError(resp)
			resp.Body.Close()
			if resp.StatusCode == 429 || resp.StatusCode >= 500 {
				logger.Warn("request failed",
					"attempt", attempt+1,
					"status", resp.StatusCode,
				)
				continue
			}
			return nil, lastErr
		}

		audio, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, WrapError(provider, fmt.Errorf("read response: %w", err))
		}
		if len(audio) == 0 {
			return nil, WrapError(provider, ErrEmptyAudio)
		}
		return audio, nil
	}

	return nil, lastErr
}

// get issues an authenticated GET and maps non-2xx answers through parseError.
func get(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, parseError errorParser) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapError(provider, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return WrapError(provider, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	return nil
}
