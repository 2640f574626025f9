// ABOUTME: Completer that follows the live llm settings
// ABOUTME: Rebuilds the OpenAI client when the key, base URL or timeout change

package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/worldgpt/internal/config"
)

// Settings supplies the live configuration.
type Settings interface {
	Snapshot() config.Config
}

// connection is the part of the llm section baked into an OpenAIClient.
type connection struct {
	apiKey  string
	baseURL string
	timeout time.Duration
}

func connectionOf(cfg config.LLMConfig) connection {
	return connection{apiKey: cfg.OpenAIAPIKey, baseURL: cfg.BaseURL, timeout: cfg.RequestTimeout}
}

// LiveClient reads the settings on every call and swaps in a new
// OpenAIClient whenever the connection fields differ from the last call.
type LiveClient struct {
	settings Settings
	logger   *slog.Logger

	mu      sync.Mutex
	conn    connection
	current *OpenAIClient
}

// NewLiveClient creates a client bound to settings.
func NewLiveClient(settings Settings, logger *slog.Logger) *LiveClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveClient{settings: settings, logger: logger}
}

// client returns the OpenAIClient for the current settings.
func (l *LiveClient) client() *OpenAIClient {
	cfg := l.settings.Snapshot().LLM
	conn := connectionOf(cfg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || conn != l.conn {
		if l.current != nil {
			l.logger.Info("llm connection settings changed, rebuilding client",
				"base_url", cfg.BaseURL,
				"request_timeout", cfg.RequestTimeout)
		}
		l.current = NewOpenAIClient(cfg, l.logger)
		l.conn = conn
	}
	return l.current
}

// Complete implements Completer.
func (l *LiveClient) Complete(ctx context.Context, req Request) (*Response, error) {
	return l.client().Complete(ctx, req)
}

var _ Completer = (*LiveClient)(nil)
