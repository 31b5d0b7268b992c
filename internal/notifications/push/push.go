// Package push delivers order notifications to seller devices through an
// FCM-compatible HTTP gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fast-fab/Seller-service/internal/metrics"
)

// Notification is the visible part of a push plus its data payload.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notifier sends one push. It reports whether the gateway accepted it and
// never returns an error: every failure is logged and counted instead.
type Notifier interface {
	Notify(ctx context.Context, sellerID string, n Notification) bool
}

// TokenSource resolves a seller's current device token. It is asked on every
// push so a token changed after the order arrived is still honoured.
type TokenSource interface {
	DeviceToken(ctx context.Context, sellerID string) (string, error)
}

// Config configures an FCMNotifier. ServerKey selects the legacy
// "Authorization: key=..." scheme; OAuthToken, when set, takes precedence
// and is sent as a bearer token.
type Config struct {
	Endpoint   string
	ServerKey  string
	OAuthToken string
	Timeout    time.Duration
}

// FCMNotifier posts {to, notification, data} to the gateway endpoint.
type FCMNotifier struct {
	endpoint  string
	serverKey string
	timeout   time.Duration
	client    *http.Client
	tokens    TokenSource
	logger    *zap.Logger
}

// NewFCMNotifier creates an FCMNotifier that resolves device tokens through
// tokens.
func NewFCMNotifier(cfg Config, tokens TokenSource, logger *zap.Logger) (*FCMNotifier, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for push notifier")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required for push notifier")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &http.Client{}
	if cfg.OAuthToken != "" {
		client.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.OAuthToken, TokenType: "Bearer"}),
		}
		cfg.ServerKey = ""
	}

	return &FCMNotifier{
		endpoint:  cfg.Endpoint,
		serverKey: cfg.ServerKey,
		timeout:   cfg.Timeout,
		client:    client,
		tokens:    tokens,
		logger:    logger,
	}, nil
}

type gatewayPayload struct {
	To           string            `json:"to"`
	Notification gatewayAlert      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type gatewayAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notify resolves the seller's device token and posts n to the gateway. The
// configured timeout bounds the lookup and the request together.
func (f *FCMNotifier) Notify(ctx context.Context, sellerID string, n Notification) bool {
	log := f.logger.With(zap.String("seller_id", sellerID))

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	token, err := f.tokens.DeviceToken(ctx, sellerID)
	if err != nil {
		log.Warn("device token lookup failed", zap.Error(err))
		metrics.PushAttemptsTotal.WithLabelValues("failed").Inc()
		return false
	}
	if token == "" {
		log.Info("no device token, push skipped")
		metrics.PushAttemptsTotal.WithLabelValues("no_token").Inc()
		return false
	}

	if err := f.send(ctx, token, n); err != nil {
		log.Warn("push failed", zap.Error(err))
		metrics.PushAttemptsTotal.WithLabelValues("failed").Inc()
		return false
	}

	log.Debug("push delivered")
	metrics.PushAttemptsTotal.WithLabelValues("delivered").Inc()
	return true
}

func (f *FCMNotifier) send(ctx context.Context, token string, n Notification) error {
	body, err := json.Marshal(gatewayPayload{
		To:           token,
		Notification: gatewayAlert{Title: n.Title, Body: n.Body},
		Data:         n.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.serverKey != "" {
		req.Header.Set("Authorization", "key="+f.serverKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}
