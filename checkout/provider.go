// Package checkout は注文の作成とホスト型決済ページとの連携を扱います。
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"atende/resilience"
)

// SessionRequest は決済ページ作成時に送る内容です。
type SessionRequest struct {
	OrderID       string        `json:"orderId"`
	OrderNumber   string        `json:"orderNumber"`
	AmountCents   int64         `json:"amountCents"`
	Currency      string        `json:"currency"`
	CustomerName  string        `json:"customerName"`
	CustomerEmail string        `json:"customerEmail,omitempty"`
	SuccessURL    string        `json:"successUrl"`
	CancelURL     string        `json:"cancelUrl"`
	Lines         []SessionLine `json:"lines"`
}

type SessionLine struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitCents   int64  `json:"unitCents"`
}

// Session は決済サービスが発行したセッションです。
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Provider はホスト型チェックアウトの作成元です。
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// ErrNotConfigured は CHECKOUT_URL が未設定の場合に返されます。
var ErrNotConfigured = errors.New("checkout: provider is not configured")

// DisabledProvider は決済先が未設定の環境用です。
type DisabledProvider struct{}

func (DisabledProvider) CreateSession(context.Context, SessionRequest) (*Session, error) {
	return nil, ErrNotConfigured
}

// HTTPProvider は CHECKOUT_URL に JSON を POST する汎用実装です。
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider は httpClient 未指定時にリトライ・サーキットブレーカー付きクライアントを使います。
func NewHTTPProvider(endpoint, apiKey string, httpClient *http.Client) (*HTTPProvider, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("checkout endpoint is required")
	}
	if httpClient == nil {
		httpClient = resilience.NewClient("checkout", 20*time.Second)
	}
	return &HTTPProvider{endpoint: endpoint, apiKey: apiKey, httpClient: httpClient}, nil
}

func (p *HTTPProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// 同じ注文での再送をサービス側で重複排除させる
	httpReq.Header.Set("Idempotency-Key", req.OrderID)
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkout response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checkout provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkout response: %w", err)
	}
	if s.ID == "" || s.URL == "" {
		return nil, fmt.Errorf("checkout response is missing id or url")
	}
	return &s, nil
}
