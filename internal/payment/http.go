package payment

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

	"golang.org/x/time/rate"
)

// HTTPConfig points at a wallet bridge that signs and broadcasts transfers.
//
// The bridge accepts POST {"to": "...", "amount": <sompi>} and answers
// {"txId": "..."} on success.
type HTTPConfig struct {
	URL        string
	Token      string // optional bearer token (do not log)
	Timeout    time.Duration
	RatePerSec int
}

// HTTP is a Sender backed by a wallet bridge.
type HTTP struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("payment.http.url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return &HTTP{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

type sendRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type sendResponse struct {
	TxID  string `json:"txId"`
	Error string `json:"error,omitempty"`
}

func (h *HTTP) Send(ctx context.Context, to string, amount int64) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	body, err := json.Marshal(sendRequest{To: to, Amount: amount})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	var out sendResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("%w: %s", classifyStatus(resp.StatusCode), msg)
	}
	if strings.TrimSpace(out.TxID) == "" {
		return "", fmt.Errorf("%w: bridge returned no txId", ErrRejected)
	}
	return out.TxID, nil
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusPaymentRequired:
		return ErrInsufficientFunds
	case http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrRejected
	case http.StatusServiceUnavailable:
		return ErrNotConnected
	default:
		return ErrNetwork
	}
}
