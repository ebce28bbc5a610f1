package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

func TestHTTPSendSuccess(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(sendResponse{TxID: "tx-1"})
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{URL: srv.URL, Token: "secret", RatePerSec: 100})
	require.NoError(t, err)

	id, err := h.Send(context.Background(), "kaspa:dest", 250_000_000)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)
	assert.Equal(t, sendRequest{To: "kaspa:dest", Amount: 250_000_000}, got)
}

func TestHTTPSendErrorMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{code: http.StatusPaymentRequired, want: ErrInsufficientFunds},
		{code: http.StatusForbidden, want: ErrRejected},
		{code: http.StatusServiceUnavailable, want: ErrNotConnected},
		{code: http.StatusInternalServerError, want: ErrNetwork},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_ = json.NewEncoder(w).Encode(sendResponse{Error: "nope"})
			}))
			defer srv.Close()

			h, err := NewHTTP(HTTPConfig{URL: srv.URL, RatePerSec: 100})
			require.NoError(t, err)
			_, err = h.Send(context.Background(), "kaspa:dest", 1)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, strings.Contains(err.Error(), "nope"))
		})
	}
}

func TestHTTPSendMissingTxID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)
	_, err = h.Send(context.Background(), "kaspa:dest", 1)
	require.ErrorIs(t, err, ErrRejected)
}

func TestNewHTTPRequiresURL(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{})
	require.Error(t, err)
}

func TestWithTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := NewMockSender(ctrl)
	m.EXPECT().Send(gomock.Any(), "kaspa:dest", int64(5)).DoAndReturn(func(ctx context.Context, _ string, _ int64) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	s := WithTimeout(m, 20*time.Millisecond)
	start := time.Now()
	_, err := s.Send(context.Background(), "kaspa:dest", 5)
	require.ErrorIs(t, err, ErrNetwork)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeoutPassesResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := NewMockSender(ctrl)
	m.EXPECT().Send(gomock.Any(), "kaspa:dest", int64(7)).Return("tx-7", nil)

	id, err := WithTimeout(m, time.Second).Send(context.Background(), "kaspa:dest", 7)
	require.NoError(t, err)
	assert.Equal(t, "tx-7", id)

	assert.Equal(t, Sender(m), WithTimeout(m, 0))
}

func TestDemoSender(t *testing.T) {
	d := NewDemo(0, logx.Nop())
	a, err := d.Send(context.Background(), "kaspa:dest", 1)
	require.NoError(t, err)
	b, err := d.Send(context.Background(), "kaspa:dest", 1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, "demo_"))
	assert.NotEqual(t, a, b)

	slow := NewDemo(time.Hour, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow.Send(ctx, "kaspa:dest", 1)
	require.ErrorIs(t, err, context.Canceled)
}
