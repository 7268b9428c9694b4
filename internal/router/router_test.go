package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/handler"
	"github.com/Shoto0095/rafiki/internal/pkg/lifecycle"
	"github.com/Shoto0095/rafiki/internal/pkg/quote"
	"github.com/Shoto0095/rafiki/internal/provider"
	"github.com/Shoto0095/rafiki/internal/pub"
	"github.com/Shoto0095/rafiki/internal/repository"
	"github.com/Shoto0095/rafiki/internal/signal"
	"github.com/Shoto0095/rafiki/internal/usecase"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newServer(t *testing.T) (*httptest.Server, *usecase.PaymentUsecase) {
	t.Helper()
	probe, err := provider.ParseRateTable("USD:EUR=0.90-0.92")
	require.NoError(t, err)

	uc := usecase.NewPaymentUsecase(
		repository.NewMemoryPaymentRepository(),
		repository.NewMemoryLedger(),
		quote.NewEngine(quote.DefaultSlippage, time.Minute),
		probe,
		provider.LoopbackTransmitter{},
		pub.NoopPublisher{},
		signal.NewLocalBus(),
		usecase.Config{Policy: lifecycle.DefaultPolicy(), MaxPacketAmount: 1_000_000},
		zap.NewNop(),
	)
	srv := httptest.NewServer(SetupRoutes(handler.NewPaymentHandler(uc, zap.NewNop()), zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, uc
}

func do(t *testing.T, method, url string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func createBody(account uuid.UUID, send uint64) map[string]interface{} {
	return map[string]interface{}{
		"source_account_id":         account,
		"source_asset":              map[string]interface{}{"id": uuid.New(), "code": "USD", "scale": 2},
		"destination_asset":         map[string]interface{}{"id": uuid.New(), "code": "EUR", "scale": 2},
		"receiving_payment_pointer": "$wallet.example/bob",
		"send_amount":               send,
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPaymentRoutes(t *testing.T) {
	srv, _ := newServer(t)
	account := uuid.New()
	base := srv.URL + "/api/v1"

	status, env := do(t, http.MethodPost, base+"/outgoing-payments", createBody(account, 10000))
	require.Equal(t, http.StatusCreated, status, env.Message)
	assert.Equal(t, "success", env.Status)

	var p domain.OutgoingPayment
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, domain.PaymentStatePending, p.State)

	status, env = do(t, http.MethodGet, base+"/outgoing-payments/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, http.MethodDelete, base+"/outgoing-payments/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, status)

	status, env = do(t, http.MethodPost, base+"/outgoing-payments/"+p.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, domain.PaymentStateCancelled, p.State)

	status, env = do(t, http.MethodPost, base+"/outgoing-payments/"+p.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "error", env.Status)

	status, _ = do(t, http.MethodDelete, base+"/outgoing-payments/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, http.MethodGet, base+"/outgoing-payments/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, http.MethodGet, base+"/outgoing-payments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCreateRejectsBothAmounts(t *testing.T) {
	srv, _ := newServer(t)
	body := createBody(uuid.New(), 10000)
	body["receive_amount"] = 500

	status, env := do(t, http.MethodPost, srv.URL+"/api/v1/outgoing-payments", body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "exactly one")
}

func TestListPaginates(t *testing.T) {
	srv, _ := newServer(t)
	account := uuid.New()
	base := srv.URL + "/api/v1"
	for i := 0; i < 5; i++ {
		status, _ := do(t, http.MethodPost, base+"/outgoing-payments", createBody(account, uint64(100+i)))
		require.Equal(t, http.StatusCreated, status)
	}

	type page struct {
		Items      []domain.OutgoingPayment `json:"items"`
		NextCursor string                   `json:"next_cursor"`
	}
	seen := map[uuid.UUID]bool{}
	url := fmt.Sprintf("%s/accounts/%s/outgoing-payments?limit=2", base, account)
	for pages := 0; pages < 5; pages++ {
		status, env := do(t, http.MethodGet, url, nil)
		require.Equal(t, http.StatusOK, status)
		var pg page
		require.NoError(t, json.Unmarshal(env.Data, &pg))
		for _, p := range pg.Items {
			assert.False(t, seen[p.ID], "payment listed twice")
			seen[p.ID] = true
		}
		if pg.NextCursor == "" {
			break
		}
		url = fmt.Sprintf("%s/accounts/%s/outgoing-payments?limit=2&after=%s", base, account, pg.NextCursor)
	}
	assert.Len(t, seen, 5)

	status, _ := do(t, http.MethodGet, fmt.Sprintf("%s/accounts/%s/outgoing-payments?after=garbage", base, account), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDepositAndBalance(t *testing.T) {
	srv, _ := newServer(t)
	account := uuid.New()
	base := fmt.Sprintf("%s/api/v1/accounts/%s", srv.URL, account)

	status, _ := do(t, http.MethodGet, base+"/balances/USD", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, http.MethodPost, base+"/deposits", map[string]interface{}{
		"asset_code": "USD", "asset_scale": 2, "value": "2500",
	})
	require.Equal(t, http.StatusOK, status)

	status, env := do(t, http.MethodGet, base+"/balances/USD", nil)
	require.Equal(t, http.StatusOK, status)
	var b domain.Balance
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Equal(t, uint64(2500), b.Available)
}
