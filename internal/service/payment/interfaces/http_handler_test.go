package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"mercato/internal/service/payment/application"
	"mercato/internal/service/payment/domain"
	"mercato/internal/service/payment/infrastructure"
	"mercato/internal/service/payment/infrastructure/adapter"
	"mercato/internal/service/payment/msisdn"
)

type testServer struct {
	mux     *http.ServeMux
	repo    *infrastructure.MemoryOrderRepository
	gateway *adapter.MockGatewayAdapter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := infrastructure.NewMemoryOrderRepository()
	gateway := adapter.NewMockGatewayAdapter()
	svc := application.NewPaymentService(repo, gateway, adapter.NopPaymentEventProducer{}, adapter.NopReconcileThrottle{},
		msisdn.DefaultRules(),
		application.Config{Currency: "XAF", Country: "CM"},
		otel.Tracer("test"))

	mux := http.NewServeMux()
	NewPaymentHandler(svc).RegisterRoutes(mux)
	return &testServer{mux: mux, repo: repo, gateway: gateway}
}

func (s *testServer) seedOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(id, 1500, domain.CustomerInfo{Name: "Ada", Phone: "+237670000000"})
	require.NoError(t, err)
	require.NoError(t, s.repo.Create(context.Background(), order))
	return order
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func postJSON(path string, payload interface{}) *http.Request {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestStartEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.seedOrder(t, "o-1")

	rec := srv.do(postJSON("/payments/monetbil/start", map[string]string{
		"orderId": "o-1",
		"phone":   "670123456",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp application.InitiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "REQUEST_ACCEPTED", resp.Status)
	assert.NotEmpty(t, resp.PaymentID)
	assert.Equal(t, "*126#", resp.ChannelUSSD)
}

func TestStartUnknownProvider(t *testing.T) {
	srv := newTestServer(t)
	srv.seedOrder(t, "o-1")

	rec := srv.do(postJSON("/payments/paypal/start", map[string]string{"orderId": "o-1", "phone": "670123456"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, srv.gateway.PlacePaymentCalls())
}

func TestStartValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		payload  interface{}
		wantCode int
	}{
		{name: "missing order id", payload: map[string]string{"phone": "670123456"}, wantCode: http.StatusBadRequest},
		{name: "unknown order", payload: map[string]string{"orderId": "nope", "phone": "670123456"}, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			rec := srv.do(postJSON("/payments/monetbil/start", tt.payload))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestStartMalformedBody(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/payments/monetbil/start", strings.NewReader("{not json"))
	rec := srv.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// 网关错误对客户端只暴露笼统的 5xx 文案，原始载荷绝不进响应体。
func TestStartGatewayErrorIsOpaque(t *testing.T) {
	srv := newTestServer(t)
	srv.seedOrder(t, "o-1")
	srv.gateway.SetUnavailable(true)

	rec := srv.do(postJSON("/payments/monetbil/start", map[string]string{"orderId": "o-1", "phone": "670123456"}))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "payment gateway error, please retry later", body["message"])
	assert.NotContains(t, rec.Body.String(), "unreachable")
}

func TestCheckEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.seedOrder(t, "o-1")
	rec := srv.do(postJSON("/payments/monetbil/start", map[string]string{"orderId": "o-1", "phone": "670123456"}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/payments/monetbil/check?orderId=o-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp application.CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "o-1", resp.OrderID)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, domain.PaymentPending, resp.Payment.Status)
}

func TestCheckMissingOrderID(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(httptest.NewRequest(http.MethodGet, "/payments/monetbil/check", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyFormEncoded(t *testing.T) {
	srv := newTestServer(t)
	srv.seedOrder(t, "o-1")
	rec := srv.do(postJSON("/payments/monetbil/start", map[string]string{"orderId": "o-1", "phone": "670123456"}))
	require.Equal(t, http.StatusOK, rec.Code)

	srv.gateway.SetTransactionStatus(domain.TxCodeSuccess)

	form := url.Values{"payment_ref": {domain.PaymentRef("o-1")}}
	req := httptest.NewRequest(http.MethodPost, "/payments/monetbil/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = srv.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)

	stored, err := srv.repo.FindByID(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, stored.Status)
	assert.Equal(t, domain.PaymentSuccess, stored.Payment.Status)
}

func TestNotifyUnknownReference(t *testing.T) {
	srv := newTestServer(t)
	srv.seedOrder(t, "o-1")

	rec := srv.do(postJSON("/payments/monetbil/notify", map[string]string{"payment_ref": "ORD-unknown"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":false`)
	assert.Equal(t, 0, srv.gateway.CheckPaymentCalls())
}

func TestCancelEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.seedOrder(t, "o-1")
	rec := srv.do(postJSON("/payments/monetbil/start", map[string]string{"orderId": "o-1", "phone": "670123456"}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(postJSON("/payments/monetbil/cancel", map[string]string{"orderId": "o-1"}))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := srv.repo.FindByID(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Nil(t, stored.Payment)
}

func TestCancelAfterSuccessIsRejected(t *testing.T) {
	srv := newTestServer(t)
	srv.seedOrder(t, "o-1")
	rec := srv.do(postJSON("/payments/monetbil/start", map[string]string{"orderId": "o-1", "phone": "670123456"}))
	require.Equal(t, http.StatusOK, rec.Code)

	srv.gateway.SetTransactionStatus(domain.TxCodeSuccess)
	rec = srv.do(httptest.NewRequest(http.MethodGet, "/payments/monetbil/check?orderId=o-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(postJSON("/payments/monetbil/cancel", map[string]string{"orderId": "o-1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
