package application

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"mercato/internal/service/payment/domain"
	"mercato/internal/service/payment/infrastructure"
	"mercato/internal/service/payment/infrastructure/adapter"
	"mercato/internal/service/payment/msisdn"
)

// recordingProducer 记录发布出去的领域事件，用于断言 exactly-once。
type recordingProducer struct {
	mu     sync.Mutex
	events []*domain.PaymentStatusChanged
}

func (p *recordingProducer) PublishStatusChanged(_ context.Context, ev *domain.PaymentStatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// denyingThrottle 拒绝所有轮询触发的对账。
type denyingThrottle struct{}

func (denyingThrottle) Allow(context.Context, string) (bool, error) { return false, nil }

type fixture struct {
	svc      *PaymentService
	repo     *infrastructure.MemoryOrderRepository
	gateway  *adapter.MockGatewayAdapter
	producer *recordingProducer
}

func newFixture() *fixture {
	repo := infrastructure.NewMemoryOrderRepository()
	gateway := adapter.NewMockGatewayAdapter()
	producer := &recordingProducer{}
	svc := NewPaymentService(repo, gateway, producer, adapter.NopReconcileThrottle{},
		msisdn.DefaultRules(),
		Config{Currency: "XAF", Country: "CM", NotifyURL: "https://shop.test/notify"},
		otel.Tracer("test"))
	return &fixture{svc: svc, repo: repo, gateway: gateway, producer: producer}
}

func (f *fixture) seedOrder(t *testing.T, total int64) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(uuid.New().String(), total, domain.CustomerInfo{
		Name:  "Ada Mbarga",
		Email: "ada@example.com",
		Phone: "+237600000000",
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(context.Background(), order))
	return order
}

func (f *fixture) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	order, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func countEvents(order *domain.Order, title string) int {
	n := 0
	for _, ev := range order.Events {
		if ev.Title == title {
			n++
		}
	}
	return n
}

func TestInitiateValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     *InitiateRequest
		wantErr error
	}{
		{name: "missing order id", req: &InitiateRequest{Phone: "670123456"}, wantErr: domain.ErrInvalidRequest},
		{name: "missing phone", req: &InitiateRequest{OrderID: "o-1"}, wantErr: domain.ErrInvalidRequest},
		{name: "unknown order", req: &InitiateRequest{OrderID: "nope", Phone: "670123456"}, wantErr: domain.ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Initiate(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestInitiateAssignsPendingPayment(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)

	resp, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "+237600000000"})
	require.NoError(t, err)

	assert.Equal(t, "REQUEST_ACCEPTED", resp.Status)
	assert.Equal(t, "MOCK-"+domain.PaymentRef(order.ID), resp.PaymentID)
	assert.Equal(t, "cm.mtn", resp.Channel)
	assert.Equal(t, "*126#", resp.ChannelUSSD)
	assert.False(t, resp.AlreadyPending)

	stored := f.order(t, order.ID)
	require.NotNil(t, stored.Payment)
	assert.Equal(t, domain.PaymentPending, stored.Payment.Status)
	assert.Equal(t, domain.PaymentRef(order.ID), stored.Payment.PaymentRef)
	assert.Equal(t, int64(1500), stored.Payment.Amount)
	assert.Equal(t, msisdn.OperatorMTN, stored.Payment.Operator)
	assert.Equal(t, domain.OrderPending, stored.Status)
	assert.Equal(t, 1, countEvents(stored, domain.EventTitlePaymentInitiated))

	// 网关侧尚无任何变化时，轮询必须看到 pending
	check, err := f.svc.Check(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, check.Payment)
	assert.Equal(t, domain.PaymentPending, check.Payment.Status)
	assert.Equal(t, domain.OrderPending, check.OrderStatus)
}

func TestInitiateRetryReturnsExistingPayment(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)

	first, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	second, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	assert.True(t, second.AlreadyPending)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, 1, f.gateway.PlacePaymentCalls(), "retry must not hit the gateway again")
}

// 同一订单的 N 个并发发起只允许产生一次出站网关调用，
// 且所有响应都描述同一个 paymentId。
func TestInitiateConcurrentSingleGatewayCall(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 2500)

	const n = 12
	responses := make([]*InitiateResponse, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.gateway.PlacePaymentCalls())
	wantID := "MOCK-" + domain.PaymentRef(order.ID)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "call %d", i)
		assert.Equal(t, wantID, responses[i].PaymentID, "call %d", i)
	}
}

func TestInitiatePrefersWidget(t *testing.T) {
	f := newFixture()
	f.gateway.EnableWidget()
	order := f.seedOrder(t, 1500)

	resp, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.PaymentURL)
	assert.Empty(t, resp.PaymentID)
	assert.Equal(t, 0, f.gateway.PlacePaymentCalls(), "widget success must skip the legacy path")

	// 还没有关联 id 的收银台支付：对账把托管 URL 告诉调用方，不触发网关查询
	check, err := f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.PaymentURL, check.PaymentURL)
	assert.Equal(t, 0, f.gateway.CheckPaymentCalls())
}

func TestInitiateGatewayUnavailableIsRetryable(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)

	f.gateway.SetUnavailable(true)
	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.Error(t, err)

	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.True(t, gwErr.Unavailable)

	// 占位已回收，失败留痕于事件时间线
	stored := f.order(t, order.ID)
	assert.Nil(t, stored.Payment)
	assert.Equal(t, 1, countEvents(stored, domain.EventTitlePaymentFailed))

	// 网关恢复后同一订单可以重新发起
	f.gateway.SetUnavailable(false)
	resp, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.PaymentID)
}

func TestReconcileSuccessConfirmsOrderOnce(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)

	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	f.gateway.SetTransactionStatus(domain.TxCodeSuccess)

	resp, err := f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, resp.OrderStatus)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, domain.PaymentSuccess, resp.Payment.Status)

	stored := f.order(t, order.ID)
	assert.Equal(t, 1, countEvents(stored, domain.EventTitlePaymentConfirmed))
	assert.Positive(t, stored.Payment.Fee, "fee backfilled from the gateway transaction")
	assert.Equal(t, 1, f.producer.count())

	// 第二次对账退化为元数据刷新：不追加事件、不重复发布、不重复确认
	resp2, err := f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, resp2.OrderStatus)

	stored = f.order(t, order.ID)
	assert.Equal(t, 1, countEvents(stored, domain.EventTitlePaymentConfirmed))
	assert.Equal(t, 1, f.producer.count())
}

func TestReconcileTerminalCodes(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		wantStatus domain.PaymentStatus
		wantTitle  string
	}{
		{name: "failed", code: domain.TxCodeFailed, wantStatus: domain.PaymentFailed, wantTitle: domain.EventTitlePaymentFailed},
		{name: "cancelled", code: domain.TxCodeCancelled, wantStatus: domain.PaymentCancelled, wantTitle: domain.EventTitlePaymentCancelled},
		{name: "refunded", code: domain.TxCodeRefunded, wantStatus: domain.PaymentRefunded, wantTitle: domain.EventTitlePaymentRefunded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			order := f.seedOrder(t, 1500)
			_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
			require.NoError(t, err)

			f.gateway.SetTransactionStatus(tt.code)
			resp, err := f.svc.Reconcile(context.Background(), order.ID)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.Payment.Status)
			assert.Equal(t, domain.OrderPending, resp.OrderStatus, "only success confirms the order")

			stored := f.order(t, order.ID)
			assert.Equal(t, 1, countEvents(stored, tt.wantTitle))
			assert.Equal(t, 1, f.producer.count())
		})
	}
}

// 终态一旦到达就不再回退，哪怕网关之后给出相互矛盾的答案。
func TestReconcileTerminalStateIsMonotonic(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)
	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	f.gateway.SetTransactionStatus(domain.TxCodeSuccess)
	_, err = f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)

	f.gateway.SetTransactionStatus(domain.TxCodeFailed)
	resp, err := f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentSuccess, resp.Payment.Status)
	assert.Equal(t, domain.OrderConfirmed, resp.OrderStatus)
}

func TestReconcileWithoutTransactionStaysPending(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)
	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	resp, err := f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentPending, resp.Payment.Status)
	stored := f.order(t, order.ID)
	assert.Equal(t, 0, countEvents(stored, domain.EventTitlePaymentConfirmed))
	assert.Equal(t, 0, f.producer.count())
}

// 对账时网关不可达：状态保持不变，错误向上抛，失败原因留痕在元数据里。
func TestReconcileGatewayErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)
	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	f.gateway.SetUnavailable(true)
	_, err = f.svc.Reconcile(context.Background(), order.ID)
	require.Error(t, err)

	stored := f.order(t, order.ID)
	assert.Equal(t, domain.PaymentPending, stored.Payment.Status)
	assert.Equal(t, domain.OrderPending, stored.Status)
	assert.NotEmpty(t, stored.Payment.LastError)

	// 网关恢复后同一支付可以继续推进到终态
	f.gateway.SetUnavailable(false)
	f.gateway.SetTransactionStatus(domain.TxCodeSuccess)
	resp, err := f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, resp.Payment.Status)
	assert.Empty(t, f.order(t, order.ID).Payment.LastError)
}

func TestReconcileRequiresInitiatedPayment(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)

	_, err := f.svc.Reconcile(context.Background(), order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

// webhook 重复投递与轮询交错到达都必须收敛到同一个最终状态，
// 确认事件只追加一次。
func TestNotifyDuplicateDelivery(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)
	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	f.gateway.SetTransactionStatus(domain.TxCodeSuccess)
	ref := domain.PaymentRef(order.ID)

	for i := 0; i < 2; i++ {
		resp, err := f.svc.HandleNotify(context.Background(), &NotifyRequest{PaymentRef: ref})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderConfirmed, resp.OrderStatus)
	}

	stored := f.order(t, order.ID)
	assert.Equal(t, 1, countEvents(stored, domain.EventTitlePaymentConfirmed))
	assert.Equal(t, 1, f.producer.count())
}

func TestNotifyFallsBackToGatewayPaymentID(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)
	resp, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	f.gateway.SetTransactionStatus(domain.TxCodeSuccess)
	result, err := f.svc.HandleNotify(context.Background(), &NotifyRequest{PaymentID: resp.PaymentID})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, result.OrderStatus)
}

func TestNotifyUnknownOrderHasNoSideEffects(t *testing.T) {
	f := newFixture()
	f.seedOrder(t, 1500)

	_, err := f.svc.HandleNotify(context.Background(), &NotifyRequest{PaymentRef: "ORD-unknown"})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, 0, f.gateway.CheckPaymentCalls())
}

func TestCancelGuardsSuccessfulPayment(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)
	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	f.gateway.SetTransactionStatus(domain.TxCodeSuccess)
	_, err = f.svc.Reconcile(context.Background(), order.ID)
	require.NoError(t, err)

	before := f.order(t, order.ID)
	err = f.svc.Cancel(context.Background(), order.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentSucceeded)

	after := f.order(t, order.ID)
	require.NotNil(t, after.Payment)
	assert.Equal(t, before.Payment.Status, after.Payment.Status)
	assert.Equal(t, before.Payment.PaymentID, after.Payment.PaymentID)
}

func TestCancelClearsPendingPaymentForReinitiation(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)
	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), order.ID))
	assert.Nil(t, f.order(t, order.ID).Payment)

	// 清除后可以重新发起，产生第二次真实的网关调用
	_, err = f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.gateway.PlacePaymentCalls())
}

func TestCancelWithoutPaymentIsIdempotent(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)
	assert.NoError(t, f.svc.Cancel(context.Background(), order.ID))
}

func TestCheckHonorsThrottle(t *testing.T) {
	f := newFixture()
	f.svc.throttle = denyingThrottle{}
	order := f.seedOrder(t, 1500)
	_, err := f.svc.Initiate(context.Background(), &InitiateRequest{OrderID: order.ID, Phone: "670123456"})
	require.NoError(t, err)

	resp, err := f.svc.Check(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, resp.Payment.Status)
	assert.Equal(t, 0, f.gateway.CheckPaymentCalls(), "throttled check must not hit the gateway")
}

func TestCheckWithoutPayment(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(t, 1500)

	resp, err := f.svc.Check(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Nil(t, resp.Payment)
	assert.Equal(t, domain.OrderPending, resp.OrderStatus)
}
