// internal/service/payment/application/service.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercato/internal/pkg/logger"
	"mercato/internal/service/payment/domain"
	"mercato/internal/service/payment/domain/port"
	"mercato/internal/service/payment/msisdn"
)

// PaymentService 是支付状态机的编排层。
//
// 它自己不持有任何可变状态：并发正确性完全建立在仓储的条件更新原语上。
// 两个并发的 Initiate 只有一个能通过 CAS 占位并真正调用网关；
// 轮询和 webhook 触发的 Reconcile 汇聚到同一段对账逻辑，
// 终态写入和确认事件的追加都以写入时刻的 CAS 结果为准，天然幂等。
type PaymentService struct {
	repo     domain.OrderRepository
	gateway  port.PaymentGateway
	producer port.PaymentEventProducer
	throttle port.ReconcileThrottle
	rules    []msisdn.Rule
	cfg      Config
	tracer   trace.Tracer
	now      func() time.Time
}

func NewPaymentService(repo domain.OrderRepository, gateway port.PaymentGateway, producer port.PaymentEventProducer, throttle port.ReconcileThrottle, rules []msisdn.Rule, cfg Config, tracer trace.Tracer) *PaymentService {
	return &PaymentService{
		repo: repo, gateway: gateway, producer: producer, throttle: throttle,
		rules: rules, cfg: cfg, tracer: tracer, now: time.Now,
	}
}

// Initiate 发起一笔移动支付。
//
// 幂等契约：同一订单并发或重复调用时，只有一个调用者能占到发起资格并
// 产生一次出站网关调用；其余调用者观察到条件更新失败后重读订单，
// 返回胜者写入的状态，对客户端而言与一次成功发起无法区分。
func (s *PaymentService) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Initiate")
	defer span.End()

	if req.OrderID == "" || req.Phone == "" {
		return nil, errors.Wrap(domain.ErrInvalidRequest, "orderId and phone are required")
	}
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	order, err := s.repo.FindByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	// 已有进行中的支付且带有可继续的关联信息：直接返回现状，客户端可以安全重试
	if p := order.Payment; p != nil && (p.Status == domain.PaymentInitiated || p.Status == domain.PaymentPending) && p.Resolvable() {
		span.AddEvent("existing payment returned, no gateway call")
		return existingPaymentResponse(p), nil
	}

	canonical := msisdn.Normalize(req.Phone)
	operator := req.Operator
	if operator == "" {
		operator = msisdn.DetectOperator(s.rules, canonical)
	}

	claim := &domain.PaymentRecord{
		Provider:      domain.Provider,
		PaymentRef:    domain.PaymentRef(order.ID),
		Status:        domain.PaymentInitiated,
		Amount:        order.Total,
		Currency:      s.cfg.Currency,
		Operator:      operator,
		LastCheckedAt: s.now(),
	}

	// 占位：只有当支付记录不存在或处于可重试状态时写入成功。
	// 这一步决定了并发调用中谁去真正调用网关。
	won, err := s.repo.ConditionalUpdatePayment(ctx, order.ID,
		[]domain.PaymentStatus{domain.PaymentNone, domain.PaymentFailed, domain.PaymentCancelled}, claim)
	if err != nil {
		return nil, err
	}
	if !won {
		initiationRacesLost.Inc()
		span.AddEvent("lost initiation race, reporting winner state")
		return s.awaitWinner(ctx, order.ID)
	}

	if err := s.repo.AppendEvent(ctx, order.ID, domain.OrderEvent{
		At:          s.now(),
		Kind:        domain.EventKindNote,
		Title:       domain.EventTitlePaymentInitiated,
		Description: fmt.Sprintf("Mobile money payment of %d %s initiated via %s", order.Total, s.cfg.Currency, operator),
	}); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("failed to append initiation event")
	}

	payer := port.PayerInfo{Name: order.Customer.Name, Email: order.Customer.Email}

	// 优先走托管收银台：成功时拿到可跳转的 URL，用户体验好于 USSD 推送
	widgetResp, widgetErr := s.gateway.CreateWidgetPayment(ctx, &port.WidgetPaymentRequest{
		Amount:     order.Total,
		Msisdn:     canonical,
		PaymentRef: claim.PaymentRef,
		ReturnURL:  s.cfg.ReturnURL,
		CancelURL:  s.cfg.CancelURL,
		NotifyURL:  s.cfg.NotifyURL,
		Payer:      payer,
	})
	if widgetErr == nil && widgetResp.Success && widgetResp.PaymentURL != "" {
		gatewayRequests.WithLabelValues("createWidgetPayment", "ok").Inc()
		record := claim.Clone()
		record.Status = domain.PaymentPending
		record.PaymentURL = widgetResp.PaymentURL
		record.Raw = widgetResp.Raw
		record.LastCheckedAt = s.now()
		s.persistAcknowledged(ctx, order.ID, record)
		return &InitiateResponse{
			Status:     string(domain.PaymentPending),
			Message:    "payment page created",
			PaymentURL: record.PaymentURL,
		}, nil
	}
	if widgetErr != nil {
		gatewayRequests.WithLabelValues("createWidgetPayment", "error").Inc()
		logger.Ctx(ctx).Warn().Err(widgetErr).Str("order_id", order.ID).
			Msg("widget initiation failed, falling back to placePayment")
	}

	placeResp, placeErr := s.gateway.PlacePayment(ctx, &port.PlacePaymentRequest{
		Amount:     order.Total,
		Msisdn:     canonical,
		Operator:   operator,
		Currency:   s.cfg.Currency,
		Country:    s.cfg.Country,
		PaymentRef: claim.PaymentRef,
		Payer:      payer,
	})
	if placeErr != nil {
		gatewayRequests.WithLabelValues("placePayment", "error").Inc()
		span.RecordError(placeErr)
		span.SetStatus(codes.Error, "gateway initiation failed")

		// 网关不可达时回收占位，订单回到可重新发起的状态。
		// 回收本身也是条件更新：若此刻 webhook 已经送来关联 id，则保留记录。
		released, relErr := s.repo.ReleaseClaim(ctx, order.ID)
		if relErr != nil {
			logger.Ctx(ctx).Error().Err(relErr).Str("order_id", order.ID).Msg("failed to release initiation claim")
		}
		if appendErr := s.repo.AppendEvent(ctx, order.ID, domain.OrderEvent{
			At:          s.now(),
			Kind:        domain.EventKindNote,
			Title:       domain.EventTitlePaymentFailed,
			Description: "gateway unreachable: " + placeErr.Error(),
		}); appendErr != nil {
			logger.Ctx(ctx).Warn().Err(appendErr).Str("order_id", order.ID).Msg("failed to append failure event")
		}
		logger.Ctx(ctx).Error().Err(placeErr).Str("order_id", order.ID).Bool("claim_released", released).
			Msg("payment initiation failed at gateway")
		return nil, placeErr
	}
	gatewayRequests.WithLabelValues("placePayment", "ok").Inc()

	record := claim.Clone()
	record.Status = domain.PaymentPending
	record.PaymentID = placeResp.PaymentID
	record.Channel = placeResp.Channel
	record.ChannelName = placeResp.ChannelName
	record.ChannelUSSD = placeResp.ChannelUSSD
	record.PaymentURL = placeResp.PaymentURL
	record.Raw = placeResp.Raw
	record.LastCheckedAt = s.now()
	s.persistAcknowledged(ctx, order.ID, record)

	logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("payment_id", record.PaymentID).
		Str("operator", operator).Msg("payment initiated")

	return &InitiateResponse{
		Status:      placeResp.Status, // 网关状态字符串原样透传
		Message:     placeResp.Message,
		PaymentID:   record.PaymentID,
		PaymentURL:  record.PaymentURL,
		Channel:     record.Channel,
		ChannelUSSD: record.ChannelUSSD,
	}, nil
}

// awaitWinner 是输掉占位竞争的调用方的收尾路径。
// 胜者可能还在网关调用中，占位记录短暂地没有任何关联信息；
// 这里轮询到记录变得可继续（或被胜者回收）为止，再把胜者的状态返回，
// 对客户端而言与一次成功发起无法区分。
func (s *PaymentService) awaitWinner(ctx context.Context, orderID string) (*InitiateResponse, error) {
	for i := 0; i < 40; i++ {
		fresh, err := s.repo.FindByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if fresh.Payment == nil {
			// 胜者的网关调用失败并回收了占位，这一次发起也按失败上报
			return nil, domain.NewGatewayUnavailable("placePayment", errors.New("concurrent initiation did not complete"))
		}
		if fresh.Payment.Resolvable() || fresh.Payment.Status != domain.PaymentInitiated {
			return existingPaymentResponse(fresh.Payment), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	// 胜者迟迟没有结果：把当前状态原样返回，客户端可以继续轮询 Check
	fresh, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if fresh.Payment == nil {
		return nil, domain.NewGatewayUnavailable("placePayment", errors.New("concurrent initiation did not complete"))
	}
	return existingPaymentResponse(fresh.Payment), nil
}

// persistAcknowledged 把网关受理后的记录写回。正常情况下占位仍是 initiated；
// 若 webhook 抢先把支付推进到了终态，则只补元数据，绝不回退状态。
func (s *PaymentService) persistAcknowledged(ctx context.Context, orderID string, record *domain.PaymentRecord) {
	won, err := s.repo.ConditionalUpdatePayment(ctx, orderID,
		[]domain.PaymentStatus{domain.PaymentInitiated}, record)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("failed to persist gateway acknowledgement")
		return
	}
	if !won {
		if err := s.repo.UpdatePaymentMetadata(ctx, orderID, record); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("failed to persist gateway metadata")
		}
	}
}

// Reconcile 向网关查询交易结果并把它合并进订单。
// 轮询端点和 webhook 都走这里；重复或乱序到达都是安全的。
func (s *PaymentService) Reconcile(ctx context.Context, orderID string) (*CheckResponse, error) {
	return s.reconcile(ctx, orderID, "poll")
}

func (s *PaymentService) reconcile(ctx context.Context, orderID, source string) (*CheckResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("reconcile.source", source))

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	p := order.Payment
	if p == nil {
		return nil, errors.Wrap(domain.ErrInvalidRequest, "payment has not been initiated")
	}
	if p.PaymentID == "" {
		if p.PaymentURL != "" {
			// 收银台发起的支付还没有关联 id：把托管 URL 告诉调用方，让用户去完成支付
			return toCheckResponse(order), nil
		}
		return nil, errors.Wrap(domain.ErrInvalidRequest, "payment has no gateway payment id yet")
	}

	checkResp, err := s.gateway.CheckPayment(ctx, p.PaymentID)
	if err != nil {
		gatewayRequests.WithLabelValues("checkPayment", "error").Inc()
		reconciliations.WithLabelValues(source, "gateway_error").Inc()
		span.RecordError(err)

		// 状态原样保留，错误向上抛，调用方可以稍后重试；失败原因留痕在元数据里
		failMeta := p.Clone()
		failMeta.LastError = err.Error()
		failMeta.LastCheckedAt = s.now()
		if mErr := s.repo.UpdatePaymentMetadata(ctx, orderID, failMeta); mErr != nil {
			logger.Ctx(ctx).Warn().Err(mErr).Str("order_id", orderID).Msg("failed to record check failure")
		}
		return nil, err
	}
	gatewayRequests.WithLabelValues("checkPayment", "ok").Inc()

	meta := p.Clone()
	meta.Raw = checkResp.Raw
	meta.LastError = ""
	meta.LastCheckedAt = s.now()

	target := domain.PaymentPending
	if tx := checkResp.Transaction; tx != nil {
		if mapped, ok := domain.PaymentStatusFromTxCode(tx.Status); ok {
			target = mapped
		} else {
			logger.Ctx(ctx).Warn().Int("tx_status", tx.Status).Str("order_id", orderID).
				Msg("unknown transaction status code, keeping payment pending")
		}
		// 元数据补录：费用、分成、运营商等以网关返回为准
		if tx.Amount > 0 {
			meta.Amount = tx.Amount
		}
		if tx.Fee > 0 {
			meta.Fee = tx.Fee
		}
		if tx.Revenue > 0 {
			meta.Revenue = tx.Revenue
		}
		if tx.Operator != "" {
			meta.Operator = tx.Operator
		}
		if tx.Currency != "" {
			meta.Currency = tx.Currency
		}
	}
	meta.Status = target

	// 只有仍处于非终态的记录才允许被推进；写入时刻的 CAS 结果
	// 决定了谁负责追加事件和发布领域事件，重复对账自然退化为元数据刷新。
	won, err := s.repo.ConditionalUpdatePayment(ctx, orderID,
		[]domain.PaymentStatus{domain.PaymentInitiated, domain.PaymentPending}, meta)
	if err != nil {
		return nil, err
	}
	if won && target.Terminal() {
		s.onTerminal(ctx, order, meta, target)
		reconciliations.WithLabelValues(source, string(target)).Inc()
	} else if !won {
		// 支付已处于终态：last-write 刷新元数据即可
		if err := s.repo.UpdatePaymentMetadata(ctx, orderID, meta); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("failed to refresh payment metadata")
		}
		reconciliations.WithLabelValues(source, "metadata_refresh").Inc()
	} else {
		reconciliations.WithLabelValues(source, "pending").Inc()
	}

	fresh, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toCheckResponse(fresh), nil
}

// onTerminal 在支付首次到达终态时执行一次性的副作用。
// 调用方保证只有赢得终态 CAS 的那次对账会走到这里。
func (s *PaymentService) onTerminal(ctx context.Context, order *domain.Order, record *domain.PaymentRecord, target domain.PaymentStatus) {
	span := trace.SpanFromContext(ctx)

	switch target {
	case domain.PaymentSuccess:
		// 订单确认本身也是条件更新：只有仍处于 pending 的订单会被翻转，
		// 确认事件只由翻转成功的那一次追加。
		flipped, err := s.repo.ConfirmOrder(ctx, order.ID)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to confirm order after successful payment")
			break
		}
		if flipped {
			span.AddEvent("order confirmed")
			if err := s.repo.AppendEvent(ctx, order.ID, domain.OrderEvent{
				At:          s.now(),
				Kind:        domain.EventKindStatus,
				Title:       domain.EventTitlePaymentConfirmed,
				Description: fmt.Sprintf("Payment of %d %s received via %s", record.Amount, record.Currency, record.Operator),
			}); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to append confirmation event")
			}
			logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("payment_id", record.PaymentID).Msg("payment confirmed")
		}
	case domain.PaymentFailed, domain.PaymentCancelled, domain.PaymentRefunded:
		title := domain.EventTitlePaymentFailed
		if target == domain.PaymentCancelled {
			title = domain.EventTitlePaymentCancelled
		} else if target == domain.PaymentRefunded {
			title = domain.EventTitlePaymentRefunded
		}
		if err := s.repo.AppendEvent(ctx, order.ID, domain.OrderEvent{
			At:          s.now(),
			Kind:        domain.EventKindNote,
			Title:       title,
			Description: fmt.Sprintf("Gateway reported payment %s for %s", target, record.PaymentRef),
		}); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("failed to append terminal payment event")
		}
	}

	event := &domain.PaymentStatusChanged{
		OrderID:    order.ID,
		PaymentRef: record.PaymentRef,
		PaymentID:  record.PaymentID,
		Status:     target,
		Amount:     record.Amount,
		Currency:   record.Currency,
		OccurredAt: s.now(),
		TraceID:    span.SpanContext().TraceID().String(),
	}
	if err := s.producer.PublishStatusChanged(ctx, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to publish payment status event")
	}
}

// Check 是面向客户端的轮询入口。
// 对进行中的支付做一次尽力而为的对账（受节流保护），然后返回权威状态；
// 对账失败不向客户端暴露，本次调用退化为读取持久化状态。
func (s *PaymentService) Check(ctx context.Context, orderID string) (*CheckResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Check")
	defer span.End()

	if orderID == "" {
		return nil, errors.Wrap(domain.ErrInvalidRequest, "orderId is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	p := order.Payment
	if p != nil && p.PaymentID != "" && !p.Status.Terminal() {
		allowed, err := s.throttle.Allow(ctx, orderID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("reconcile throttle unavailable, allowing check")
			allowed = true
		}
		if allowed {
			if resp, err := s.reconcile(ctx, orderID, "poll"); err == nil {
				return resp, nil
			} else {
				logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("best-effort reconcile failed during check")
			}
		}
	}
	return toCheckResponse(order), nil
}

// HandleNotify 处理网关的异步回调。
// 先用 payment_ref 定位订单，找不到再按网关关联 id 兜底；
// 都找不到时无副作用地报告 NotFound，网关会自行重试投递。
func (s *PaymentService) HandleNotify(ctx context.Context, req *NotifyRequest) (*CheckResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.HandleNotify")
	defer span.End()

	if req.PaymentRef == "" && req.PaymentID == "" {
		return nil, errors.Wrap(domain.ErrInvalidRequest, "notification carries no correlation id")
	}

	var order *domain.Order
	var err error
	if req.PaymentRef != "" {
		order, err = s.repo.FindByPaymentRef(ctx, req.PaymentRef)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
	}
	if order == nil && req.PaymentID != "" {
		order, err = s.repo.FindByGatewayPaymentID(ctx, req.PaymentID)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("payment_ref", req.PaymentRef).Msg("webhook notification received")
	return s.reconcile(ctx, order.ID, "webhook")
}

// Cancel 清除非终态的支付记录，让订单可以重新发起。
// 已成功的支付承载着已收的钱，永远不允许被丢弃。
func (s *PaymentService) Cancel(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "payment.Cancel")
	defer span.End()

	if orderID == "" {
		return errors.Wrap(domain.ErrInvalidRequest, "orderId is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Payment == nil {
		return nil // 没有可清除的支付，幂等返回
	}
	if order.Payment.Status == domain.PaymentSuccess {
		return domain.ErrPaymentSucceeded
	}

	ok, err := s.repo.ClearPayment(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		// 读到的还不是 success，写入时刻已经是了：同样拒绝
		return domain.ErrPaymentSucceeded
	}

	if err := s.repo.AppendEvent(ctx, orderID, domain.OrderEvent{
		At:          s.now(),
		Kind:        domain.EventKindNote,
		Title:       domain.EventTitlePaymentCancelled,
		Description: "Payment attempt cleared, order can be re-initiated",
	}); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("failed to append cancel event")
	}
	return nil
}

func existingPaymentResponse(p *domain.PaymentRecord) *InitiateResponse {
	return &InitiateResponse{
		Status:         string(p.Status),
		Message:        "payment already in progress",
		PaymentID:      p.PaymentID,
		PaymentURL:     p.PaymentURL,
		Channel:        p.Channel,
		ChannelUSSD:    p.ChannelUSSD,
		AlreadyPending: true,
	}
}
