// internal/service/payment/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"mercato/internal/pkg/logger"
	"mercato/internal/service/payment/application"
	"mercato/internal/service/payment/domain"
)

const serviceName = "payment-service"

// PaymentHandler 封装了支付服务的 HTTP 处理器。
// 这一层只做参数解析、错误分级到状态码的映射和 trace 上下文提取，
// 所有业务语义都在 application 层。
type PaymentHandler struct {
	service *application.PaymentService
}

// NewPaymentHandler 创建一个新的 HTTP 处理器实例
func NewPaymentHandler(service *application.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /payments/{provider}/start", h.provided(h.start))
	mux.HandleFunc("GET /payments/{provider}/check", h.provided(h.check))
	mux.HandleFunc("POST /payments/{provider}/notify", h.provided(h.notify))
	mux.HandleFunc("POST /payments/{provider}/cancel", h.provided(h.cancel))
}

// provided 校验路径里的 provider 段。当前只接入了一个网关，
// 未知 provider 一律 404。
func (h *PaymentHandler) provided(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("provider") != domain.Provider {
			http.NotFound(w, r)
			return
		}
		next(w, r)
	}
}

func (h *PaymentHandler) start(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "http.PaymentStart")
	defer span.End()

	var req application.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidRequest, "malformed request body"))
		return
	}
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	resp, err := h.service.Initiate(ctx, &req)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", req.OrderID).Msg("payment start failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentHandler) check(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "http.PaymentCheck")
	defer span.End()

	orderID := r.URL.Query().Get("orderId")
	resp, err := h.service.Check(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// notify 接收网关的异步回调。网关用表单投递，重试时可能带 JSON，
// 两种编码都接受；关联字段为 payment_ref 和 paymentId。
func (h *PaymentHandler) notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "http.PaymentNotify")
	defer span.End()

	req := parseNotify(r)
	span.SetAttributes(attribute.String("payment.ref", req.PaymentRef))

	if _, err := h.service.HandleNotify(ctx, req); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// 无副作用地报告未找到，网关会重试投递
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false, "message": "order not found"})
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("payment_ref", req.PaymentRef).Msg("webhook processing failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *PaymentHandler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "http.PaymentCancel")
	defer span.End()

	var body struct {
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidRequest, "malformed request body"))
		return
	}

	if err := h.service.Cancel(ctx, body.OrderID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func parseNotify(r *http.Request) *application.NotifyRequest {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req application.NotifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		return &req
	}
	_ = r.ParseForm()
	return &application.NotifyRequest{
		PaymentRef: r.PostFormValue("payment_ref"),
		PaymentID:  r.PostFormValue("paymentId"),
	}
}

// writeError 把领域错误分级映射为 HTTP 状态码。
// 网关的原始载荷只进日志和存储，不进响应体。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrPaymentSucceeded):
		status = http.StatusBadRequest
	}

	var gwErr *domain.GatewayError
	message := err.Error()
	if errors.As(err, &gwErr) {
		status = http.StatusInternalServerError
		message = "payment gateway error, please retry later"
	}
	writeJSON(w, status, map[string]interface{}{"ok": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
