// internal/service/payment/infrastructure/adapter/reconcile_throttle_redis_adapter.go
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"mercato/internal/pkg/redis"
)

const reconcileThrottleScriptName = "reconcile_throttle"

// ReconcileThrottleRedisAdapter 是 port.ReconcileThrottle 的 Redis 实现。
// 客户端往往用很短的间隔轮询 Check，这里用一个窗口 key 把真正打到网关的
// 对账频率压到每订单每窗口一次。
type ReconcileThrottleRedisAdapter struct {
	redisClient *redis.Client
	window      time.Duration
}

// NewReconcileThrottleRedisAdapter 创建节流适配器并加载所需的 Lua 脚本。
func NewReconcileThrottleRedisAdapter(redisClient *redis.Client, window time.Duration) (*ReconcileThrottleRedisAdapter, error) {
	if window <= 0 {
		window = 10 * time.Second
	}
	if err := redisClient.LoadScriptFromContent(reconcileThrottleScriptName, reconcileThrottleScript); err != nil {
		return nil, fmt.Errorf("failed to load reconcile throttle script: %w", err)
	}
	return &ReconcileThrottleRedisAdapter{redisClient: redisClient, window: window}, nil
}

// Allow 在每个窗口内对同一订单只放行一次对账。
func (a *ReconcileThrottleRedisAdapter) Allow(ctx context.Context, orderID string) (bool, error) {
	key := fmt.Sprintf("payment:reconcile:{%s}", orderID)

	result, err := a.redisClient.RunScript(ctx, reconcileThrottleScriptName,
		[]string{key}, a.window.Milliseconds())
	if err != nil {
		return false, errors.Wrap(err, "reconcile throttle script")
	}
	code, ok := result.(int64)
	if !ok {
		return false, errors.Errorf("unexpected result type from Lua script: %T", result)
	}
	return code == 1, nil
}

var reconcileThrottleScript = `
-- KEYS[1]: 对账窗口的 Key, 例如: payment:reconcile:{order_123}
-- ARGV[1]: 窗口长度, 毫秒

-- 窗口内已有一次对账: 拒绝放行
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end

-- 占住窗口并放行
redis.call('set', KEYS[1], 1, 'PX', tonumber(ARGV[1]))
return 1
`
