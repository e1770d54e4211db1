// Package metrics 拼团核心链路的 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groupbuy"

var (
	// PurchaseRequests action=create|join，result=ok 或错误码
	PurchaseRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purchase_requests_total",
		Help:      "开团/参团请求数",
	}, []string{"action", "result"})

	GroupsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "groups_succeeded_total",
		Help:      "成团数",
	})

	GroupsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "groups_expired_total",
		Help:      "过期失败的拼团数",
	})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_runs_total",
		Help:      "过期扫描执行次数",
	}, []string{"result"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "单次过期扫描耗时",
		Buckets:   prometheus.DefBuckets,
	})

	SweepItemErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_item_errors_total",
		Help:      "扫描中单个拼团/订单处理失败次数",
	})

	Refunds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refunds_total",
		Help:      "退款笔数",
	})

	RefundAmount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refund_amount_cents_total",
		Help:      "退款总金额（分）",
	})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_published_total",
		Help:      "outbox 投递结果",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
