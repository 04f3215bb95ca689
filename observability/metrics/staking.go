package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics tracks settlement activity for the staking ledger.
type StakingMetrics struct {
	settlements  *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	rewardsPaid  prometheus.Counter
	totalStaked  prometheus.Gauge
	rewardVault  prometheus.Gauge
	settleTiming prometheus.Histogram
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

// Staking returns the lazily registered staking metrics.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "staking",
				Name:      "settlements_total",
				Help:      "Settlements processed by operation and status.",
			}, []string{"operation", "status"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "staking",
				Name:      "rejections_total",
				Help:      "Rejected settlements by operation and reason.",
			}, []string{"operation", "reason"}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "staking",
				Name:      "rewards_paid_raw_total",
				Help:      "Reward raw units paid out by harvest and unstake.",
			}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "staking",
				Name:      "stake_vault_raw",
				Help:      "Raw principal held by the stake vault.",
			}),
			rewardVault: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "staking",
				Name:      "reward_vault_raw",
				Help:      "Raw reward tokens available for payouts.",
			}),
			settleTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "staking",
				Name:      "settlement_duration_seconds",
				Help:      "Time spent executing and committing a settlement.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			}),
		}
		prometheus.MustRegister(
			stakingRegistry.settlements,
			stakingRegistry.rejections,
			stakingRegistry.rewardsPaid,
			stakingRegistry.totalStaked,
			stakingRegistry.rewardVault,
			stakingRegistry.settleTiming,
		)
	})
	return stakingRegistry
}

func (m *StakingMetrics) ObserveSettlement(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.settlements.WithLabelValues(operation, status).Inc()
	m.settleTiming.Observe(seconds)
}

func (m *StakingMetrics) ObserveRejection(operation, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

func (m *StakingMetrics) AddRewardsPaid(raw uint64) {
	if m == nil || raw == 0 {
		return
	}
	m.rewardsPaid.Add(float64(raw))
}

func (m *StakingMetrics) SetVaults(stakedRaw, rewardRaw uint64) {
	if m == nil {
		return
	}
	m.totalStaked.Set(float64(stakedRaw))
	m.rewardVault.Set(float64(rewardRaw))
}
