package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const walletNamespace = "wallet"

var (
	defaultOnce    sync.Once
	defaultMetrics *WalletMetrics
)

// Default returns the process-wide metrics, registered on the default
// prometheus registry on first use. The pipeline packages increment through
// it; tests that need isolation construct their own via NewWalletMetrics.
func Default() *WalletMetrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewWalletMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// WalletMetrics contains instrumented counters the signing pipeline
// increments through the methods below.
type WalletMetrics struct {
	numEstimations       *prometheus.CounterVec
	numEstimationRetries prometheus.Counter
	numBundlerSwitches   *prometheus.CounterVec
	numPaymasterFallback prometheus.Counter
	numOpsSigned         *prometheus.CounterVec
	// if numOpsSigned{status="failed"} keeps growing while "done" does
	// not, signing is broken, not just slow
}

func NewWalletMetrics(reg prometheus.Registerer) *WalletMetrics {
	return &WalletMetrics{
		numEstimations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: walletNamespace,
				Name:      "num_estimations_total",
				Help:      "The number of fee estimations performed, by strategy and outcome",
			}, []string{"strategy", "status"}),

		numEstimationRetries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: walletNamespace,
				Name:      "num_estimation_retries_total",
				Help:      "The number of estimation attempts that timed out",
			}),

		numBundlerSwitches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: walletNamespace,
				Name:      "num_bundler_switches_total",
				Help:      "The number of bundler failovers. If it is increasing, the primary bundler is unhealthy",
			}, []string{"from"}),

		numPaymasterFallback: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: walletNamespace,
				Name:      "num_paymaster_fallbacks_total",
				Help:      "The number of sponsorships that failed and fell back to self-paid",
			}),

		numOpsSigned: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: walletNamespace,
				Name:      "num_ops_signed_total",
				Help:      "The number of signing attempts, by outcome",
			}, []string{"status"}),
	}
}

func (m *WalletMetrics) IncEstimation(strategy, status string) {
	m.numEstimations.WithLabelValues(strategy, status).Inc()
}

func (m *WalletMetrics) IncEstimationRetry() {
	m.numEstimationRetries.Inc()
}

func (m *WalletMetrics) IncBundlerSwitch(from string) {
	m.numBundlerSwitches.WithLabelValues(from).Inc()
}

func (m *WalletMetrics) IncPaymasterFallback() {
	m.numPaymasterFallback.Inc()
}

func (m *WalletMetrics) IncOpSigned(status string) {
	m.numOpsSigned.WithLabelValues(status).Inc()
}
