// Package bot содержит торговое ядро: цикл исполнения, монитор
// просадки, координатор экстренного закрытия и протокол ликвидации.
package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики торгового ядра
var (
	equityGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "afml_equity",
		Help: "Current account equity in USDT",
	})

	drawdownGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "afml_drawdown",
		Help: "Current drawdown from session equity peak (fraction)",
	})

	maxDrawdownGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "afml_max_drawdown",
		Help: "Maximum drawdown reached this session (fraction)",
	})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afml_steps_total",
		Help: "Trading loop iterations by status",
	}, []string{"status"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afml_operations_total",
		Help: "Executed trading operations by kind",
	}, []string{"operation"})

	emergencyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afml_emergency_total",
		Help: "Emergency unwind activations",
	})

	auditFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afml_audit_failures_total",
		Help: "Session log writes that failed and were dropped",
	})
)
