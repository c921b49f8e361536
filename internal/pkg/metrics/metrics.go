package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bidhub"

// Negotiation 聚合了谈判引擎的业务指标。
// 所有方法对 nil 接收者安全，测试里可以直接传 nil。
type Negotiation struct {
	Transitions    *prometheus.CounterVec
	AcceptOutcomes *prometheus.CounterVec
	CommitAttempts *prometheus.CounterVec
	Expired        prometheus.Counter
	Released       *prometheus.CounterVec
}

func NewNegotiation(reg prometheus.Registerer) *Negotiation {
	m := &Negotiation{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "bid_transitions_total",
			Help:      "Bid state transitions by type.",
		}, []string{"transition"}),
		AcceptOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "bid_accept_outcomes_total",
			Help:      "Outcomes of the acceptance saga.",
		}, []string{"outcome"}),
		CommitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "commit_attempts_total",
			Help:      "Inventory compare-and-swap attempts by result.",
		}, []string{"result"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Pending bids retired by the expiration sweeper.",
		}),
		Released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "reservations_total",
			Help:      "Orphaned reservations resolved by the reconciler.",
		}, []string{"action"}),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.AcceptOutcomes, m.CommitAttempts, m.Expired, m.Released)
	}
	return m
}

func (m *Negotiation) Transition(name string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(name).Inc()
}

func (m *Negotiation) AcceptOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AcceptOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Negotiation) CommitAttempt(result string) {
	if m == nil {
		return
	}
	m.CommitAttempts.WithLabelValues(result).Inc()
}

func (m *Negotiation) ExpiredBids(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Expired.Add(float64(n))
}

func (m *Negotiation) Reconciled(action string) {
	if m == nil {
		return
	}
	m.Released.WithLabelValues(action).Inc()
}
