// Package metrics exports executive activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/value"
)

// Listener counts executive events. It implements exec.Listener.
type Listener struct {
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	plans       *prometheus.CounterVec
	steps       prometheus.Counter
	microSteps  prometheus.Histogram
	duration    prometheus.Histogram
}

var _ exec.Listener = (*Listener)(nil)

// NewListener creates the collectors and registers them with reg.
func NewListener(reg prometheus.Registerer) (*Listener, error) {
	l := &Listener{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexec_node_transitions_total",
				Help: "Committed node transitions by node type and destination state",
			},
			[]string{"type", "to"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexec_node_outcomes_total",
				Help: "Node iterations finished, by outcome and failure type",
			},
			[]string{"outcome", "failure"},
		),
		plans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexec_plans_added_total",
				Help: "Plans and libraries added to the executive",
			},
			[]string{"kind"},
		),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plexec_steps_total",
			Help: "Executive steps run",
		}),
		microSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plexec_step_micro_steps",
			Help:    "Micro steps needed to reach quiescence",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plexec_step_duration_seconds",
			Help:    "Wall time of executive steps",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{l.transitions, l.outcomes, l.plans, l.steps, l.microSteps, l.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Listener) TransitionCommitted(t exec.Transition) {
	l.transitions.WithLabelValues(t.Node.Kind().String(), t.To.String()).Inc()
	// An iteration ends in ITERATION_ENDED, or in FINISHED when the node
	// never ran. FINISHED after ITERATION_ENDED was already counted.
	if t.To == value.IterationEnded || (t.To == value.Finished && t.From != value.IterationEnded) {
		l.outcomes.WithLabelValues(t.Outcome.String(), t.Failure.String()).Inc()
	}
}

func (l *Listener) PlanAdded(string, *node.Node) {
	l.plans.WithLabelValues("plan").Inc()
}

func (l *Listener) LibraryAdded(string, *plan.Node) {
	l.plans.WithLabelValues("library").Inc()
}

func (l *Listener) StepFinished(s exec.StepStats) {
	l.steps.Inc()
	l.microSteps.Observe(float64(s.MicroSteps))
	l.duration.Observe(s.Duration.Seconds())
}

// Serve exposes the metrics of gatherer on addr at /metrics until ctx is
// done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
