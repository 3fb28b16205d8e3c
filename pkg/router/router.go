package router

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/deskhand/pkg/logging"
	"github.com/odvcencio/deskhand/pkg/model"
)

// ModelInvoker is the slice of the model manager the LLM classifier needs.
type ModelInvoker interface {
	Invoke(ctx context.Context, tier model.Tier, req model.InvokeRequest) (*model.InvokeResponse, error)
}

// Decision is the outcome of routing a query.
type Decision struct {
	Tier       model.Tier `json:"tier"`
	Complexity Complexity `json:"-"`
	Reason     string     `json:"reason"`
	Forced     bool       `json:"forced,omitempty"`
}

// Stats reports routing counters since the last reset.
type Stats struct {
	TotalRequests  int     `json:"total_requests"`
	CapableCount   int     `json:"capable_count"`
	CheapCount     int     `json:"cheap_count"`
	CapablePercent float64 `json:"capable_percent"`
	CheapPercent   float64 `json:"cheap_percent"`
}

// Router selects a model tier per query and tracks the cost split.
type Router struct {
	classifier *Classifier
	invoker    ModelInvoker
	useLLM     bool
	logger     *logging.Logger

	mu      sync.Mutex
	total   int
	capable int
	cheap   int

	routedTotal *prometheus.CounterVec
}

// Options configures a Router.
type Options struct {
	UseLLMClassifier bool
	Invoker          ModelInvoker
	Logger           *logging.Logger
	Registry         prometheus.Registerer
}

// New creates a Router.
func New(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	routedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskhand",
		Subsystem: "router",
		Name:      "routed_total",
		Help:      "Queries routed, by model tier.",
	}, []string{"tier"})

	if opts.Registry != nil {
		opts.Registry.MustRegister(routedTotal)
	}

	return &Router{
		classifier:  NewClassifier(),
		invoker:     opts.Invoker,
		useLLM:      opts.UseLLMClassifier && opts.Invoker != nil,
		logger:      opts.Logger,
		routedTotal: routedTotal,
	}
}

// Route picks the model tier for a query. force overrides classification
// when it names a tier ("capable" or "cheap", case-insensitive).
func (r *Router) Route(ctx context.Context, query string, contextLength int, force string) Decision {
	var decision Decision

	switch strings.ToLower(strings.TrimSpace(force)) {
	case string(model.TierCapable):
		decision = Decision{Tier: model.TierCapable, Complexity: Complex, Reason: "forced", Forced: true}
	case string(model.TierCheap):
		decision = Decision{Tier: model.TierCheap, Complexity: Simple, Reason: "forced", Forced: true}
	default:
		signal := r.classify(ctx, query, contextLength)
		tier := model.TierCheap
		if signal.Complexity == Complex {
			tier = model.TierCapable
		}
		decision = Decision{Tier: tier, Complexity: signal.Complexity, Reason: signal.Reason}
	}

	r.record(decision.Tier)

	r.logger.Debug(logging.CategoryRouter, "route", "routed query", map[string]any{
		"tier":   string(decision.Tier),
		"reason": decision.Reason,
		"forced": decision.Forced,
	})

	return decision
}

func (r *Router) classify(ctx context.Context, query string, contextLength int) Signal {
	if r.useLLM {
		if signal, err := r.classifyLLM(ctx, query); err == nil {
			return signal
		} else {
			r.logger.Warn(logging.CategoryRouter, "llm_classify_failed",
				"falling back to rule-based classification", map[string]any{"error": err.Error()})
		}
	}
	return r.classifier.Classify(query, contextLength)
}

const classifyPrompt = `Classify the following IT support query as "simple" or "complex".
Simple queries are short lookups or status changes. Complex queries need analysis, comparison, or troubleshooting.
Respond with exactly one word: simple or complex.

Query: `

func (r *Router) classifyLLM(ctx context.Context, query string) (Signal, error) {
	resp, err := r.invoker.Invoke(ctx, model.TierCheap, model.InvokeRequest{
		Messages:  []model.Message{model.TextMessage("user", classifyPrompt+query)},
		MaxTokens: 10,
	})
	if err != nil {
		return Signal{}, err
	}

	// The model may pad its answer; scan for the verdict instead of
	// requiring an exact one-word reply.
	if strings.Contains(strings.ToUpper(resp.Text()), "COMPLEX") {
		return Signal{Complex, "llm classification"}, nil
	}
	return Signal{Simple, "llm classification"}, nil
}

func (r *Router) record(tier model.Tier) {
	r.mu.Lock()
	r.total++
	if tier == model.TierCapable {
		r.capable++
	} else {
		r.cheap++
	}
	r.mu.Unlock()

	r.routedTotal.WithLabelValues(string(tier)).Inc()
}

// Stats returns routing counters. Percentages are zero when nothing has
// been routed yet.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalRequests: r.total,
		CapableCount:  r.capable,
		CheapCount:    r.cheap,
	}
	if r.total > 0 {
		stats.CapablePercent = float64(r.capable) / float64(r.total) * 100
		stats.CheapPercent = float64(r.cheap) / float64(r.total) * 100
	}
	return stats
}

// ResetStats zeroes the counters.
func (r *Router) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = 0
	r.capable = 0
	r.cheap = 0
}
