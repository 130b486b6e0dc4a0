package observability

import (
	"context"
	"log"
	"sync"

	"github.com/ent0n29/recall/internal/reliability"
)

// Report is one failure surfaced to the UI layer.
type Report struct {
	Source    string `json:"source"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail"`
}

type sinkKey struct{}

// Sink receives reports raised while serving a single request or connection.
type Sink func(Report)

// WithSink attaches a per-request report sink to ctx. Reports raised under a
// context derived from it are delivered to the sink in addition to the log.
func WithSink(ctx context.Context, sink Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink)
}

// WithoutSink masks any sink attached to ctx so reports stay in the log.
func WithoutSink(ctx context.Context) context.Context {
	return context.WithValue(ctx, sinkKey{}, Sink(nil))
}

// Reporter is the error-reporting collaborator. It never alters control flow:
// it logs, counts and forwards to the request sink when one is attached.
type Reporter struct {
	metrics *Metrics
	logf    func(format string, args ...any)

	mu   sync.Mutex
	last map[string]Report
}

func NewReporter(metrics *Metrics) *Reporter {
	return &Reporter{
		metrics: metrics,
		logf:    log.Printf,
		last:    make(map[string]Report),
	}
}

func (r *Reporter) Report(ctx context.Context, err error) {
	if r == nil || err == nil {
		return
	}
	c := reliability.Classify(err)
	rep := Report{
		Source:    c.Source,
		Code:      c.Code,
		Retryable: c.Retryable,
		Detail:    err.Error(),
	}

	r.logf("%s error (%s): %v", rep.Source, rep.Code, err)
	if r.metrics != nil {
		r.metrics.ProviderErrors.WithLabelValues(rep.Source, rep.Code).Inc()
	}

	r.mu.Lock()
	r.last[rep.Source] = rep
	r.mu.Unlock()

	if ctx == nil {
		return
	}
	if sink, ok := ctx.Value(sinkKey{}).(Sink); ok && sink != nil {
		sink(rep)
	}
}

// LastBySource returns the most recent report per source, used by readiness checks.
func (r *Reporter) LastBySource() map[string]Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Report, len(r.last))
	for k, v := range r.last {
		out[k] = v
	}
	return out
}
