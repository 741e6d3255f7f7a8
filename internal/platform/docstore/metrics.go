package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts collection calls by outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirstore_collection_operations_total",
			Help: "Total number of document collection operations",
		},
		[]string{"collection", "operation", "status"},
	)
	// OperationDuration is the latency of collection calls.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fhirstore_collection_operation_duration_seconds",
			Help:    "Document collection operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "operation"},
	)
)

// Instrument wraps c so every call is counted and timed.
func Instrument(c Collection) Collection {
	if _, ok := c.(*instrumented); ok {
		return c
	}
	return &instrumented{inner: c}
}

type instrumented struct {
	inner Collection
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrDuplicateKey):
		status = "conflict"
	case err != nil:
		status = "error"
	}
	name := i.inner.Name()
	OperationsTotal.WithLabelValues(name, op, status).Inc()
	OperationDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Name() string { return i.inner.Name() }

func (i *instrumented) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := i.inner.Count(ctx)
	i.observe("count", start, err)
	return n, err
}

func (i *instrumented) Find(ctx context.Context, q Query) ([]Document, error) {
	start := time.Now()
	docs, err := i.inner.Find(ctx, q)
	i.observe("find", start, err)
	return docs, err
}

func (i *instrumented) FindOne(ctx context.Context, q Query) (Document, error) {
	start := time.Now()
	doc, err := i.inner.FindOne(ctx, q)
	i.observe("find_one", start, err)
	return doc, err
}

func (i *instrumented) Insert(ctx context.Context, key string, doc Document) (Document, error) {
	start := time.Now()
	out, err := i.inner.Insert(ctx, key, doc)
	i.observe("insert", start, err)
	return out, err
}

func (i *instrumented) FindOneAndReplace(ctx context.Context, q Query, key string, doc Document, opts ReplaceOptions) (ReplaceResult, error) {
	start := time.Now()
	res, err := i.inner.FindOneAndReplace(ctx, q, key, doc, opts)
	i.observe("replace", start, err)
	return res, err
}

func (i *instrumented) Delete(ctx context.Context, q Query) (int64, error) {
	start := time.Now()
	n, err := i.inner.Delete(ctx, q)
	i.observe("delete", start, err)
	return n, err
}

// InstrumentedDatabase wraps every collection of db with Instrument.
type InstrumentedDatabase struct {
	Database
}

func (d InstrumentedDatabase) Collection(name string) Collection {
	return Instrument(d.Database.Collection(name))
}
