package database

import (
	"sync"
	"time"

	"dbgate/internal/utils"
)

const (
	// MetricsWindow is the number of recent QueryMetrics a client keeps
	MetricsWindow = 100

	// maxQueryText bounds the query text stored in a QueryMetrics
	maxQueryText = 200
)

// QueryMetrics records the terminal outcome of one operation
type QueryMetrics struct {
	Query         string        `json:"query"`
	QueryType     QueryType     `json:"query_type"`
	ExecutionTime time.Duration `json:"execution_time"`
	RowsAffected  int64         `json:"rows_affected"`
	Timestamp     time.Time     `json:"timestamp"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
}

// Counters are the cumulative query counters of a client
type Counters struct {
	QueryCount         int64         `json:"query_count"`
	ErrorCount         int64         `json:"error_count"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	AvgExecutionTime   time.Duration `json:"avg_execution_time"`
}

// Observer receives every recorded outcome and pool snapshot, e.g. to
// export them to a metrics system
type Observer interface {
	ObserveQuery(driver string, m QueryMetrics)
	ObservePool(driver string, s PoolStats)
}

// newQueryMetrics builds the record for one outcome
func newQueryMetrics(query string, elapsed time.Duration, rows int64, at time.Time, err error) QueryMetrics {
	m := QueryMetrics{
		Query:         utils.Truncate(query, maxQueryText),
		QueryType:     ClassifyQuery(query),
		ExecutionTime: elapsed,
		RowsAffected:  rows,
		Timestamp:     at,
		Success:       err == nil,
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// queryLog keeps the counters and a fixed-size ring of recent outcomes
type queryLog struct {
	mu    sync.Mutex
	buf   []QueryMetrics
	next  int
	full  bool
	count int64
	errs  int64
	total time.Duration
}

func newQueryLog(size int) *queryLog {
	return &queryLog{buf: make([]QueryMetrics, size)}
}

// record appends m, overwriting the oldest entry once the ring is full
func (l *queryLog) record(m QueryMetrics) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = m
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}

	l.count++
	if m.Success {
		l.total += m.ExecutionTime
	} else {
		l.errs++
	}
}

// snapshot returns the retained records, oldest first
func (l *queryLog) snapshot() []QueryMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]QueryMetrics, l.next)
		copy(out, l.buf[:l.next])
		return out
	}

	out := make([]QueryMetrics, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	out = append(out, l.buf[:l.next]...)
	return out
}

func (l *queryLog) counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()

	successes := l.count - l.errs
	if successes < 1 {
		successes = 1
	}

	return Counters{
		QueryCount:         l.count,
		ErrorCount:         l.errs,
		TotalExecutionTime: l.total,
		AvgExecutionTime:   l.total / time.Duration(successes),
	}
}
