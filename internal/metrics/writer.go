package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const turnBufferSize = 100

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Turn is the record written for every finished turn.
type Turn struct {
	Token      uint64
	Route      string
	Model      string
	ToolRounds int
	Outcome    Outcome
	ErrorKind  string
	Duration   time.Duration
	FinishedAt time.Time
}

// Sink persists turn records.
type Sink interface {
	InsertTurnMetric(ctx context.Context, t Turn) error
}

// Writer counts turns in Prometheus and persists them asynchronously.
type Writer struct {
	sink      Sink
	logger    *zap.Logger
	turns     chan Turn
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWriter starts a writer. A nil sink keeps only the Prometheus counters.
func NewWriter(sink Sink, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		sink:   sink,
		logger: logger,
		turns:  make(chan Turn, turnBufferSize),
		done:   make(chan struct{}),
	}
	if sink != nil {
		w.wg.Add(1)
		go w.writeLoop()
	}
	return w
}

// RecordTurn counts the turn and queues it for persistence. It never blocks;
// records are dropped when the buffer is full.
func (w *Writer) RecordTurn(t Turn) {
	if w == nil {
		return
	}
	observeTurn(t)
	if w.sink == nil || w.closed.Load() {
		return
	}

	select {
	case w.turns <- t:
	default:
		w.logger.Debug("Turn metrics buffer full, dropping record", zap.Uint64("token", t.Token))
	}
}

// Close flushes pending records and stops the writer.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case t := <-w.turns:
			w.write(t)
		case <-w.done:
			for {
				select {
				case t := <-w.turns:
					w.write(t)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(t Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.sink.InsertTurnMetric(ctx, t); err != nil {
		w.logger.Error("Failed to write turn metric",
			zap.Error(err),
			zap.Uint64("token", t.Token),
		)
	}
}
