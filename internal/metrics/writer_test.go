package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySink struct {
	mu    sync.Mutex
	turns []Turn
	err   error
}

func (s *memorySink) InsertTurnMetric(_ context.Context, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.turns = append(s.turns, t)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

func TestWriterFlushesOnClose(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, zap.NewNop())

	for i := 1; i <= 10; i++ {
		w.RecordTurn(Turn{Token: uint64(i), Route: "cloud", Outcome: OutcomeDone, Duration: time.Second})
	}
	w.Close()

	require.Equal(t, 10, sink.count())
	assert.Equal(t, uint64(1), sink.turns[0].Token)

	w.RecordTurn(Turn{Token: 99, Outcome: OutcomeDone})
	assert.Equal(t, 10, sink.count())
}

func TestWriterSinkErrorsAreLogged(t *testing.T) {
	sink := &memorySink{err: errors.New("disk I/O error")}
	w := NewWriter(sink, zap.NewNop())
	w.RecordTurn(Turn{Token: 1, Outcome: OutcomeFailed, ErrorKind: "NETWORK_FAILURE"})
	w.Close()
	assert.Equal(t, 0, sink.count())
}

func TestWriterWithoutSink(t *testing.T) {
	w := NewWriter(nil, nil)
	w.RecordTurn(Turn{Token: 1, Outcome: OutcomeCancelled})
	w.Close()

	var nilWriter *Writer
	nilWriter.RecordTurn(Turn{})
	nilWriter.Close()
}
