package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"synapse-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, splitBrokers(""))
}

func TestPermanent(t *testing.T) {
	base := errors.New("unreadable")
	err := fmt.Errorf("ingest: %w", Permanent(base))

	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestAttemptsKey(t *testing.T) {
	assert.Equal(t, "kafka:attempts:source:12", attemptsKey(12))
}

// queueReader 依次返回预置的消息，取完后阻塞到 ctx 取消。
type queueReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *queueReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *queueReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type memAttempts struct {
	mu     sync.Mutex
	counts map[uint]int64
	err    error
}

func (a *memAttempts) Incr(_ context.Context, sourceID uint) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[sourceID]++
	return a.counts[sourceID], nil
}

func (a *memAttempts) Reset(_ context.Context, sourceID uint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, sourceID)
	return nil
}

// scriptedProcessor 对每个来源按顺序返回预置的结果，用完后返回 nil。
type scriptedProcessor struct {
	mu      sync.Mutex
	results map[uint][]error
	calls   map[uint]int
	gaveUp  map[uint]error
}

func newScriptedProcessor(results map[uint][]error) *scriptedProcessor {
	return &scriptedProcessor{results: results, calls: map[uint]int{}, gaveUp: map[uint]error{}}
}

func (p *scriptedProcessor) Process(_ context.Context, task tasks.SourceIngestionTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[task.SourceID]++
	if rs := p.results[task.SourceID]; len(rs) > 0 {
		p.results[task.SourceID] = rs[1:]
		return rs[0]
	}
	return nil
}

func (p *scriptedProcessor) GiveUp(_ context.Context, task tasks.SourceIngestionTask, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gaveUp[task.SourceID] = cause
}

func taskMessage(t *testing.T, offset int64, sourceID uint) kafka.Message {
	t.Helper()
	b, err := json.Marshal(tasks.SourceIngestionTask{SourceID: sourceID, NotebookID: 1, FileName: "a.pdf"})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func newTestConsumer(reader messageReader, attempts AttemptCounter, p TaskProcessor) *Consumer {
	c := newConsumer(reader, "source-ingestion", attempts, p, 3)
	c.backoff = time.Millisecond
	return c
}

func TestConsumer_RetriesTransientFailureBeforeNextMessage(t *testing.T) {
	transient := errors.New("embedding timeout")
	reader := &queueReader{queue: []kafka.Message{taskMessage(t, 0, 1), taskMessage(t, 1, 2)}}
	attempts := &memAttempts{counts: map[uint]int64{}}
	p := newScriptedProcessor(map[uint][]error{1: {transient, transient}})
	c := newTestConsumer(reader, attempts, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{0, 1}, reader.commits(), "offsets are committed in order")
	assert.Equal(t, 3, p.calls[1])
	assert.Equal(t, 1, p.calls[2])
	assert.Empty(t, p.gaveUp)
	assert.Empty(t, attempts.counts, "counters are cleared after success")
	assert.True(t, reader.closed)
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	transient := errors.New("vector store down")
	reader := &queueReader{}
	attempts := &memAttempts{counts: map[uint]int64{}}
	p := newScriptedProcessor(map[uint][]error{1: {transient, transient, transient, transient}})
	c := newTestConsumer(reader, attempts, p)

	c.handle(context.Background(), taskMessage(t, 5, 1))

	assert.Equal(t, 3, p.calls[1])
	assert.Equal(t, transient, p.gaveUp[1])
	assert.Equal(t, []int64{5}, reader.commits())
	assert.Empty(t, attempts.counts)
}

func TestConsumer_ContinuesCountAfterRedelivery(t *testing.T) {
	transient := errors.New("tika unavailable")
	reader := &queueReader{}
	// 上一个进程已经尝试过两次
	attempts := &memAttempts{counts: map[uint]int64{1: 2}}
	p := newScriptedProcessor(map[uint][]error{1: {transient}})
	c := newTestConsumer(reader, attempts, p)

	c.handle(context.Background(), taskMessage(t, 0, 1))

	assert.Equal(t, 1, p.calls[1])
	assert.Equal(t, transient, p.gaveUp[1])
	assert.Equal(t, []int64{0}, reader.commits())
}

func TestConsumer_PermanentFailureIsNotRetried(t *testing.T) {
	unreadable := Permanent(errors.New("no text layer"))
	reader := &queueReader{}
	p := newScriptedProcessor(map[uint][]error{1: {unreadable}})
	c := newTestConsumer(reader, &memAttempts{counts: map[uint]int64{}}, p)

	c.handle(context.Background(), taskMessage(t, 0, 1))

	assert.Equal(t, 1, p.calls[1])
	assert.True(t, IsPermanent(p.gaveUp[1]))
	assert.Equal(t, []int64{0}, reader.commits())
}

func TestConsumer_CounterUnavailableFallsBackToLocalCount(t *testing.T) {
	transient := errors.New("llm 502")
	reader := &queueReader{}
	p := newScriptedProcessor(map[uint][]error{1: {transient, transient, transient}})
	c := newTestConsumer(reader, &memAttempts{err: errors.New("redis down")}, p)

	c.handle(context.Background(), taskMessage(t, 0, 1))

	assert.Equal(t, 3, p.calls[1])
	assert.Equal(t, transient, p.gaveUp[1])
	assert.Equal(t, []int64{0}, reader.commits())
}

func TestConsumer_CancelledRetryIsNotCommitted(t *testing.T) {
	reader := &queueReader{}
	p := newScriptedProcessor(map[uint][]error{1: {errors.New("timeout")}})
	c := newTestConsumer(reader, &memAttempts{counts: map[uint]int64{}}, p)
	c.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	c.handle(ctx, taskMessage(t, 0, 1))

	assert.Empty(t, reader.commits())
	assert.Empty(t, p.gaveUp)
}

func TestConsumer_MalformedMessageIsCommitted(t *testing.T) {
	reader := &queueReader{}
	p := newScriptedProcessor(nil)
	c := newTestConsumer(reader, &memAttempts{counts: map[uint]int64{}}, p)

	c.handle(context.Background(), kafka.Message{Offset: 9, Value: []byte("{not json")})

	assert.Equal(t, []int64{9}, reader.commits())
	assert.Empty(t, p.calls)
}
