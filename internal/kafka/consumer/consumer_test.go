package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

type sessionStub struct {
	ctx context.Context

	mu      sync.Mutex
	marked  []int64
	commits int
}

func (s *sessionStub) Claims() map[string][]int32 { return nil }
func (s *sessionStub) MemberID() string           { return "member-1" }
func (s *sessionStub) GenerationID() int32        { return 1 }

func (s *sessionStub) MarkOffset(string, int32, int64, string)  {}
func (s *sessionStub) ResetOffset(string, int32, int64, string) {}

func (s *sessionStub) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *sessionStub) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

func (s *sessionStub) Context() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

type claimStub struct {
	messages chan *sarama.ConsumerMessage
}

func newClaimStub(msgs ...*sarama.ConsumerMessage) *claimStub {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, msg := range msgs {
		ch <- msg
	}
	close(ch)
	return &claimStub{messages: ch}
}

func (c *claimStub) Topic() string                            { return "integrador.pedido.recebido" }
func (c *claimStub) Partition() int32                         { return 0 }
func (c *claimStub) InitialOffset() int64                     { return 0 }
func (c *claimStub) HighWaterMarkOffset() int64               { return 0 }
func (c *claimStub) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func message(offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "integrador.pedido.recebido",
		Partition: 0,
		Offset:    offset,
		Key:       []byte("key"),
		Value:     []byte(`{}`),
		Timestamp: time.Unix(10, 0),
	}
}

func testConsumer(handler Handler) *Consumer {
	c := &Consumer{
		logger:      zerolog.Nop(),
		groupID:     "test-group",
		commitOnAck: true,
	}
	c.handler = handler
	return c
}

func TestConsumeClaimStopsOnHandlerError(t *testing.T) {
	calls := 0
	c := testConsumer(func(ctx context.Context, record *Record) error {
		calls++
		return errors.New("transient failure")
	})
	sess := &sessionStub{}

	h := &groupHandler{consumer: c}
	err := h.ConsumeClaim(sess, newClaimStub(message(5), message(6)))
	if err == nil {
		t.Fatal("expected claim to end with the handler error")
	}

	if calls != 1 {
		t.Fatalf("expected the claim to stop after the first failure, handler ran %d times", calls)
	}
	if len(sess.marked) != 0 {
		t.Fatalf("no offsets may be marked past a failed record, got %v", sess.marked)
	}
	if sess.commits != 0 {
		t.Fatalf("expected no commits, got %d", sess.commits)
	}
}

func TestConsumeClaimAcksEachRecord(t *testing.T) {
	var c *Consumer
	c = testConsumer(func(ctx context.Context, record *Record) error {
		return c.Ack(ctx, record)
	})
	sess := &sessionStub{}

	h := &groupHandler{consumer: c}
	if err := h.ConsumeClaim(sess, newClaimStub(message(5), message(6))); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}

	if len(sess.marked) != 2 || sess.marked[0] != 5 || sess.marked[1] != 6 {
		t.Fatalf("unexpected marked offsets: %v", sess.marked)
	}
	if sess.commits != 2 {
		t.Fatalf("expected one commit per ack, got %d", sess.commits)
	}
}

func TestAckIsIdempotent(t *testing.T) {
	var c *Consumer
	c = testConsumer(func(ctx context.Context, record *Record) error {
		if err := c.Ack(ctx, record); err != nil {
			return err
		}
		return c.Ack(ctx, record)
	})
	sess := &sessionStub{}

	h := &groupHandler{consumer: c}
	if err := h.ConsumeClaim(sess, newClaimStub(message(5))); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}

	if len(sess.marked) != 1 {
		t.Fatalf("expected a single mark, got %v", sess.marked)
	}
	if sess.commits != 1 {
		t.Fatalf("expected a single commit, got %d", sess.commits)
	}
}
