package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed before a message arrived")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := q.Publish(ctx, Message{Type: MessageTypeAttendance, Body: []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	msg := receive(t, msgs)
	if msg.Type != MessageTypeAttendance || string(msg.Body) != `{"a":1}` {
		t.Errorf("got %+v", msg)
	}

	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Errorf("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Errorf("channel not closed after cancel")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Publish(ctx, Message{Type: "x"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	cancel()
	if err := q.Publish(ctx, Message{Type: "y"}); err == nil {
		t.Errorf("expected error publishing to a full queue with a cancelled context")
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewRedisQueue(client, "test:events")
	q.wait = 100 * time.Millisecond
	if err := q.Publish(ctx, Message{Type: MessageTypeAttendance, Body: []byte(`{"message":"a|b"}`)}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	msg := receive(t, msgs)
	if msg.Type != MessageTypeAttendance {
		t.Errorf("type: got %q, want %q", msg.Type, MessageTypeAttendance)
	}
	if string(msg.Body) != `{"message":"a|b"}` {
		t.Errorf("body: got %q", msg.Body)
	}
}

func TestDeserializeWithoutSeparator(t *testing.T) {
	msg := deserialize("plain")
	if msg.Type != "" || string(msg.Body) != "plain" {
		t.Errorf("got %+v", msg)
	}
}
