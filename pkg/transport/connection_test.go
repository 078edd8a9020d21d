package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newConn(onClose OnCloseHandler) (*Connection, *sync.WaitGroup) {
	var wg sync.WaitGroup
	c := NewConnection(context.Background(), &wg, nil, ConnectionConfig{}, nil, onClose, newTestLogger())
	return c, &wg
}

func TestSendQueuesMessage(t *testing.T) {
	c, _ := newConn(nil)
	msg := []byte(`{"event":"vehicle-position-update"}`)

	c.Send(msg)

	select {
	case got := <-c.send:
		if !bytes.Equal(got, msg) {
			t.Errorf("queued message mismatch: %q", got)
		}
	default:
		t.Fatal("message was not queued")
	}
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	c, _ := newConn(nil)

	for i := 0; i < cap(c.send)+10; i++ {
		c.Send([]byte("m")) // must not block
	}

	if got := len(c.send); got != cap(c.send) {
		t.Errorf("expected full buffer of %d, got %d", cap(c.send), got)
	}
}

func TestCloseRunsOnCloseExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	var calls []uuid.UUID
	c, _ := newConn(func(id uuid.UUID, err error) {
		mu.Lock()
		calls = append(calls, id)
		mu.Unlock()
	})

	cause := errors.New("peer went away")
	c.Close(cause)
	c.Close(cause)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("onClose ran %d times, want 1", len(calls))
	}
	if calls[0] != c.ID() {
		t.Errorf("onClose got connection id %s, want %s", calls[0], c.ID())
	}

	select {
	case <-c.Done():
	default:
		t.Error("Done channel not closed after Close")
	}
}

func TestConcurrentSendAndClose(t *testing.T) {
	// A broadcast may fan out to a connection that disconnects mid-send.
	// Sends racing the teardown must be dropped, never panic the process.
	for i := 0; i < 500; i++ {
		c, _ := newConn(nil)

		var senders sync.WaitGroup
		for g := 0; g < 4; g++ {
			senders.Add(1)
			go func() {
				defer senders.Done()
				for j := 0; j < 50; j++ {
					c.Send([]byte("position"))
				}
			}()
		}
		c.Close(errors.New("peer went away"))
		senders.Wait()
	}
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	c, _ := newConn(nil)
	c.Close(nil)

	// Must neither panic nor send on the closed channel.
	c.Send([]byte("late"))
}

func TestCloseBeforeRunBalancesWaitGroup(t *testing.T) {
	c, wg := newConn(nil)
	c.Close(errors.New("rejected before pumps started"))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	<-done
}
