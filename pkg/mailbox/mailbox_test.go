package mailbox

import (
	"context"
	"testing"
	"time"
)

func TestSendReceiveOrder(t *testing.T) {
	mb := New(4)
	for i := 0; i < 3; i++ {
		if err := mb.Send(i); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := mb.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if got.(int) != i {
			t.Fatalf("Receive() = %v, want %d", got, i)
		}
	}
}

func TestSendFullReturnsErrFull(t *testing.T) {
	mb := New(1)
	if err := mb.Send("a"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := mb.Send("b"); err != ErrFull {
		t.Fatalf("Send() = %v, want ErrFull", err)
	}
}

func TestReceiveRespectsContextCancellation(t *testing.T) {
	mb := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mb.Receive(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Receive() = %v, want DeadlineExceeded", err)
	}
}

func TestCloseIsIdempotentAndRejectsFurtherSends(t *testing.T) {
	mb := New(1)
	mb.Close()
	mb.Close()
	if !mb.IsClosed() {
		t.Fatal("IsClosed() = false after Close")
	}
	if err := mb.Send("x"); err != ErrClosed {
		t.Fatalf("Send() after close = %v, want ErrClosed", err)
	}
}
