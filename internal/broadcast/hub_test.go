package broadcast

import "testing"

func TestHubDeliversToAllSubscribers(t *testing.T) {
	h := NewHub[int](4)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	h.Publish(7)
	if got := <-a; got != 7 {
		t.Errorf("subscriber a got %d, want 7", got)
	}
	if got := <-b; got != 7 {
		t.Errorf("subscriber b got %d, want 7", got)
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub[int](2)
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		h.Publish(i) // must never block
	}
	if got := <-ch; got != 0 {
		t.Errorf("first buffered value = %d, want 0", got)
	}
	if got := <-ch; got != 1 {
		t.Errorf("second buffered value = %d, want 1", got)
	}
	select {
	case v := <-ch:
		t.Errorf("unexpected extra value %d, overflow should be dropped", v)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub[string](0)
	ch, cancel := h.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	cancel() // second cancel is a no-op
	if h.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", h.SubscriberCount())
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	h := NewHub[int](0)
	ch, _ := h.Subscribe()
	h.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after hub close")
	}
	h.Publish(1) // no-op, must not panic
	late, _ := h.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after close should yield a closed channel")
	}
}
