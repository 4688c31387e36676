package async

import (
	"errors"
	"testing"
)

func TestList_OrderAndRemoval(t *testing.T) {
	t.Parallel()
	l := NewList[string]()
	l.Add("a")
	l.Add("b")
	l.Add("c")

	if got := l.Length(); got != 3 {
		t.Fatalf("Length = %d, want 3", got)
	}
	if got := l.First(); got != "a" {
		t.Errorf("First = %q, want a", got)
	}
	if got := l.Last(); got != "c" {
		t.Errorf("Last = %q, want c", got)
	}
	if got := l.RemoveFirst(); got != "a" {
		t.Errorf("RemoveFirst = %q, want a", got)
	}
	if got := l.RemoveLast(); got != "c" {
		t.Errorf("RemoveLast = %q, want c", got)
	}
	if got := l.All(); len(got) != 1 || got[0] != "b" {
		t.Errorf("All = %v, want [b]", got)
	}
}

func TestList_Subscriptions(t *testing.T) {
	t.Parallel()
	l := NewList[int]()

	var adds, removes int
	detachAdd := l.OnAdd(func() { adds++ })
	l.OnRemove(func() { removes++ })

	l.Add(1)
	l.Add(2)
	l.RemoveFirst()

	if adds != 2 {
		t.Errorf("add callbacks = %d, want 2", adds)
	}
	if removes != 1 {
		t.Errorf("remove callbacks = %d, want 1", removes)
	}

	detachAdd()
	l.Add(3)
	if adds != 2 {
		t.Errorf("detached add callback still fired, adds = %d", adds)
	}
}

func TestList_DisposeNotifiesAndPoisons(t *testing.T) {
	t.Parallel()
	l := NewList[int]()
	l.Add(1)

	var gotReason string
	l.OnDispose(func(reason string) { gotReason = reason })

	l.Dispose("test teardown")
	if gotReason != "test teardown" {
		t.Errorf("dispose reason = %q", gotReason)
	}
	if !l.IsDisposed() {
		t.Error("IsDisposed should be true")
	}

	// Idempotent.
	l.Dispose("again")

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Add on disposed list should panic")
		}
		if err, ok := r.(error); !ok || !errors.Is(err, ErrListDisposed) {
			t.Errorf("panic value = %v, want ErrListDisposed", r)
		}
	}()
	l.Add(2)
}
