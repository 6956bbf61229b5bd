package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAfterFires(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()
	done := make(chan struct{})
	s.After("a", 10*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never fired")
	}
	if s.Pending() != 0 {
		t.Fatalf("pending = %d after fire", s.Pending())
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()
	var fired atomic.Bool
	cancel := s.After("a", 30*time.Millisecond, func() { fired.Store(true) })
	cancel()
	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled task fired")
	}
}

func TestSchedulerReplaceSameID(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()
	var first, second atomic.Bool
	s.After("a", 20*time.Millisecond, func() { first.Store(true) })
	s.After("a", 20*time.Millisecond, func() { second.Store(true) })
	time.Sleep(100 * time.Millisecond)
	if first.Load() {
		t.Fatal("replaced task still fired")
	}
	if !second.Load() {
		t.Fatal("replacement task never fired")
	}
}

func TestSchedulerStopPreventsNewTasks(t *testing.T) {
	s := NewScheduler(nil)
	s.Stop()
	var fired atomic.Bool
	s.After("a", 5*time.Millisecond, func() { fired.Store(true) })
	time.Sleep(40 * time.Millisecond)
	if fired.Load() {
		t.Fatal("task scheduled after Stop fired")
	}
}

func TestTTLStorePutGetExpire(t *testing.T) {
	st := NewTTLStore(8, time.Hour)
	defer st.Close()
	if !st.Put("k", 42, 30*time.Millisecond) {
		t.Fatal("put rejected")
	}
	v, ok := st.Get("k")
	if !ok || v.(int) != 42 {
		t.Fatalf("get = %v %t", v, ok)
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := st.Get("k"); ok {
		t.Fatal("expired entry still readable")
	}
	if st.Len() != 0 {
		t.Fatalf("len = %d after expiry read", st.Len())
	}
}

func TestTTLStoreBounded(t *testing.T) {
	st := NewTTLStore(2, time.Hour)
	defer st.Close()
	st.Put("a", 1, time.Hour)
	st.Put("b", 2, time.Hour)
	if st.Put("c", 3, time.Hour) {
		t.Fatal("store accepted entry beyond capacity")
	}
	// Overwriting an existing key is always allowed.
	if !st.Put("a", 9, time.Hour) {
		t.Fatal("overwrite rejected")
	}
	st.Delete("b")
	if !st.Put("c", 3, time.Hour) {
		t.Fatal("put after delete rejected")
	}
}

func TestTTLStoreEvictsExpiredWhenFull(t *testing.T) {
	st := NewTTLStore(1, time.Hour)
	defer st.Close()
	st.Put("a", 1, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if !st.Put("b", 2, time.Hour) {
		t.Fatal("expired entry was not evicted to make room")
	}
}
