package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitUntil_TrueOnThirdCall(t *testing.T) {
	var calls int32
	ok := WaitUntil(context.Background(), 10*time.Millisecond, 500*time.Millisecond, func(context.Context) bool {
		return atomic.AddInt32(&calls, 1) == 3
	})

	if !ok {
		t.Fatal("WaitUntil = false, want true")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("predicate called %d times, want exactly 3", n)
	}
}

func TestWaitUntil_ExhaustsBudget(t *testing.T) {
	// 110ms budget at 25ms cadence: calls at 25, 50, 75, 100 — exactly
	// floor(110/25) = 4 — then the next tick lands past the budget.
	var calls int32
	ok := WaitUntil(context.Background(), 25*time.Millisecond, 110*time.Millisecond, func(context.Context) bool {
		atomic.AddInt32(&calls, 1)
		return false
	})

	if ok {
		t.Fatal("WaitUntil = true, want false")
	}
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Errorf("predicate called %d times, want exactly 4", n)
	}
}

func TestWaitUntil_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	ok := WaitUntil(ctx, 50*time.Millisecond, time.Second, func(context.Context) bool { return true })
	if ok {
		t.Error("WaitUntil = true after cancellation, want false")
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("WaitUntil took %v to notice cancellation", elapsed)
	}
}

func TestWaitUntil_InvalidParams(t *testing.T) {
	called := false
	if WaitUntil(context.Background(), 0, time.Second, func(context.Context) bool { called = true; return true }) {
		t.Error("WaitUntil with zero interval returned true")
	}
	if called {
		t.Error("predicate called despite zero interval")
	}
}

func TestWait_BecomesAvailable(t *testing.T) {
	var requests int32
	var gotRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		if atomic.AddInt32(&requests, 1) < 3 {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer srv.Close()

	p := New(10*time.Millisecond, 500*time.Millisecond)
	if !p.Wait(context.Background(), srv.URL+"/video/GeneratedScene_ab12cd34.mp4") {
		t.Fatal("Wait = false, want true once the artifact appears")
	}

	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Errorf("issued %d probes, want exactly 3", n)
	}
	if hdr, _ := gotRange.Load().(string); hdr != "bytes=0-0" {
		t.Errorf("Range header = %q, want %q", hdr, "bytes=0-0")
	}
}

func TestWait_NeverAvailable(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := New(25*time.Millisecond, 110*time.Millisecond)
	if p.Wait(context.Background(), srv.URL+"/video/missing.mp4") {
		t.Fatal("Wait = true for a resource that never appears")
	}
	if n := atomic.LoadInt32(&requests); n != 4 {
		t.Errorf("issued %d probes, want floor(110/25) = 4", n)
	}
}

func TestWait_FullContentCountsAsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A server ignoring Range still proves the artifact exists.
		w.Write([]byte("entire file"))
	}))
	defer srv.Close()

	p := New(10*time.Millisecond, 200*time.Millisecond)
	if !p.Wait(context.Background(), srv.URL+"/ok.mp4") {
		t.Error("Wait = false for a 200 response, want true")
	}
}

func TestWait_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := New(20*time.Millisecond, 70*time.Millisecond)
	if p.Wait(context.Background(), url+"/gone.mp4") {
		t.Error("Wait = true against a closed server, want false")
	}
}
