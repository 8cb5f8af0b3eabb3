package wclock

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buildservice-client/osc/build"
)

func TestAcquireRelease(t *testing.T) {
	dir := build.TempDir("wclock", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	l := New(filepath.Join(dir, "wc.lock"))
	if l.Held() {
		t.Fatal("fresh lock should not be held")
	}
	if err := l.Acquire(); err != nil {
		t.Fatal(err)
	}
	if !l.Held() {
		t.Fatal("lock should report held after Acquire")
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if l.Held() {
		t.Fatal("lock should not report held after Release")
	}
}

func TestDoubleAcquirePanics(t *testing.T) {
	dir := build.TempDir("wclock", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	l := New(filepath.Join(dir, "wc.lock"))
	if err := l.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Acquire on an already-held lock to panic")
		}
	}()
	l.Acquire()
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	dir := build.TempDir("wclock", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	l := New(filepath.Join(dir, "wc.lock"))
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Release on an unacquired lock to panic")
		}
	}()
	l.Release()
}

func TestBlocksAcrossProcessesEmulatedWithGoroutines(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	dir := build.TempDir("wclock", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "wc.lock")

	var inCritical int32
	var sawOverlap int32
	done := make(chan struct{})

	worker := func() {
		l := New(path)
		if err := l.Acquire(); err != nil {
			t.Error(err)
			close(done)
			return
		}
		if atomic.AddInt32(&inCritical, 1) > 1 {
			atomic.StoreInt32(&sawOverlap, 1)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inCritical, -1)
		l.Release()
		done <- struct{}{}
	}

	go worker()
	go worker()
	<-done
	<-done

	if atomic.LoadInt32(&sawOverlap) != 0 {
		t.Fatal("two independent Lock instances on the same path ran concurrently")
	}
}

func TestWithReleasesOnPanic(t *testing.T) {
	dir := build.TempDir("wclock", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	l := New(filepath.Join(dir, "wc.lock"))

	func() {
		defer func() { recover() }()
		l.With(func() error {
			panic("boom")
		})
	}()

	if l.Held() {
		t.Fatal("With should have released the lock even though fn panicked")
	}
}
