package server

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestWorker_Do(t *testing.T) {
	w := NewWorker(NewWorkspace(Config{}))
	defer w.Stop()

	result, err := w.Do(func(ws *Workspace) any {
		ws.Update("/a.stck", "proc main do end")
		return len(ws.Paths())
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.(int) != 1 {
		t.Errorf("result = %v, want 1", result)
	}
}

func TestWorker_Serializes(t *testing.T) {
	w := NewWorker(NewWorkspace(Config{}))
	defer w.Stop()

	// The counter is only touched on the worker goroutine.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Do(func(*Workspace) any {
				counter++
				return nil
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	result, _ := w.Do(func(*Workspace) any { return counter })
	if result.(int) != 50 {
		t.Errorf("counter = %v, want 50", result)
	}
}

func TestWorker_RecoversPanic(t *testing.T) {
	w := NewWorker(NewWorkspace(Config{}))
	defer w.Stop()

	_, err := w.Do(func(*Workspace) any { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want panic error", err)
	}

	// The worker survives.
	result, err := w.Do(func(*Workspace) any { return "ok" })
	if err != nil || result != "ok" {
		t.Errorf("after panic: %v, %v", result, err)
	}
}

func TestWorker_Stop(t *testing.T) {
	w := NewWorker(NewWorkspace(Config{}))
	w.Stop()
	w.Stop()

	_, err := w.Do(func(*Workspace) any { return nil })
	if !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("err = %v, want ErrWorkerStopped", err)
	}
}
