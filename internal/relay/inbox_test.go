package relay

import (
	"fmt"
	"sync"
	"testing"
)

func TestInboxFIFO(t *testing.T) {
	var q Inbox

	if _, ok := q.Pop(); ok {
		t.Fatal("Pop() on empty inbox ok = true")
	}

	q.Push(Envelope{Content: "1"})
	q.Push(Envelope{Content: "2"})
	if env, _ := q.Pop(); env.Content != "1" {
		t.Errorf("Pop() = %q, want 1", env.Content)
	}
	q.Push(Envelope{Content: "3"})

	for _, want := range []string{"2", "3"} {
		env, ok := q.Pop()
		if !ok || env.Content != want {
			t.Errorf("Pop() = %q, %v, want %q", env.Content, ok, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestInboxConcurrentProducerConsumer(t *testing.T) {
	var q Inbox
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(Envelope{Content: fmt.Sprint(i)})
		}
	}()

	got := make([]string, 0, n)
	for len(got) < n {
		if env, ok := q.Pop(); ok {
			got = append(got, env.Content)
		}
	}
	wg.Wait()

	for i, c := range got {
		if c != fmt.Sprint(i) {
			t.Fatalf("got[%d] = %q, want %d", i, c, i)
		}
	}
}
