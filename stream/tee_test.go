package stream

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("stream failed")

func feed[T any](values ...T) <-chan T {
	ch := make(chan T, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func collect[T any](t *testing.T, ch <-chan T) []T {
	t.Helper()

	var out []T
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timeout:
			t.Fatal("timed out draining channel")
		}
	}
}

func TestTee_BothBranchesReplayInOrder(t *testing.T) {
	in := make(chan int)
	go func() {
		defer close(in)
		for i := 0; i < 100; i++ {
			in <- i
		}
	}()

	a, b := Tee(in)

	got1 := collect(t, a)
	got2 := collect(t, b)

	for _, got := range [][]int{got1, got2} {
		if len(got) != 100 {
			t.Fatalf("branch received %d elements, want 100", len(got))
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("element %d = %d, order not preserved", i, v)
			}
		}
	}
}

func TestTee_UnconsumedBranchDoesNotBlockOther(t *testing.T) {
	in := make(chan int)
	go func() {
		defer close(in)
		for i := 0; i < 50; i++ {
			in <- i
		}
	}()

	a, _ := Tee(in) // b never consumed

	got := collect(t, a)
	if len(got) != 50 {
		t.Fatalf("consumed branch received %d elements, want 50", len(got))
	}
}

func TestTeeLimitStall_BurstBeyondLimitKeepsConsumedBranch(t *testing.T) {
	const n = 20
	in := make(chan int)
	go func() {
		defer close(in)
		for i := 0; i < n; i++ {
			in <- i
		}
	}()

	a, b := TeeLimitStall(in, 4, 100*time.Millisecond)

	// A consuming branch must never lose elements, however far the producer
	// bursts ahead of it.
	gotA := collect(t, a)
	if len(gotA) != n {
		t.Fatalf("consumed branch received %d elements, want %d", len(gotA), n)
	}
	for i, v := range gotA {
		if v != i {
			t.Fatalf("element %d = %d, order not preserved", i, v)
		}
	}

	// The untouched branch is abandoned after the stall window; only what was
	// already buffered remains readable.
	time.Sleep(500 * time.Millisecond)
	gotB := collect(t, b)
	if len(gotB) >= n {
		t.Fatalf("abandoned branch received %d elements, want fewer than %d", len(gotB), n)
	}
}

func TestTeeLimitStall_PacedConsumerGetsEverything(t *testing.T) {
	const n = 30
	in := make(chan int)
	go func() {
		defer close(in)
		for i := 0; i < n; i++ {
			in <- i
		}
	}()

	a, b := TeeLimitStall(in, 2, 200*time.Millisecond)
	go func() {
		for range b {
		}
	}()

	// Consume slower than the producer but well within the stall window.
	var got []int
	timeout := time.After(30 * time.Second)
	for {
		select {
		case v, ok := <-a:
			if !ok {
				if len(got) != n {
					t.Errorf("paced consumer received %d elements, want %d", len(got), n)
				}
				return
			}
			got = append(got, v)
			time.Sleep(5 * time.Millisecond)
		case <-timeout:
			t.Fatal("timed out draining paced branch")
		}
	}
}

func TestTeeLimitStall_AbandonedBranchClosesEarly(t *testing.T) {
	const n = 10
	in := make(chan int)
	go func() {
		defer close(in)
		for i := 0; i < n; i++ {
			in <- i
		}
	}()

	a, b := TeeLimitStall(in, 2, 50*time.Millisecond)

	if got := collect(t, a); len(got) != n {
		t.Fatalf("consumed branch received %d elements, want %d", len(got), n)
	}

	// Never consume b. Its forwarder must give up and close the output
	// rather than block forever holding the queue.
	time.Sleep(300 * time.Millisecond)

	drained := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-b:
			if !ok {
				if drained > 2 {
					t.Errorf("abandoned branch held %d elements, want at most the buffer size", drained)
				}
				return
			}
			drained++
		case <-deadline:
			t.Fatal("abandoned branch never closed")
		}
	}
}

func TestTeePairLimit_ErrorReachesBothBranches(t *testing.T) {
	data := feed(1, 2, 3)
	errs := make(chan error, 1)
	errs <- errTest
	close(errs)

	d1, d2, e1, e2 := TeePairLimit(data, errs, 16)

	if got := collect(t, d1); len(got) != 3 {
		t.Errorf("branch 1 received %d elements, want 3", len(got))
	}
	if got := collect(t, d2); len(got) != 3 {
		t.Errorf("branch 2 received %d elements, want 3", len(got))
	}

	for i, e := range []<-chan error{e1, e2} {
		select {
		case err := <-e:
			if err != errTest {
				t.Errorf("error branch %d got %v, want errTest", i+1, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("error branch %d never delivered", i+1)
		}
	}
}

func TestTeeGenerate_ReplicatesResponse(t *testing.T) {
	resp := make(chan GenerateResponse, 1)
	resp <- GenerateResponse{ModelVersion: "gemini-2.0-flash"}
	close(resp)

	gs := GenerateStream{
		Chunks:   feed(GenerateChunk{Text: "a"}, GenerateChunk{Text: "b"}),
		Errs:     feed[error](),
		Response: resp,
	}

	g1, g2 := TeeGenerate(gs, 16)

	if got := collect(t, g1.Chunks); len(got) != 2 {
		t.Errorf("fork 1 received %d chunks, want 2", len(got))
	}
	if got := collect(t, g2.Chunks); len(got) != 2 {
		t.Errorf("fork 2 received %d chunks, want 2", len(got))
	}

	for i, r := range []<-chan GenerateResponse{g1.Response, g2.Response} {
		select {
		case got, ok := <-r:
			if !ok || got.ModelVersion != "gemini-2.0-flash" {
				t.Errorf("fork %d response = %+v, ok=%v", i+1, got, ok)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("fork %d response never delivered", i+1)
		}
	}
}

func BenchmarkTee(b *testing.B) {
	for i := 0; i < b.N; i++ {
		in := make(chan int, 64)
		a, c := Tee(in)
		done := make(chan struct{})
		go func() {
			for range a {
			}
			for range c {
			}
			close(done)
		}()
		for j := 0; j < 64; j++ {
			in <- j
		}
		close(in)
		<-done
	}
}
