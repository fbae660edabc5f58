package pipeline_test

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.xmppcore.dev/xmpp/pipeline"
)

// passThrough forwards every object unchanged in both directions.
type passThrough struct {
	added, removed int32
}

func (p *passThrough) OnReading(_ *pipeline.Pipeline, obj interface{}, out *pipeline.OutList) error {
	out.Emit(obj)
	return nil
}
func (p *passThrough) OnWriting(_ *pipeline.Pipeline, obj interface{}, out *pipeline.OutList) error {
	out.Emit(obj)
	return nil
}
func (p *passThrough) OnAddedToPipeline(*pipeline.Pipeline)   {}
func (p *passThrough) OnRemovedFromPipeline(*pipeline.Pipeline) {}

// doublingPipe emits obj twice, to exercise one-to-many fan-out.
type doublingPipe struct{ passThrough }

func (d *doublingPipe) OnReading(_ *pipeline.Pipeline, obj interface{}, out *pipeline.OutList) error {
	out.Emit(obj)
	out.Emit(obj)
	return nil
}

// droppingPipe never emits anything, so the object is consumed silently.
type droppingPipe struct{ passThrough }

func (d *droppingPipe) OnReading(_ *pipeline.Pipeline, obj interface{}, out *pipeline.OutList) error {
	return nil
}

// failingPipe always errors on read.
type failingPipe struct{ passThrough }

var errBoom = errors.New("boom")

func (f *failingPipe) OnReading(_ *pipeline.Pipeline, obj interface{}, out *pipeline.OutList) error {
	return errBoom
}

// catchingPipe suppresses any read exception it observes.
type catchingPipe struct{ passThrough }

func (c *catchingPipe) CatchReadException(_ *pipeline.Pipeline, cause error) error { return nil }
func (c *catchingPipe) CatchWriteException(_ *pipeline.Pipeline, cause error) error { return cause }

func TestInboundOrderPreserved(t *testing.T) {
	pl := pipeline.New(nil, nil)
	pl.AddLast("a", &passThrough{})
	pl.AddLast("b", &passThrough{})
	pl.Start()
	defer pl.StopNow()

	in, cancel := pl.Inbound()
	defer cancel()

	const n = 50
	for i := 0; i < n; i++ {
		pl.Read(i)
	}
	for i := 0; i < n; i++ {
		select {
		case got := <-in:
			if got.(int) != i {
				t.Fatalf("got %v at position %d, want %d", got, i, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for object %d", i)
		}
	}
}

func TestFanOut(t *testing.T) {
	pl := pipeline.New(nil, nil)
	pl.AddLast("double", &doublingPipe{})
	pl.Start()
	defer pl.StopNow()

	in, cancel := pl.Inbound()
	defer cancel()

	pl.Read(1)
	for i := 0; i < 2; i++ {
		select {
		case v := <-in:
			if v.(int) != 1 {
				t.Fatalf("got %v, want 1", v)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for copy %d", i)
		}
	}
}

func TestDrop(t *testing.T) {
	pl := pipeline.New(nil, nil)
	pl.AddLast("drop", &droppingPipe{})
	pl.Start()
	defer pl.StopNow()

	in, cancel := pl.Inbound()
	defer cancel()

	pl.Read(1)
	select {
	case v := <-in:
		t.Fatalf("dropped object should never reach the terminal, got %v", v)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestExceptionSuppressedByLaterCatcher(t *testing.T) {
	pl := pipeline.New(nil, nil)
	pl.AddLast("fail", &failingPipe{})
	pl.AddLast("catch", &catchingPipe{})
	pl.Start()
	defer pl.StopNow()

	exc, cancel := pl.Exceptions()
	defer cancel()

	pl.Read("x")
	select {
	case ev := <-exc:
		t.Fatalf("exception should have been suppressed, got %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestExceptionEscapesWhenUncaught(t *testing.T) {
	pl := pipeline.New(nil, nil)
	pl.AddLast("fail", &failingPipe{})
	pl.Start()
	defer pl.StopNow()

	exc, cancel := pl.Exceptions()
	defer cancel()

	pl.Read("x")
	select {
	case ev := <-exc:
		if ev.Cause != errBoom {
			t.Fatalf("Cause = %v, want errBoom", ev.Cause)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an ExceptionCaught event")
	}
}

// TestPipelineMutationUnderLoad replaces a middle pipe while 1000 objects
// are flowing through the pipeline, and asserts every object is observed
// exactly once at the terminal.
func TestPipelineMutationUnderLoad(t *testing.T) {
	pl := pipeline.New(nil, nil)
	pl.AddLast("head", &passThrough{})
	pl.AddLast("middle", &passThrough{})
	pl.AddLast("tail", &passThrough{})
	pl.Start()
	defer pl.StopNow()

	in, cancel := pl.Inbound()
	defer cancel()

	const n = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			pl.Read(strconv.Itoa(i))
			if i == n/2 {
				_ = pl.Replace("middle", &passThrough{})
			}
		}
	}()

	seen := make(map[string]int, n)
	for i := 0; i < n; i++ {
		select {
		case v := <-in:
			seen[v.(string)]++
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after receiving %d/%d objects", i, n)
		}
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		key := strconv.Itoa(i)
		if seen[key] != 1 {
			t.Fatalf("object %q observed %d times, want 1", key, seen[key])
		}
	}
}

func TestOnceRunningFiresAfterStart(t *testing.T) {
	pl := pipeline.New(nil, nil)
	fired := make(chan struct{})
	pl.OnceRunning(func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("OnceRunning fired before Start")
	case <-time.After(50 * time.Millisecond):
	}

	pl.Start()
	defer pl.StopNow()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnceRunning never fired after Start")
	}
}

func TestReplaceUnknownNameFails(t *testing.T) {
	pl := pipeline.New(nil, nil)
	pl.Start()
	defer pl.StopNow()
	if err := pl.Replace("nope", &passThrough{}); err != pipeline.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAddDuplicateNameFails(t *testing.T) {
	pl := pipeline.New(nil, nil)
	pl.Start()
	defer pl.StopNow()
	if err := pl.AddLast("a", &passThrough{}); err != nil {
		t.Fatal(err)
	}
	if err := pl.AddLast("a", &passThrough{}); err != pipeline.ErrNameExists {
		t.Fatalf("err = %v, want ErrNameExists", err)
	}
}
