// Package pipeline implements a duplex, thread-safe chain of named Pipes,
// the way a Netty-style channel pipeline or the teacher's own connection
// plumbing (internal/stream, dial.go) moves framed XML through a sequence
// of cooperating stages. Unlike the teacher's token-stream helpers, objects
// here travel as whole documents (see the xmldoc package) rather than one
// xml.Token at a time.
package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// State is the run state of a Pipeline.
type State int32

// Pipeline states.
const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "RUNNING"
	}
	return "STOPPED"
}

// Direction identifies which worker produced an ExceptionEvent.
type Direction int

// The two pipeline directions.
const (
	DirectionRead Direction = iota
	DirectionWrite
)

// OutList collects the zero or more successor objects a Pipe emits from one
// hook invocation. Emitting nothing drops the input object for that
// direction.
type OutList struct {
	items []interface{}
}

// Emit appends obj to the list of objects forwarded to the next pipe.
func (o *OutList) Emit(obj interface{}) { o.items = append(o.items, obj) }

// Pipe is one stage of a Pipeline. Implementations must not block
// indefinitely inside a hook, and must not wait for the completion of a
// structural mutation they themselves requested.
type Pipe interface {
	// OnReading handles one inbound object, emitting zero or more
	// successors via out.
	OnReading(pl *Pipeline, obj interface{}, out *OutList) error
	// OnWriting handles one outbound object, emitting zero or more
	// successors via out.
	OnWriting(pl *Pipeline, obj interface{}, out *OutList) error
	// OnAddedToPipeline is called once this pipe is linked into pl.
	OnAddedToPipeline(pl *Pipeline)
	// OnRemovedFromPipeline is called once this pipe is unlinked from pl.
	OnRemovedFromPipeline(pl *Pipeline)
}

// ExceptionCatcher is an optional interface a Pipe may implement to observe
// and potentially suppress an exception raised by an earlier pipe in the
// same direction. Returning nil stops propagation; returning a non-nil
// error (the same one or a replacement) rethrows it to the next pipe.
type ExceptionCatcher interface {
	CatchReadException(pl *Pipeline, cause error) error
	CatchWriteException(pl *Pipeline, cause error) error
}

// ExceptionEvent is published on the exception stream when every pipe in a
// direction rethrows.
type ExceptionEvent struct {
	Direction Direction
	Cause     error
}

// Entry names a Pipe's position in the pipeline. Names, when present, must
// be unique.
type Entry struct {
	Name string
	Pipe Pipe
}

// ErrNameExists is returned when adding a pipe under a name already in use.
var ErrNameExists = errors.New("pipeline: name already in use")

// ErrNotFound is returned when an operation references a name that is not
// present in the pipeline.
var ErrNotFound = errors.New("pipeline: entry not found")

// Pipeline is a duplex, thread-safe, ordered chain of Pipes. Entry 0 is the
// "outbound end" nearest the transport; the last entry is the "inbound
// end" nearest the application. Reading walks entries outbound-end to
// inbound-end; writing walks the reverse.
type Pipeline struct {
	mu      sync.RWMutex
	entries []Entry

	state int32

	readQueue  chan interface{}
	writeQueue chan interface{}
	mutations  chan func()

	inboundType  reflect.Type
	outboundType reflect.Type

	inbound    *stream
	outbound   *stream
	exceptions *exceptionStream

	runMu      sync.Mutex
	runWaiters []func()

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Pipeline in the Stopped state. inboundType and
// outboundType declare the runtime type terminal objects must satisfy to
// be published on the inbound/outbound streams; objects of any other
// runtime type are silently dropped at the terminal, per the type-safety
// rule. Pass nil to accept anything.
func New(inboundType, outboundType reflect.Type) *Pipeline {
	p := &Pipeline{
		readQueue:    make(chan interface{}, 256),
		writeQueue:   make(chan interface{}, 256),
		mutations:    make(chan func(), 64),
		inboundType:  inboundType,
		outboundType: outboundType,
		inbound:      newStream(),
		outbound:     newStream(),
		exceptions:   newExceptionStream(),
		done:         make(chan struct{}),
	}
	// The mutation worker runs for the Pipeline's whole lifetime, not just
	// while RUNNING, so pipes can be added/removed before Start (building
	// the chain) and after StopNow (tearing it down) without callers
	// blocking on a worker that was never launched.
	p.wg.Add(1)
	go p.mutationLoop()
	return p
}

// State reports whether the pipeline is RUNNING or STOPPED.
func (p *Pipeline) State() State {
	return State(atomic.LoadInt32(&p.state))
}

// Start transitions the pipeline to RUNNING and launches its reader and
// writer workers. Start is idempotent.
func (p *Pipeline) Start() {
	if !atomic.CompareAndSwapInt32(&p.state, int32(Stopped), int32(Running)) {
		return
	}
	p.wg.Add(2)
	go p.readerLoop()
	go p.writerLoop()

	p.runMu.Lock()
	waiters := p.runWaiters
	p.runWaiters = nil
	p.runMu.Unlock()
	for _, fn := range waiters {
		go fn()
	}
}

// StopNow abandons queued work and joins the reader and writer workers
// promptly. It does not remove or dispose any pipes.
func (p *Pipeline) StopNow() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.state, int32(Stopped))
		close(p.done)
	})
	p.wg.Wait()
}

// OnceRunning registers fn to run exactly once, the next time the pipeline
// reaches RUNNING, or immediately (in a new goroutine) if it is already
// RUNNING. This is the subscribe-once pattern a pipe uses from
// OnAddedToPipeline when it must defer its start() until the pipeline is
// actually moving objects.
func (p *Pipeline) OnceRunning(fn func()) {
	if p.State() == Running {
		go fn()
		return
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.State() == Running {
		go fn()
		return
	}
	p.runWaiters = append(p.runWaiters, fn)
}

// Read feeds one inbound object into the pipeline, as a transport does for
// each document it receives off the wire.
func (p *Pipeline) Read(obj interface{}) {
	select {
	case p.readQueue <- obj:
	case <-p.done:
	}
}

// Write feeds one outbound object into the pipeline, as the application
// does to send a document.
func (p *Pipeline) Write(obj interface{}) {
	select {
	case p.writeQueue <- obj:
	case <-p.done:
	}
}

// Inbound subscribes to the terminal inbound stream. Call the returned
// cancel function to unsubscribe.
func (p *Pipeline) Inbound() (<-chan interface{}, func()) { return p.inbound.subscribe() }

// Outbound subscribes to the terminal outbound stream.
func (p *Pipeline) Outbound() (<-chan interface{}, func()) { return p.outbound.subscribe() }

// Exceptions subscribes to the ExceptionCaught event stream.
func (p *Pipeline) Exceptions() (<-chan ExceptionEvent, func()) { return p.exceptions.subscribe() }

func (p *Pipeline) snapshot() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries
}

// enqueueMutation schedules fn to run exclusively against the entry list
// without blocking the caller: it tries a buffered, non-blocking send
// first, and falls back to a detached goroutine if the mutation queue is
// momentarily full.
func (p *Pipeline) enqueueMutation(fn func()) {
	select {
	case p.mutations <- fn:
	default:
		go func() { p.mutations <- fn }()
	}
}

func (p *Pipeline) mutationLoop() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.mutations:
			p.mu.Lock()
			fn()
			p.mu.Unlock()
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) indexOf(entries []Entry, name string) int {
	for i, e := range entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// AddFirst links pipe under name at the outbound end of the pipeline.
func (p *Pipeline) AddFirst(name string, pipe Pipe) error {
	return p.insert(func(entries []Entry) ([]Entry, int, error) {
		if p.indexOf(entries, name) >= 0 {
			return nil, 0, ErrNameExists
		}
		next := append([]Entry{{Name: name, Pipe: pipe}}, entries...)
		return next, 0, nil
	})
}

// AddLast links pipe under name at the inbound end of the pipeline.
func (p *Pipeline) AddLast(name string, pipe Pipe) error {
	return p.insert(func(entries []Entry) ([]Entry, int, error) {
		if p.indexOf(entries, name) >= 0 {
			return nil, 0, ErrNameExists
		}
		next := append(append([]Entry(nil), entries...), Entry{Name: name, Pipe: pipe})
		return next, len(next) - 1, nil
	})
}

// AddBefore links pipe under name immediately before the entry named
// existing.
func (p *Pipeline) AddBefore(existing, name string, pipe Pipe) error {
	return p.insert(func(entries []Entry) ([]Entry, int, error) {
		if p.indexOf(entries, name) >= 0 {
			return nil, 0, ErrNameExists
		}
		idx := p.indexOf(entries, existing)
		if idx < 0 {
			return nil, 0, ErrNotFound
		}
		next := make([]Entry, 0, len(entries)+1)
		next = append(next, entries[:idx]...)
		next = append(next, Entry{Name: name, Pipe: pipe})
		next = append(next, entries[idx:]...)
		return next, idx, nil
	})
}

// AddAfter links pipe under name immediately after the entry named
// existing.
func (p *Pipeline) AddAfter(existing, name string, pipe Pipe) error {
	return p.insert(func(entries []Entry) ([]Entry, int, error) {
		if p.indexOf(entries, name) >= 0 {
			return nil, 0, ErrNameExists
		}
		idx := p.indexOf(entries, existing)
		if idx < 0 {
			return nil, 0, ErrNotFound
		}
		next := make([]Entry, 0, len(entries)+1)
		next = append(next, entries[:idx+1]...)
		next = append(next, Entry{Name: name, Pipe: pipe})
		next = append(next, entries[idx+1:]...)
		return next, idx + 1, nil
	})
}

// Remove unlinks the entry named name, calling its OnRemovedFromPipeline
// hook.
func (p *Pipeline) Remove(name string) error {
	var errOut error
	done := make(chan struct{})
	p.enqueueMutation(func() {
		defer close(done)
		idx := p.indexOf(p.entries, name)
		if idx < 0 {
			errOut = ErrNotFound
			return
		}
		removed := p.entries[idx]
		next := make([]Entry, 0, len(p.entries)-1)
		next = append(next, p.entries[:idx]...)
		next = append(next, p.entries[idx+1:]...)
		p.entries = next
		removed.Pipe.OnRemovedFromPipeline(p)
	})
	<-done
	return errOut
}

// Replace swaps the pipe registered under name for pipe, disposing the old
// pipe and adding the new one in the same structural mutation so that no
// object can traverse a mixed old/new pipe set.
func (p *Pipeline) Replace(name string, pipe Pipe) error {
	var errOut error
	done := make(chan struct{})
	p.enqueueMutation(func() {
		defer close(done)
		idx := p.indexOf(p.entries, name)
		if idx < 0 {
			errOut = ErrNotFound
			return
		}
		old := p.entries[idx]
		next := append([]Entry(nil), p.entries...)
		next[idx] = Entry{Name: name, Pipe: pipe}
		p.entries = next
		old.Pipe.OnRemovedFromPipeline(p)
		pipe.OnAddedToPipeline(p)
	})
	<-done
	return errOut
}

func (p *Pipeline) insert(build func(entries []Entry) ([]Entry, int, error)) error {
	var errOut error
	done := make(chan struct{})
	p.enqueueMutation(func() {
		defer close(done)
		next, idx, err := build(p.entries)
		if err != nil {
			errOut = err
			return
		}
		p.entries = next
		next[idx].Pipe.OnAddedToPipeline(p)
	})
	<-done
	return errOut
}

func (p *Pipeline) readerLoop() {
	defer p.wg.Done()
	for {
		select {
		case obj := <-p.readQueue:
			p.processRead(obj)
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) writerLoop() {
	defer p.wg.Done()
	for {
		select {
		case obj := <-p.writeQueue:
			p.processWrite(obj)
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) processRead(obj interface{}) {
	entries := p.snapshot()
	objs := []interface{}{obj}
	for i := 0; i < len(entries) && len(objs) > 0; i++ {
		objs = p.step(entries, i, objs, DirectionRead)
	}
	p.publishTerminal(p.inbound, p.inboundType, objs)
}

func (p *Pipeline) processWrite(obj interface{}) {
	entries := p.snapshot()
	objs := []interface{}{obj}
	for i := len(entries) - 1; i >= 0 && len(objs) > 0; i-- {
		objs = p.step(entries, i, objs, DirectionWrite)
	}
	p.publishTerminal(p.outbound, p.outboundType, objs)
}

// step runs entries[i]'s hook (in direction dir) over each of objs, and
// returns the concatenation of everything it emits. A hook error is
// offered to every later pipe in dir's travel order via its
// ExceptionCatcher; if none suppresses it, an ExceptionEvent is published
// and that object's chain is dropped.
func (p *Pipeline) step(entries []Entry, i int, objs []interface{}, dir Direction) []interface{} {
	var next []interface{}
	for _, o := range objs {
		out := &OutList{}
		var err error
		if dir == DirectionRead {
			err = entries[i].Pipe.OnReading(p, o, out)
		} else {
			err = entries[i].Pipe.OnWriting(p, o, out)
		}
		if err != nil {
			if remaining := p.propagate(entries, i, dir, err); remaining != nil {
				p.exceptions.publish(ExceptionEvent{Direction: dir, Cause: remaining})
			}
			continue
		}
		next = append(next, out.items...)
	}
	return next
}

func (p *Pipeline) propagate(entries []Entry, from int, dir Direction, cause error) error {
	var rest []Entry
	if dir == DirectionRead {
		rest = entries[from+1:]
	} else {
		rest = make([]Entry, 0, from)
		for j := from - 1; j >= 0; j-- {
			rest = append(rest, entries[j])
		}
	}
	for _, e := range rest {
		catcher, ok := e.Pipe.(ExceptionCatcher)
		if !ok {
			continue
		}
		var err error
		if dir == DirectionRead {
			err = catcher.CatchReadException(p, cause)
		} else {
			err = catcher.CatchWriteException(p, cause)
		}
		if err == nil {
			return nil
		}
		cause = err
	}
	return cause
}

func (p *Pipeline) publishTerminal(s *stream, want reflect.Type, objs []interface{}) {
	for _, o := range objs {
		if want != nil {
			t := reflect.TypeOf(o)
			if t == nil || !t.AssignableTo(want) {
				continue
			}
		}
		s.publish(o)
	}
}

// String renders the current entry names in traversal (outbound-to-inbound)
// order, for debugging.
func (p *Pipeline) String() string {
	entries := p.snapshot()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return fmt.Sprintf("%v", names)
}
