package server

import (
	"fmt"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/vm"
)

// vmRequest represents a unit of work to be executed on the worker goroutine.
type vmRequest struct {
	fn   func(*vm.Thread) any
	done chan vmResult
}

// vmResult holds the return value from a worker operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes access to one evaluation thread through a single
// goroutine. The thread owns the module table, so every assignment to a
// module word goes through the worker.
type VMWorker struct {
	env      *vm.Env
	thread   *vm.Thread
	requests chan vmRequest
	quit     chan struct{}
}

// NewVMWorker creates a worker with a fresh thread on env and starts the
// processing goroutine.
func NewVMWorker(env *vm.Env) *VMWorker {
	w := &VMWorker{
		env:      env,
		thread:   env.NewThread(),
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	if !w.thread.OwnsModule() {
		log.Warningf("worker thread %s does not own the module; assignments will fail", w.thread.ID)
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			result := w.execute(req.fn)
			req.done <- result
		case <-w.quit:
			w.thread.Close()
			return
		}
	}
}

// execute runs a function on the thread, recovering from panics. A
// panicking request leaves the thread reset.
func (w *VMWorker) execute(fn func(*vm.Thread) any) vmResult {
	var result vmResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.thread.Reset()
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.thread)
	}()
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes. Returns the result and any error (including panics).
func (w *VMWorker) Do(fn func(*vm.Thread) any) (any, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
	result := <-req.done
	return result.value, result.err
}

// Eval loads and evaluates src on the worker thread. Script failures are
// returned as *vm.Exception; the thread is left clean for the next request.
func (w *VMWorker) Eval(src string) (cell.Cell, error) {
	type evalResult struct {
		v   cell.Cell
		err error
	}
	res, err := w.Do(func(t *vm.Thread) any {
		blk, err := t.Env().Load(src)
		if err != nil {
			return evalResult{err: err}
		}
		v, err := t.Eval(blk)
		if err != nil {
			t.Catch()
		}
		return evalResult{v: v, err: err}
	})
	if err != nil {
		return cell.Cell{}, err
	}
	r := res.(evalResult)
	return r.v, r.err
}

// Stop shuts down the worker goroutine.
func (w *VMWorker) Stop() {
	close(w.quit)
}

// Env returns the worker's environment, for metadata that does not touch
// thread state such as atoms and natives.
func (w *VMWorker) Env() *vm.Env {
	return w.env
}
