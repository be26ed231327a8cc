package kvstore

import (
	"context"
	"errors"
	"sync"
)

// FailingBackend fails every call.
type FailingBackend struct {
	mu    sync.Mutex
	calls int
}

func (f *FailingBackend) Get(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("storage disabled")
}

func (f *FailingBackend) Set(context.Context, string, []byte) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("quota exceeded")
}

func (f *FailingBackend) Close() error { return nil }

func (f *FailingBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// PanickingBackend panics on every call.
type PanickingBackend struct{}

func (PanickingBackend) Get(context.Context, string) ([]byte, error) { panic("storage blew up") }
func (PanickingBackend) Set(context.Context, string, []byte) error  { panic("storage blew up") }
func (PanickingBackend) Close() error                               { return nil }
