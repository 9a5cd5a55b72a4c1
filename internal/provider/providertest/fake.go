// Package providertest provides a scriptable provider for tests.
package providertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sells-group/boq-resolver/internal/provider"
)

// Fake is a Provider whose behavior is set per test. Nil funcs behave like
// a disabled provider.
type Fake struct {
	ClassifyFunc func(ctx context.Context, req provider.ClassifyRequest) (*provider.ClassifyResponse, error)
	SelectFunc   func(ctx context.Context, req provider.SelectRequest) (*provider.SelectResponse, error)

	classifyCalls atomic.Int64
	selectCalls   atomic.Int64

	mu       sync.Mutex
	selected []provider.SelectRequest
}

// Ensure Fake implements provider.Provider.
var _ provider.Provider = (*Fake)(nil)

// Name implements provider.Provider.
func (f *Fake) Name() string { return "fake" }

// Classify implements provider.Provider.
func (f *Fake) Classify(ctx context.Context, req provider.ClassifyRequest) (*provider.ClassifyResponse, error) {
	f.classifyCalls.Add(1)
	if f.ClassifyFunc == nil {
		return nil, provider.ErrDisabled
	}
	return f.ClassifyFunc(ctx, req)
}

// Select implements provider.Provider.
func (f *Fake) Select(ctx context.Context, req provider.SelectRequest) (*provider.SelectResponse, error) {
	f.selectCalls.Add(1)
	f.mu.Lock()
	f.selected = append(f.selected, req)
	f.mu.Unlock()
	if f.SelectFunc == nil {
		return nil, provider.ErrDisabled
	}
	return f.SelectFunc(ctx, req)
}

// ClassifyCalls returns the number of Classify calls.
func (f *Fake) ClassifyCalls() int { return int(f.classifyCalls.Load()) }

// SelectCalls returns the number of Select calls.
func (f *Fake) SelectCalls() int { return int(f.selectCalls.Load()) }

// SelectRequests returns a copy of every Select request received.
func (f *Fake) SelectRequests() []provider.SelectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.SelectRequest, len(f.selected))
	copy(out, f.selected)
	return out
}

// Pick returns a SelectFunc that always answers with code.
func Pick(code string, confidence float64) func(context.Context, provider.SelectRequest) (*provider.SelectResponse, error) {
	return func(context.Context, provider.SelectRequest) (*provider.SelectResponse, error) {
		return &provider.SelectResponse{SelectedCode: code, Confidence: confidence}, nil
	}
}

// Block returns a SelectFunc that waits for the context to end.
func Block() func(context.Context, provider.SelectRequest) (*provider.SelectResponse, error) {
	return func(ctx context.Context, _ provider.SelectRequest) (*provider.SelectResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}
