// Package hooks provides default Hooks implementations.
package hooks

import (
	"context"

	"github.com/arloliu/leasing/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks provides every hook callback.
var (
	_ func(context.Context, types.LeaseState, types.LeaseState) error = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, error) error                              = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}

	return types.Hooks{
		OnStateChanged: h.OnStateChanged,
		OnError:        h.OnError,
	}
}

// Fill returns a copy of h where every nil callback is replaced by its no-op counterpart.
func Fill(h *types.Hooks) types.Hooks {
	nop := NewNop()
	if h == nil {
		return nop
	}

	filled := *h
	if filled.OnStateChanged == nil {
		filled.OnStateChanged = nop.OnStateChanged
	}
	if filled.OnError == nil {
		filled.OnError = nop.OnError
	}

	return filled
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.LeaseState) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
