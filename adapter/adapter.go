package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ecociel/fetchq/domain"
)

// Result holds the data of one successful external call. It lives only for
// the duration of the attempt that produced it.
type Result struct {
	Data json.RawMessage
}

// ExternalAPI is the narrow capability the dispatcher executes tasks
// against. Concrete bindings to the financial-data service are supplied by
// the caller, never reimplemented here.
type ExternalAPI interface {
	Perform(ctx context.Context, kind domain.Kind, payload []byte) (Result, error)
}

// Mux routes task kinds to registered adapters.
type Mux struct {
	apis map[domain.Kind]ExternalAPI
}

func NewMux() *Mux {
	return &Mux{apis: make(map[domain.Kind]ExternalAPI)}
}

func (m *Mux) Register(kind domain.Kind, api ExternalAPI) {
	m.apis[kind] = api
}

func (m *Mux) Perform(ctx context.Context, kind domain.Kind, payload []byte) (Result, error) {
	api, ok := m.apis[kind]
	if !ok {
		return Result{}, domain.PermanentError("unknown_kind", fmt.Errorf("no adapter for kind %q", kind))
	}
	return api.Perform(ctx, kind, payload)
}

// Func adapts a plain function to the ExternalAPI interface.
type Func func(ctx context.Context, kind domain.Kind, payload []byte) (Result, error)

func (f Func) Perform(ctx context.Context, kind domain.Kind, payload []byte) (Result, error) {
	return f(ctx, kind, payload)
}
