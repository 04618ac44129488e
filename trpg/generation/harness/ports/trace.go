package harnessports

import "context"

// Tracer opens spans around orchestration stages and records point events
// inside them. The returned finish func must be called exactly once.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}
