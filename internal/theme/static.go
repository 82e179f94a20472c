package theme

import "context"

// StaticSource reports a fixed scheme and never signals a change. Used on
// platforms without an appearance bus and on headless systems.
type StaticSource struct {
	Scheme Scheme
}

// NewStaticSource returns a source stuck on the given scheme.
func NewStaticSource(scheme Scheme) StaticSource {
	return StaticSource{Scheme: scheme}
}

func (s StaticSource) Current(ctx context.Context) (Scheme, error) {
	return s.Scheme, nil
}

func (s StaticSource) Watch(ctx context.Context) (<-chan Scheme, error) {
	ch := make(chan Scheme)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
