package mdns

import (
	"context"
	"time"
)

// collector ignores events; Scan reads Known afterwards.
type collector struct{}

func (collector) Added(Entry)   {}
func (collector) Removed(Entry) {}

// Scan runs a single browse window and returns what answered.
func Scan(ctx context.Context, resolver Resolver, service, domain string, window time.Duration) ([]Entry, error) {
	b, err := NewBrowser(Config{Service: service, Domain: domain, Window: window}, resolver)
	if err != nil {
		return nil, err
	}
	if err := b.Cycle(ctx, collector{}); err != nil {
		return nil, err
	}
	return b.Known(), nil
}
