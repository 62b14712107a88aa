package telemetry

import (
	"context"
	"fmt"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
	"github.com/yoyooyooo/logix-sub006/internal/store"
)

// StoreSink appends decisions and builds to the SQLite decision log.
type StoreSink struct {
	store  *store.Store
	module string
}

// NewStoreSink creates a sink writing module's evidence to st.
func NewStoreSink(st *store.Store, module string) *StoreSink {
	return &StoreSink{store: st, module: module}
}

// PublishDecision implements Sink.
func (s *StoreSink) PublishDecision(ctx context.Context, d ir.ConvergeDecision) error {
	if err := s.store.WriteDecision(ctx, s.module, d); err != nil {
		return fmt.Errorf("store sink: %w", err)
	}
	return nil
}

// PublishBuild implements Sink.
func (s *StoreSink) PublishBuild(ctx context.Context, static *ir.ConvergeStaticIr) error {
	if _, err := s.store.WriteBuild(ctx, s.module, static); err != nil {
		return fmt.Errorf("store sink: %w", err)
	}
	return nil
}
