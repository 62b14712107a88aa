package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// DefaultSubjectPrefix is the subject root used when none is configured.
const DefaultSubjectPrefix = "logix.converge"

// Conn is the part of *nats.Conn the sink needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes decisions and builds as JSON messages.
//
// Subjects are <prefix>.<module>.decision and <prefix>.<module>.build, so a
// subscriber can follow one module or, with a wildcard, all of them.
type NATSSink struct {
	conn   Conn
	prefix string
	module string
}

// NewNATSSink creates a sink publishing on conn. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSSink(conn Conn, prefix, module string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix, module: module}
}

// ConnectNATS dials url with the reconnect policy used by the CLI.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// DecisionSubject returns the subject decisions are published on.
func (s *NATSSink) DecisionSubject() string {
	return s.prefix + "." + s.module + ".decision"
}

// BuildSubject returns the subject builds are published on.
func (s *NATSSink) BuildSubject() string {
	return s.prefix + "." + s.module + ".build"
}

// PublishDecision implements Sink.
// NATS Publish does not take a context, so it is checked before publishing.
func (s *NATSSink) PublishDecision(ctx context.Context, d ir.ConvergeDecision) error {
	return s.publish(ctx, s.DecisionSubject(), DecisionEvent{Module: s.module, Decision: d})
}

// PublishBuild implements Sink.
func (s *NATSSink) PublishBuild(ctx context.Context, static *ir.ConvergeStaticIr) error {
	return s.publish(ctx, s.BuildSubject(), NewBuildEvent(s.module, static))
}

func (s *NATSSink) publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
