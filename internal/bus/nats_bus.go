package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tradectl/controlplane/internal/types"
)

// wireMessage is the JSON form of types.Message put on the NATS wire.
// PayloadType names the concrete Go type Payload was marshaled from, so
// Subscribe can decode it back instead of leaving subscribers holding raw
// JSON (see payload_registry.go).
type wireMessage struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceAgent   string          `json:"source_agent"`
	TargetAgent   string          `json:"target_agent,omitempty"`
	Subject       string          `json:"subject"`
	PayloadType   string          `json:"payload_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
}

// NATSBus is the multi-process transport of spec §9: an embedded
// nats-server plus a nats.go client, behind the same Bus interface as
// MemBus so the agent contract never changes with deployment topology.
type NATSBus struct {
	log    zerolog.Logger
	srv    *server.Server
	conn   *nats.Conn
	prefix string

	mu      sync.Mutex
	dropped map[types.Subject]*uint64
}

// NewEmbeddedNATSBus starts an in-process nats-server and connects a client
// to it, grounded on the teacher's nats.go usage in
// internal/orchestrator/messagebus.go.
func NewEmbeddedNATSBus(log zerolog.Logger, subjectPrefix string) (*NATSBus, error) {
	opts := &server.Options{
		Port:      -1, // random free port, in-process only
		NoLog:     true,
		NoSigs:    true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("start embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded nats server not ready")
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats: %w", err)
	}

	return &NATSBus{
		log:     log.With().Str("component", "nats_bus").Logger(),
		srv:     srv,
		conn:    conn,
		prefix:  subjectPrefix,
		dropped: make(map[types.Subject]*uint64),
	}, nil
}

// NewNATSBus connects to an already-running nats-server at url, for
// multi-process deployments where each agent is its own binary sharing one
// broker (e.g. the one cmd/orchestrator starts with -nats, or a standalone
// nats-server).
func NewNATSBus(log zerolog.Logger, subjectPrefix, url string) (*NATSBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATSBus{
		log:     log.With().Str("component", "nats_bus").Logger(),
		conn:    conn,
		prefix:  subjectPrefix,
		dropped: make(map[types.Subject]*uint64),
	}, nil
}

func (b *NATSBus) wireSubject(s types.Subject) string {
	return b.prefix + "." + string(s)
}

func (b *NATSBus) Publish(ctx context.Context, msg types.Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return &types.InvalidMessageError{Subject: msg.Subject, Reason: err.Error()}
	}
	wm := wireMessage{
		ID:            msg.ID.String(),
		Timestamp:     msg.Timestamp,
		SourceAgent:   msg.SourceAgent,
		TargetAgent:   msg.TargetAgent,
		Subject:       string(msg.Subject),
		PayloadType:   typeName(msg.Payload),
		Payload:       payload,
		CorrelationID: msg.CorrelationID.String(),
	}
	data, err := json.Marshal(wm)
	if err != nil {
		return &types.InvalidMessageError{Subject: msg.Subject, Reason: err.Error()}
	}
	if err := b.conn.Publish(b.wireSubject(msg.Subject), data); err != nil {
		return &types.TransientBusError{Op: "publish", Err: err}
	}
	return nil
}

func (b *NATSBus) Subscribe(subject types.Subject) *Subscription {
	out := make(chan types.Message, bufferSize)
	b.mu.Lock()
	if _, ok := b.dropped[subject]; !ok {
		var n uint64
		b.dropped[subject] = &n
	}
	counter := b.dropped[subject]
	b.mu.Unlock()

	sub, err := b.conn.Subscribe(b.wireSubject(subject), func(m *nats.Msg) {
		var wm wireMessage
		if err := json.Unmarshal(m.Data, &wm); err != nil {
			b.log.Warn().Err(err).Str("subject", string(subject)).Msg("dropping malformed wire message")
			return
		}
		payload, err := decodePayload(wm.PayloadType, wm.Payload)
		if err != nil {
			b.log.Warn().Err(err).Str("subject", string(subject)).Str("payload_type", wm.PayloadType).Msg("dropping wire message with undecodable payload")
			return
		}
		id, _ := uuid.Parse(wm.ID)
		correlationID, _ := uuid.Parse(wm.CorrelationID)
		msg := types.Message{
			ID:            id,
			SourceAgent:   wm.SourceAgent,
			TargetAgent:   wm.TargetAgent,
			Subject:       types.Subject(wm.Subject),
			Timestamp:     wm.Timestamp,
			Payload:       payload,
			CorrelationID: correlationID,
		}

		if subject.Critical() {
			out <- msg
			return
		}
		select {
		case out <- msg:
		default:
			select {
			case <-out:
				atomic.AddUint64(counter, 1)
			default:
			}
			select {
			case out <- msg:
			default:
				atomic.AddUint64(counter, 1)
			}
		}
	})
	if err != nil {
		b.log.Error().Err(err).Str("subject", string(subject)).Msg("nats subscribe failed")
		close(out)
		return &Subscription{Subject: subject, C: out, cancel: func() {}}
	}

	cancel := func() {
		_ = sub.Unsubscribe()
		close(out)
	}
	return &Subscription{Subject: subject, C: out, cancel: cancel}
}

func (b *NATSBus) DroppedCount(subject types.Subject) uint64 {
	b.mu.Lock()
	counter := b.dropped[subject]
	b.mu.Unlock()
	if counter == nil {
		return 0
	}
	return atomic.LoadUint64(counter)
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	if b.srv != nil {
		b.srv.Shutdown()
	}
	return nil
}
