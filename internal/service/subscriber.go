package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

// Uplink subjects devices and gateways publish to.
const (
	SubjectUplinkPosition = "tourguard.uplink.position"
	SubjectUplinkPanic    = "tourguard.uplink.panic"
)

// PanicMessage is the uplink payload of a panic button press.
type PanicMessage struct {
	TouristID string     `json:"tourist_id"`
	Location  *geo.Point `json:"location,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// PositionSubscriber feeds NATS uplink messages into the engine.
type PositionSubscriber struct {
	engine  *Engine
	nats    *nats.Conn
	timeout time.Duration
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewPositionSubscriber(engine *Engine, nc *nats.Conn, timeout time.Duration) *PositionSubscriber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PositionSubscriber{engine: engine, nats: nc, timeout: timeout, ctx: ctx, cancel: cancel}
}

// Start subscribes to the position and panic subjects.
func (p *PositionSubscriber) Start() error {
	log.Println("[Uplink] Starting...")

	sub, err := p.nats.Subscribe(SubjectUplinkPosition, func(msg *nats.Msg) {
		var s model.PositionSample
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			log.Printf("[Uplink] Failed to unmarshal position: %v", err)
			return
		}
		p.handlePosition(msg, s)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectUplinkPosition, err)
	}
	p.subs = append(p.subs, sub)

	sub, err = p.nats.Subscribe(SubjectUplinkPanic, func(msg *nats.Msg) {
		var m PanicMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			log.Printf("[Uplink] Failed to unmarshal panic: %v", err)
			return
		}
		p.reply(msg, p.handlePanic(m))
	})
	if err != nil {
		p.Stop()
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectUplinkPanic, err)
	}
	p.subs = append(p.subs, sub)

	log.Printf("[Uplink] Subscribed to %s and %s", SubjectUplinkPosition, SubjectUplinkPanic)
	return nil
}

// Stop drops the subscriptions.
func (p *PositionSubscriber) Stop() {
	p.cancel()
	for _, sub := range p.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.Printf("[Uplink] Unsubscribe %s: %v", sub.Subject, err)
		}
	}
	p.subs = nil
	log.Println("[Uplink] Stopped")
}

// handlePosition queues the sample on its shard and replies from there, so
// the subscription keeps reading while shards work in parallel.
func (p *PositionSubscriber) handlePosition(msg *nats.Msg, s model.PositionSample) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	err := p.engine.SubmitPositionAsync(ctx, s, func(res model.IngestResult, err error) {
		if err != nil {
			log.Printf("[Uplink] Position from %s rejected: %v", s.TouristID, err)
			p.reply(msg, map[string]string{"error": err.Error()})
			return
		}
		if !res.Accepted {
			log.Printf("[Uplink] Position %d from %s dropped: %s", s.Sequence, s.TouristID, res.Reason)
		}
		p.reply(msg, res)
	})
	if err != nil {
		log.Printf("[Uplink] Position from %s not queued: %v", s.TouristID, err)
		p.reply(msg, map[string]string{"error": err.Error()})
	}
}

func (p *PositionSubscriber) handlePanic(m PanicMessage) any {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	a, err := p.engine.Panic(ctx, m.TouristID, m.Location, m.Message)
	if err != nil {
		log.Printf("[Uplink] Panic from %s failed: %v", m.TouristID, err)
		return map[string]string{"error": err.Error()}
	}
	return a
}

// reply answers request-style publishes; fire-and-forget ones are ignored.
func (p *PositionSubscriber) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Uplink] Failed to marshal reply: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Printf("[Uplink] Failed to respond: %v", err)
	}
}
