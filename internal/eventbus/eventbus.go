// Package eventbus is the optional multi-instance coordination layer:
// heartbeats, liveness tracking, leader election by smallest (pid,
// instance_id), and schedule-change fan-out between scheduler instances.
// It is built directly on internal/transport's publish/subscribe
// primitive — each instance runs one Broker (its publish_endpoint) and
// dials a Subscriber to every configured peer, so there is no central
// broker process, consistent with the brokerless transport model.
package eventbus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/transport"
)

const (
	TopicInstanceHeartbeat = "instance.heartbeat"
	TopicInstanceLeft      = "instance.left"
	TopicLeaderElected     = "leader.elected"
)

// Bus is one scheduler instance's view of the event bus.
type Bus struct {
	instanceID      string
	pid             int
	publishEndpoint string

	heartbeatInterval time.Duration
	livenessWindow    time.Duration

	broker *transport.Broker
	subs   []*transport.Subscriber
	logger *slog.Logger

	mu       sync.Mutex
	peers    map[string]*domain.InstanceDescriptor
	leaderID string
	seq      uint64

	changes chan struct{}
}

// New binds the local broker and dials a subscriber to every peer
// publish_endpoint. heartbeatInterval is H_int from spec.md; the liveness
// window is always 3*H_int.
func New(instanceID string, pid int, bindAddr string, peers []string, heartbeatInterval time.Duration, logger *slog.Logger) (*Bus, error) {
	broker, err := transport.NewBroker(bindAddr)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		instanceID:        instanceID,
		pid:               pid,
		publishEndpoint:   broker.Addr(),
		heartbeatInterval: heartbeatInterval,
		livenessWindow:    3 * heartbeatInterval,
		broker:            broker,
		logger:            logger.With("component", "eventbus", "instance_id", instanceID),
		peers:             make(map[string]*domain.InstanceDescriptor),
		changes:           make(chan struct{}, 1),
	}

	now := time.Now()
	b.peers[instanceID] = &domain.InstanceDescriptor{
		InstanceID: instanceID, PID: pid, PublishEndpoint: b.publishEndpoint, FirstSeen: now, LastSeen: now,
	}
	b.recomputeLeader()

	for _, addr := range peers {
		sub, err := transport.Subscribe(addr)
		if err != nil {
			b.logger.Warn("could not subscribe to peer", "addr", addr, "error", err)
			continue
		}
		b.subs = append(b.subs, sub)
	}

	return b, nil
}

func (b *Bus) PublishEndpoint() string { return b.publishEndpoint }

// Publish satisfies the narrow Publisher interface used by the registry,
// execution log, and dispatcher.
func (b *Bus) Publish(topic string, payload any) { b.broker.Publish(topic, payload) }

// Changes delivers a notification whenever a schedule.* event arrives
// from a peer, so the scheduler loop can recompute its sleep target early.
func (b *Bus) Changes() <-chan struct{} { return b.changes }

func (b *Bus) notifyChange() {
	select {
	case b.changes <- struct{}{}:
	default:
	}
}

// IsLeader reports whether this instance currently holds leadership.
func (b *Bus) IsLeader() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leaderID == b.instanceID
}

// Run starts the heartbeat loop, the per-peer event ingestion loops, and
// the liveness sweep, until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	go b.broker.Serve()
	go b.heartbeatLoop(ctx)
	for _, sub := range b.subs {
		go b.ingest(ctx, sub)
	}
	go b.sweepLoop(ctx)

	<-ctx.Done()
	b.Publish(TopicInstanceLeft, map[string]any{"instance_id": b.instanceID})
	b.broker.Close()
	for _, sub := range b.subs {
		sub.Close()
	}
}

func (b *Bus) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			b.seq++
			seq := b.seq
			b.mu.Unlock()
			b.Publish(TopicInstanceHeartbeat, map[string]any{
				"instance_id": b.instanceID, "pid": b.pid,
				"publish_endpoint": b.publishEndpoint, "monotonic_seq": seq,
			})
		}
	}
}

func (b *Bus) ingest(ctx context.Context, sub *transport.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b.handleEvent(ev)
		}
	}
}

func (b *Bus) handleEvent(ev transport.Event) {
	switch {
	case ev.Topic == TopicInstanceHeartbeat:
		b.recordHeartbeat(ev.Payload)
	case ev.Topic == TopicInstanceLeft:
		b.handleLeft(ev.Payload)
	case len(ev.Topic) >= 9 && ev.Topic[:9] == "schedule.":
		b.notifyChange()
	}
}

func (b *Bus) recordHeartbeat(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	id, _ := m["instance_id"].(string)
	if id == "" {
		return
	}
	pid, _ := m["pid"].(float64)
	endpoint, _ := m["publish_endpoint"].(string)
	seq, _ := m["monotonic_seq"].(float64)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	desc, exists := b.peers[id]
	if !exists {
		desc = &domain.InstanceDescriptor{InstanceID: id, FirstSeen: now}
		b.peers[id] = desc
	}
	desc.PID = int(pid)
	desc.PublishEndpoint = endpoint
	desc.MonotonicSeq = uint64(seq)
	desc.LastSeen = now

	b.recomputeLeaderLocked()
}

func (b *Bus) handleLeft(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	id, _ := m["instance_id"].(string)
	if id == "" || id == b.instanceID {
		return
	}

	b.mu.Lock()
	delete(b.peers, id)
	b.recomputeLeaderLocked()
	b.mu.Unlock()
}

func (b *Bus) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for id, desc := range b.peers {
				if id == b.instanceID {
					continue
				}
				if now.Sub(desc.LastSeen) > b.livenessWindow {
					delete(b.peers, id)
				}
			}
			b.recomputeLeaderLocked()
			b.mu.Unlock()
		}
	}
}

func (b *Bus) recomputeLeader() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recomputeLeaderLocked()
}

// recomputeLeaderLocked picks the live instance with the smallest
// (pid, instance_id) pair, ties broken lexicographically by instance_id,
// and republishes leader.elected on a change. Must be called with b.mu held.
func (b *Bus) recomputeLeaderLocked() {
	type candidate struct {
		pid int
		id  string
	}
	cands := make([]candidate, 0, len(b.peers))
	for id, desc := range b.peers {
		cands = append(cands, candidate{pid: desc.PID, id: id})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].pid != cands[j].pid {
			return cands[i].pid < cands[j].pid
		}
		return cands[i].id < cands[j].id
	})
	if len(cands) == 0 {
		return
	}

	newLeader := cands[0].id
	if newLeader != b.leaderID {
		b.leaderID = newLeader
		b.logger.Info("leader elected", "leader_id", newLeader)
		go b.Publish(TopicLeaderElected, map[string]any{"leader_id": newLeader})
	}
}

// Peers returns a snapshot of currently-live instance descriptors.
func (b *Bus) Peers() []*domain.InstanceDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*domain.InstanceDescriptor, 0, len(b.peers))
	for _, desc := range b.peers {
		cp := *desc
		out = append(out, &cp)
	}
	return out
}
