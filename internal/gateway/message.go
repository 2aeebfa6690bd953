package gateway

import (
	"context"
	"sync"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
)

type QueueOptions struct {
	LaneBuffer    int
	MaxConcurrent int
}

// inboundQueue serializes inbound messages per chat while letting different
// chats proceed in parallel, up to MaxConcurrent at a time.
type inboundQueue struct {
	lanes         map[string]chan *channel.Inbound
	mu            sync.RWMutex
	handler       func(context.Context, *channel.Inbound) error
	ctx           context.Context
	laneBuffer    int
	maxConcurrent chan struct{}
}

func newInboundQueue(opts QueueOptions) *inboundQueue {
	laneBuffer := opts.LaneBuffer
	if laneBuffer <= 0 {
		laneBuffer = 10
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	return &inboundQueue{
		lanes:         make(map[string]chan *channel.Inbound),
		laneBuffer:    laneBuffer,
		maxConcurrent: make(chan struct{}, maxConcurrent),
	}
}

func (q *inboundQueue) Init(ctx context.Context, handler func(context.Context, *channel.Inbound) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx = ctx
	q.handler = handler
}

func (q *inboundQueue) Enqueue(ctx context.Context, msg *channel.Inbound) error {
	lane := q.getOrCreateLane(laneKey(msg))
	select {
	case lane <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func laneKey(msg *channel.Inbound) string {
	return msg.ChannelID + ":" + msg.ChatID
}

func (q *inboundQueue) getOrCreateLane(key string) chan *channel.Inbound {
	q.mu.RLock()
	lane, exists := q.lanes[key]
	q.mu.RUnlock()
	if exists {
		return lane
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if lane, exists := q.lanes[key]; exists {
		return lane
	}

	lane = make(chan *channel.Inbound, q.laneBuffer)
	q.lanes[key] = lane
	go q.processLane(key, lane)
	return lane
}

func (q *inboundQueue) processLane(key string, lane chan *channel.Inbound) {
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-lane:
			if err := q.acquire(q.ctx); err != nil {
				return
			}
			ctx := logs.WithNewLogID(q.ctx)
			err := q.handler(ctx, msg)
			q.release()
			if err != nil {
				logs.CtxWarn(ctx, "[gateway] inbound message in lane %s failed: %v", key, err)
			}
		}
	}
}

func (q *inboundQueue) acquire(ctx context.Context) error {
	select {
	case q.maxConcurrent <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *inboundQueue) release() {
	select {
	case <-q.maxConcurrent:
	default:
	}
}
