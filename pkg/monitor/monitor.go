// Package monitor serves a live websocket feed of the voice activity and
// the turn events of a session, for UIs visualizing the listening state.
// It never carries audio.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gorilla/websocket"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/turntaking/pkg/event"
	"github.com/xaionaro-go/turntaking/pkg/interruption"
	"github.com/xaionaro-go/turntaking/pkg/xchan"
)

const (
	DefaultSubscriberQueueSize = 256

	writeTimeout = 5 * time.Second
)

type MessageType string

const (
	MessageTypeVADState = MessageType("vad_state")
	MessageTypeEvent    = MessageType("event")
)

type Message struct {
	Type       MessageType `json:"type"`
	FrameIndex uint64      `json:"frame_index"`
	At         time.Time   `json:"at,omitempty"`

	Activity   string  `json:"activity,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Degraded   bool    `json:"degraded,omitempty"`

	Event      event.Kind `json:"event,omitempty"`
	TurnID     string     `json:"turn_id,omitempty"`
	Samples    int        `json:"samples,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	Discarded  bool       `json:"discarded,omitempty"`
}

func VADStateMessage(state interruption.State) Message {
	return Message{
		Type:       MessageTypeVADState,
		FrameIndex: state.FrameIndex,
		At:         state.At,
		Activity:   state.Verdict.Activity.String(),
		Confidence: state.Verdict.Confidence,
		Degraded:   state.Verdict.Degraded,
	}
}

func EventMessage(ev event.Event) Message {
	msg := Message{
		Type:  MessageTypeEvent,
		Event: ev.Kind(),
	}
	switch ev := ev.(type) {
	case *event.SpeechStarted:
		msg.FrameIndex = ev.FrameIndex
		msg.At = ev.At
		msg.TurnID = ev.TurnID.String()
	case *event.SpeechContinuing:
		msg.FrameIndex = ev.FrameIndex
		msg.TurnID = ev.TurnID.String()
		msg.DurationMS = ev.SpeechDuration.Milliseconds()
	case *event.SpeechEnded:
		msg.FrameIndex = ev.FrameIndex
		msg.TurnID = ev.TurnID.String()
		msg.Discarded = ev.Discarded
	case *event.TurnCommitted:
		msg.FrameIndex = ev.Turn.EndIndex
		msg.At = ev.Turn.EndedAt
		msg.TurnID = ev.Turn.ID.String()
		msg.Samples = len(ev.Turn.Samples)
		msg.DurationMS = ev.Turn.Duration.Milliseconds()
	case *event.Interruption:
		msg.FrameIndex = ev.FrameIndex
		msg.At = ev.At
	}
	return msg
}

// Hub fans the messages out to the connected websocket clients.
// A client that does not keep up loses the oldest messages.
type Hub struct {
	QueueSize int
	Upgrader  websocket.Upgrader

	locker      sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Message
}

var _ http.Handler = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		QueueSize:   DefaultSubscriberQueueSize,
		subscribers: map[*subscriber]struct{}{},
	}
}

func (h *Hub) Publish(msg Message) {
	h.locker.Lock()
	defer h.locker.Unlock()
	for sub := range h.subscribers {
		xchan.SendDropOldest(sub.ch, msg)
	}
}

func (h *Hub) PublishVADState(state interruption.State) {
	h.Publish(VADStateMessage(state))
}

func (h *Hub) PublishEvent(ev event.Event) {
	h.Publish(EventMessage(ev))
}

// PublishVADStates publishes the states until the channel is closed or ctx is done.
func (h *Hub) PublishVADStates(ctx context.Context, states <-chan interruption.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			h.PublishVADState(state)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.locker.Lock()
	defer h.locker.Unlock()
	return len(h.subscribers)
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan Message, max(h.QueueSize, 1))}
	h.locker.Lock()
	defer h.locker.Unlock()
	h.subscribers[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.locker.Lock()
	defer h.locker.Unlock()
	delete(h.subscribers, sub)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf(ctx, "unable to upgrade the connection from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()
	logger.Debugf(ctx, "monitor client %s connected", r.RemoteAddr)
	defer logger.Debugf(ctx, "monitor client %s disconnected", r.RemoteAddr)

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	// the client sends nothing; reading detects the disconnect
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	observability.Go(ctx, func(ctx context.Context) {
		defer cancelFn()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.ch:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				logger.Debugf(ctx, "unable to set the write deadline: %v", err)
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debugf(ctx, "unable to write to %s: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}
