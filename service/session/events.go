package session

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"GProject/logger"
)

// Events fans session invalidations out to other gateway nodes over
// NATS. Each node's fallback map is process-local, so a token revoked
// on one node must be dropped from every other node's map too. The
// whole feature is optional; a nil *Events disables it.
type Events struct {
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
	nodeID  string
}

type invalidateEvent struct {
	Node  string `json:"node"`
	Token string `json:"token,omitempty"`
	User  string `json:"user,omitempty"`
}

func NewEvents(nc *nats.Conn, subject, nodeID string) *Events {
	if nc == nil {
		return nil
	}
	return &Events{nc: nc, subject: subject, nodeID: nodeID}
}

func (e *Events) start(m *Manager) {
	sub, err := e.nc.Subscribe(e.subject, func(msg *nats.Msg) {
		var ev invalidateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warnf("[SessionEvents] bad event payload err=%v", err)
			return
		}
		if ev.Node == e.nodeID {
			return // our own publish
		}
		switch {
		case ev.Token != "":
			m.dropLocal(ev.Token)
		case ev.User != "":
			m.dropLocalUser(ev.User)
		}
	})
	if err != nil {
		logger.Warnf("[SessionEvents] subscribe failed subject=%s err=%v", e.subject, err)
		return
	}
	e.sub = sub
}

func (e *Events) publishToken(token string) {
	e.publish(invalidateEvent{Node: e.nodeID, Token: token})
}

func (e *Events) publishUser(userID string) {
	e.publish(invalidateEvent{Node: e.nodeID, User: userID})
}

func (e *Events) publish(ev invalidateEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.nc.Publish(e.subject, raw); err != nil {
		logger.Warnf("[SessionEvents] publish failed subject=%s err=%v", e.subject, err)
	}
}

func (e *Events) Close() {
	if e.sub != nil {
		_ = e.sub.Unsubscribe()
	}
}
