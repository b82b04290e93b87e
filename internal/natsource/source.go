// Package natsource feeds the dispatcher from a NATS subject tree. A message
// on <prefix>.<type> is forwarded as an event of that type; the message data
// is the JSON payload.
package natsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/barnacles-webhook/internal/events"
	"github.com/mattjoyce/barnacles-webhook/internal/forward"
)

// Dispatcher is the subset of forward.Dispatcher the source calls.
type Dispatcher interface {
	Dispatch(eventType string, payload any) (*forward.Delivery, error)
}

// Config holds connection and subscription settings.
type Config struct {
	URL           string
	SubjectPrefix string
	QueueGroup    string // optional; shares messages across instances
	Name          string // client name shown by the server
}

// Source subscribes to <SubjectPrefix>.> and dispatches every message.
type Source struct {
	cfg        Config
	dispatcher Dispatcher
	hub        *events.Hub
	logger     *slog.Logger
}

// New creates a Source. hub may be nil.
func New(cfg Config, d Dispatcher, hub *events.Hub, logger *slog.Logger) *Source {
	if cfg.Name == "" {
		cfg.Name = "barnacles-webhook"
	}
	return &Source{cfg: cfg, dispatcher: d, hub: hub, logger: logger}
}

// Subject returns the wildcard subject the source listens on.
func (s *Source) Subject() string {
	return s.cfg.SubjectPrefix + ".>"
}

// Run connects, subscribes and blocks until ctx is cancelled, then drains.
func (s *Source) Run(ctx context.Context) error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.Name(s.cfg.Name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", s.cfg.URL, err)
	}
	defer nc.Close()

	if _, err := s.Subscribe(nc); err != nil {
		return err
	}
	s.logger.Info("nats source subscribed", "subject", s.Subject(), "queue_group", s.cfg.QueueGroup)

	<-ctx.Done()
	if err := nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Subscribe attaches the source to an existing connection.
func (s *Source) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	var (
		sub *nats.Subscription
		err error
	)
	if s.cfg.QueueGroup != "" {
		sub, err = nc.QueueSubscribe(s.Subject(), s.cfg.QueueGroup, s.handle)
	} else {
		sub, err = nc.Subscribe(s.Subject(), s.handle)
	}
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", s.Subject(), err)
	}
	return sub, nil
}

func (s *Source) handle(msg *nats.Msg) {
	eventType, ok := EventType(s.cfg.SubjectPrefix, msg.Subject)
	if !ok {
		s.drop(msg.Subject, "subject outside prefix")
		return
	}
	if !json.Valid(msg.Data) {
		s.logger.Warn("skipping message with invalid JSON", "subject", msg.Subject, "bytes", len(msg.Data))
		s.drop(eventType, "invalid JSON")
		return
	}

	d, err := s.dispatcher.Dispatch(eventType, json.RawMessage(msg.Data))
	if err != nil {
		s.logger.Error("dispatch failed", "event_type", eventType, "error", err)
		return
	}
	if d == nil {
		s.drop(eventType, "no route")
		return
	}
	s.logger.Debug("message dispatched", "subject", msg.Subject, "delivery_id", d.ID)
}

func (s *Source) drop(eventType, reason string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(events.TypeEventDropped, events.DroppedData{EventType: eventType, Source: "nats", Reason: reason})
}

// EventType extracts the event type from subject <prefix>.<type>. Deeper
// subjects keep their remaining tokens, which never match a route.
func EventType(prefix, subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
