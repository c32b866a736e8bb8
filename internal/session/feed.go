// ABOUTME: Realtime feed pump: one subscription per session with reconnect and resync
// ABOUTME: Inserts are deduplicated by message id and read receipts are fire-and-forget

package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/2389/lectern/internal/client"
	"github.com/2389/lectern/internal/realtime"
	"github.com/2389/lectern/internal/store"
)

// Run holds the session's feed subscription until ctx is canceled. A
// failed or dropped subscription is retried with exponential backoff, and
// the first subscribe after a failure or a drop resyncs the conversation
// list and the open conversation, since events may have been missed. Only
// one Run may be active per session.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.Wait()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	delay := s.cfg.ReconnectInitial
	// set while the feed is down; events may have been missed
	stale := false
	for {
		events, err := s.backend.Subscribe(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, client.ErrUnauthorized):
			return err
		case err != nil:
			s.logger.Warn("feed subscribe failed", "error", err, "retry_in", delay)
			stale = true
		default:
			if stale {
				s.logger.Info("feed reconnected")
				s.resync(ctx)
			}
			stale = false
			delay = s.cfg.ReconnectInitial

			s.pump(ctx, events)
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("feed disconnected", "retry_in", delay)
			stale = true
		}

		if !sleepCtx(ctx, jitter(delay)) {
			return nil
		}
		delay = min(delay*2, s.cfg.ReconnectMax)
	}
}

func (s *Session) pump(ctx context.Context, events <-chan *realtime.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, event)
		}
	}
}

// resync covers whatever the feed missed while it was down.
func (s *Session) resync(ctx context.Context) {
	s.refresh(ctx)

	if id := s.OpenConversationID(); id != "" {
		if err := s.loadHistory(ctx, id); err == nil {
			s.markConversationRead(ctx, id)
		}
	}
}

// handleEvent applies one feed event. The open conversation is read at the
// time the event is handled.
func (s *Session) handleEvent(ctx context.Context, event *realtime.ChangeEvent) {
	if event == nil || !event.Involves(s.user.ID) {
		return
	}
	msg := event.Row.Message()

	switch event.Type {
	case realtime.EventInsert:
		s.applyInsert(ctx, msg)
	case realtime.EventUpdate:
		s.applyUpdate(ctx, msg)
	default:
		s.logger.Debug("ignoring feed event", "type", event.Type, "event_id", event.ID)
	}
}

func (s *Session) applyInsert(ctx context.Context, msg *store.Message) {
	s.mu.Lock()
	open := msg.ConversationID == s.openID
	if open && s.messageIndexLocked(msg.ID) < 0 {
		s.insertMessageLocked(msg)
	}
	s.touchEntryLocked(msg)
	receipt := open && msg.ReceiverID == s.user.ID && !msg.Read
	s.mu.Unlock()
	s.notify()

	if receipt {
		s.markMessageRead(ctx, msg.ID)
	}
	s.requestRefresh(ctx)
}

func (s *Session) applyUpdate(ctx context.Context, msg *store.Message) {
	s.mu.Lock()
	s.markReadLocked(msg)
	s.mu.Unlock()
	s.notify()

	if msg.ReceiverID == s.user.ID {
		s.requestRefresh(ctx)
	}
}

func (s *Session) markMessageRead(ctx context.Context, messageID string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		msg, err := s.backend.MarkMessageRead(ctx, messageID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("failed to mark message read", "message_id", messageID, "error", err)
			}
			return
		}

		s.mu.Lock()
		s.markReadLocked(msg)
		s.mu.Unlock()
		s.notify()
	}()
}

// jitter spreads d over [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
