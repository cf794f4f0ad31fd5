package app

import (
	"context"
	"math/rand"
	"time"

	"wabcast/internal/conn"
	"wabcast/internal/eventbus"
	"wabcast/internal/model"
	"wabcast/internal/transport"
	logx "wabcast/pkg/logx"
)

// startPump launches one bot's session loop unless one is already running
// or the app is not started.
func (a *App) startPump(c *conn.Conn, creds transport.Credentials) {
	a.mu.Lock()
	if a.g == nil || a.pumping[c.ID()] {
		a.mu.Unlock()
		return
	}
	a.pumping[c.ID()] = true
	g := a.g
	ctx := a.runCtx
	a.mu.Unlock()

	g.Go(func() error {
		defer func() {
			a.mu.Lock()
			delete(a.pumping, c.ID())
			a.mu.Unlock()
		}()
		a.runPump(ctx, c, creds)
		return nil
	})
}

// runPump owns one bot's session lifecycle: connect, translate the event
// stream into state transitions, and reconnect with capped backoff after
// involuntary drops. It ends on context cancel, user deactivation, or
// logout.
func (a *App) runPump(ctx context.Context, c *conn.Conn, creds transport.Credentials) {
	log := a.log.With(logx.String("bot", c.ID()))
	backoff := a.backoffBase

	for first := true; ; first = false {
		if ctx.Err() != nil {
			return
		}
		// Activate restarts the pump explicitly, so the manual-disconnect
		// flag only blocks reconnects, never the initial attempt.
		if !first && c.ManualDisconnect() {
			return
		}

		sess, err := a.client.Connect(ctx, creds)
		if err != nil {
			log.Warn("connect failed", logx.Duration("retry_in", backoff), logx.Err(err))
			if !sleepCtx(ctx, withJitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, a.backoffMax)
			continue
		}
		backoff = a.backoffBase
		c.SetSession(sess)

		reason := a.drainSession(ctx, c, sess, &creds)
		c.SetSession(nil)

		if c.ManualDisconnect() {
			// Deactivate already forced Offline and closed the session.
			return
		}

		if reason == transport.CloseLoggedOut {
			// Terminal until the user re-authenticates. Stored credentials
			// are dead; never silently reused.
			if err := a.store.ClearCredentials(ctx, c.ID()); err != nil {
				log.Warn("credential purge failed", logx.Err(err))
			}
			creds.Payload = nil
			if err := c.Transition(conn.StateLoggedOut); err != nil {
				log.Warn("logout transition rejected", logx.Err(err))
			}
			log.Info("session logged out; re-authentication required")
			return
		}

		if err := c.Transition(conn.StateDisconnected); err != nil {
			log.Warn("disconnect transition rejected", logx.Err(err))
		}
		log.Warn("session dropped; reconnecting", logx.Duration("retry_in", backoff))
		if !sleepCtx(ctx, withJitter(backoff)) {
			return
		}
		backoff = nextBackoff(backoff, a.backoffMax)
	}
}

// drainSession consumes the event stream until the session ends and returns
// the close reason. A bare channel close counts as a drop.
func (a *App) drainSession(ctx context.Context, c *conn.Conn, sess transport.Session, creds *transport.Credentials) transport.CloseReason {
	log := a.log.With(logx.String("bot", c.ID()))
	for {
		select {
		case <-ctx.Done():
			_ = sess.Close()
			return transport.CloseDropped
		case ev, ok := <-sess.Events():
			if !ok {
				return transport.CloseDropped
			}
			switch ev.Kind {
			case transport.EventSessionOpened:
				if err := c.Transition(conn.StateOnline); err != nil {
					log.Warn("online transition rejected", logx.Err(err))
					continue
				}
				a.refreshGroups(ctx, c, sess)

			case transport.EventSessionClosed:
				return ev.Reason

			case transport.EventInboundMessage:
				a.handleInbound(ctx, c, ev.Inbound)

			case transport.EventCredentialsRotated:
				*creds = ev.Credentials
				if err := a.store.SetCredentials(ctx, c.ID(), ev.Credentials.Payload); err != nil {
					log.Warn("credential save failed", logx.Err(err))
				}

			case transport.EventQRChallenge:
				a.bus.Publish(eventbus.Event{
					Type:  eventbus.TypeQRChallenge,
					BotID: c.ID(),
					Data:  ev.QR,
				})
			}
		}
	}
}

// refreshGroups fetches and reconciles group metadata, throttled by the
// per-bot min-interval limiter.
func (a *App) refreshGroups(ctx context.Context, c *conn.Conn, sess transport.Session) {
	if !c.AllowRefresh() {
		return
	}
	log := a.log.With(logx.String("bot", c.ID()))
	snap, err := sess.FetchAllGroupMetadata(ctx)
	if err != nil {
		log.Warn("group metadata fetch failed", logx.Err(err))
		return
	}
	if err := a.recon.Reconcile(ctx, c.ID(), snap); err != nil {
		log.Warn("group reconcile failed", logx.Err(err))
	}
	c.InstallSnapshot(snap)
	if err := a.reloadTargets(ctx, c.ID()); err != nil {
		log.Warn("target reload failed", logx.Err(err))
	}
}

// handleInbound turns an inbound message into a manual broadcast trigger
// for this bot, subject to its source filter.
func (a *App) handleInbound(ctx context.Context, c *conn.Conn, in *transport.Inbound) {
	if in == nil || in.Text == "" {
		return
	}
	if !c.Settings().AllowsInbound(in.FromGroup) {
		return
	}
	msg := model.Message{
		Text:      in.Text,
		Origin:    model.OriginManual,
		CreatedAt: time.Now(),
	}
	id, err := a.store.CreateMessage(ctx, msg, []string{c.ID()})
	if err != nil {
		a.log.Warn("trigger message persist failed",
			logx.String("bot", c.ID()), logx.Err(err))
		return
	}
	msg.ID = id
	a.disp.Enqueue(c.ID(), msg)
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

func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		cur = max
	}
	return cur
}
