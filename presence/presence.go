// Package presence turns the session registry's online/offline transitions into server-wide status events
// and mirrors the status into persistence.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/session"
	"github.com/tcriess/lightspeed-rooms/types"
)

// StatusReport answers a check_user_status query.
type StatusReport struct {
	UserId   string
	Online   bool
	LastSeen time.Time
}

func (s StatusReport) Status() string {
	if s.Online {
		return types.StatusOnline
	}
	return types.StatusOffline
}

func (s StatusReport) Payload() types.UserStatusEventPayload {
	p := types.UserStatusEventPayload{UserId: s.UserId, Status: s.Status(), Online: s.Online}
	if !s.LastSeen.IsZero() {
		p.LastSeen = s.LastSeen.Unix()
	}
	return p
}

type Publisher struct {
	registry      *session.Registry
	persister     persistence.Persister
	mirrorTimeout time.Duration
	logger        hclog.Logger

	cron    *cron.Cron
	mirrors sync.WaitGroup

	// pending holds the latest status not yet written per user. A user has at most one writer goroutine,
	// so the persisted status always ends with the last transition.
	mu      sync.Mutex
	pending map[string]string
}

func NewPublisher(registry *session.Registry, persister persistence.Persister, cfg config.PresenceConfig) *Publisher {
	return &Publisher{
		registry:      registry,
		persister:     persister,
		mirrorTimeout: cfg.MirrorTimeout,
		logger:        globals.AppLogger.Named("presence"),
		pending:       make(map[string]string),
	}
}

// Online announces that userId came online. Call it only when the registry reported the transition.
func (p *Publisher) Online(userId string) {
	p.publish(userId, true)
}

// Offline announces that userId went offline. Call it only when the registry reported the transition.
func (p *Publisher) Offline(userId string) {
	p.publish(userId, false)
}

func (p *Publisher) publish(userId string, online bool) {
	report := StatusReport{UserId: userId, Online: online, LastSeen: time.Now()}
	data, err := types.EncodeEvent(types.EventUserStatusChanged, report.Payload())
	if err != nil {
		p.logger.Error("could not encode status event", "error", err)
		return
	}
	sent := 0
	for _, c := range p.registry.All() {
		if c.Enqueue(data) {
			sent++
		}
	}
	p.logger.Debug("status changed", "user", userId, "status", report.Status(), "recipients", sent)
	p.mirror(userId, report.Status())
}

// mirror writes the status in the background, the live notification never waits for it. Writes for the
// same user are serialized; a status superseded before its write started is skipped.
func (p *Publisher) mirror(userId, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirrorLocked(userId, status)
}

func (p *Publisher) mirrorLocked(userId, status string) {
	_, running := p.pending[userId]
	p.pending[userId] = status
	if running {
		return
	}
	p.mirrors.Add(1)
	go p.drain(userId)
}

func (p *Publisher) drain(userId string) {
	defer p.mirrors.Done()
	written := ""
	for {
		p.mu.Lock()
		status := p.pending[userId]
		if status == written {
			delete(p.pending, userId)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.mirrorTimeout)
		err := p.persister.SetUserStatus(ctx, userId, status)
		cancel()
		if err != nil {
			p.logger.Warn("could not mirror user status", "user", userId, "status", status, "error", err)
		}
		written = status
	}
}

// Wait blocks until all pending status mirror writes are done.
func (p *Publisher) Wait() {
	p.mirrors.Wait()
}

// Status reports whether userId is online. The registry is authoritative; the persisted record is only
// consulted for users this process has not seen, to tell unknown users apart and to fill in last_seen.
func (p *Publisher) Status(ctx context.Context, userId string) (StatusReport, error) {
	report := StatusReport{UserId: userId, Online: p.registry.IsOnline(userId)}
	if t, seen := p.registry.LastTransition(userId); seen {
		report.LastSeen = t
		return report, nil
	}
	user, err := p.persister.GetUser(ctx, userId)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return report, types.NewError(types.KindNotFound, "user %s not found", userId)
		}
		return report, types.WrapError(err, "could not look up user %s", userId)
	}
	report.LastSeen = user.LastSeen
	return report, nil
}

// Reconcile brings the persisted statuses in line with the registry, repairing mirror writes that failed:
// live users are written online, users persisted as online without a live connection are written offline.
// The writes are queued like mirror writes, Wait blocks until they are done.
func (p *Publisher) Reconcile(ctx context.Context) {
	for _, userId := range p.registry.OnlineUsers() {
		p.reconcile(userId, types.StatusOnline)
	}
	persisted, err := p.persister.OnlineUserIds(ctx)
	if err != nil {
		p.logger.Warn("could not list persisted online users", "error", err)
		return
	}
	for _, userId := range persisted {
		p.reconcile(userId, types.StatusOffline)
	}
}

// reconcile queues status for userId unless a mirror write is pending or the registry disagrees. A
// transition racing with it publishes afterwards under the same lock and so has the last word.
func (p *Publisher) reconcile(userId, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, pending := p.pending[userId]; pending {
		return
	}
	if p.registry.IsOnline(userId) != (status == types.StatusOnline) {
		return
	}
	p.mirrorLocked(userId, status)
}

// Start resets the persisted statuses (nothing is live yet) and schedules Reconcile according to spec.
// An empty spec disables the reconciliation.
func (p *Publisher) Start(ctx context.Context, spec string) error {
	if err := p.persister.ResetUserStatuses(ctx); err != nil {
		p.logger.Warn("could not reset persisted user statuses", "error", err)
	}
	if spec == "" {
		return nil
	}
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.mirrorTimeout)
		defer cancel()
		p.Reconcile(ctx)
	})
	if err != nil {
		return err
	}
	p.cron = c
	p.cron.Start()
	return nil
}

// Stop stops the reconciliation and waits for running mirror writes.
func (p *Publisher) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	p.Wait()
}
