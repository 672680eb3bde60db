package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/session"
	"github.com/tcriess/lightspeed-rooms/types"
)

type recordingConn struct {
	id string
	mu sync.Mutex
	in [][]byte
}

func (c *recordingConn) Id() string { return c.id }

func (c *recordingConn) Enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, data)
	return true
}

func (c *recordingConn) Close() {}

func (c *recordingConn) statusEvents(t *testing.T) []types.UserStatusEventPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]types.UserStatusEventPayload, 0)
	for _, raw := range c.in {
		msg := types.WebsocketMessage{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Event != types.EventUserStatusChanged {
			continue
		}
		p := types.UserStatusEventPayload{}
		require.NoError(t, json.Unmarshal(msg.Data, &p))
		res = append(res, p)
	}
	return res
}

func newTestPublisher(t *testing.T) (*Publisher, *session.Registry, persistence.Persister) {
	cfg := config.Default()
	p, err := persistence.NewBuntPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	registry := session.NewRegistry()
	return NewPublisher(registry, p, cfg.PresenceConfig), registry, p
}

func TestPublishReachesEveryConnection(t *testing.T) {
	pub, registry, persister := newTestPublisher(t)
	ctx := context.Background()
	require.NoError(t, persister.StoreUser(ctx, &types.User{Id: "3"}))

	observer := &recordingConn{id: "c-observer"}
	registry.Register(observer, "7")
	own := &recordingConn{id: "c-own"}
	require.True(t, registry.Register(own, "3"))
	pub.Online("3")
	pub.Wait()

	for _, c := range []*recordingConn{observer, own} {
		events := c.statusEvents(t)
		require.Len(t, events, 1)
		assert.Equal(t, "3", events[0].UserId)
		assert.Equal(t, types.StatusOnline, events[0].Status)
		assert.True(t, events[0].Online)
	}

	user, err := persister.GetUser(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, user.Status)

	_, wentOffline, ok := registry.Unregister("c-own")
	require.True(t, ok)
	require.True(t, wentOffline)
	pub.Offline("3")
	pub.Wait()

	events := observer.statusEvents(t)
	require.Len(t, events, 2)
	assert.Equal(t, types.StatusOffline, events[1].Status)
	user, err = persister.GetUser(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, user.Status)
}

func TestMirrorFailureDoesNotBlockBroadcast(t *testing.T) {
	pub, registry, _ := newTestPublisher(t)
	observer := &recordingConn{id: "c1"}
	registry.Register(observer, "7")

	// user 99 has no persisted record, so the mirror write fails
	pub.Online("99")
	pub.Wait()
	events := observer.statusEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "99", events[0].UserId)
}

func TestStatusIgnoresStaleMirror(t *testing.T) {
	pub, registry, persister := newTestPublisher(t)
	ctx := context.Background()
	require.NoError(t, persister.StoreUser(ctx, &types.User{Id: "3"}))
	require.NoError(t, persister.SetUserStatus(ctx, "3", types.StatusOnline))

	report, err := pub.Status(ctx, "3")
	require.NoError(t, err)
	assert.False(t, report.Online)
	assert.Equal(t, types.StatusOffline, report.Status())
	assert.False(t, report.LastSeen.IsZero())

	registry.Register(&recordingConn{id: "c1"}, "3")
	report, err = pub.Status(ctx, "3")
	require.NoError(t, err)
	assert.True(t, report.Online)

	registry.Unregister("c1")
	report, err = pub.Status(ctx, "3")
	require.NoError(t, err)
	assert.False(t, report.Online)

	_, err = pub.Status(ctx, "nobody")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestStartResetsAndReconciles(t *testing.T) {
	pub, registry, persister := newTestPublisher(t)
	ctx := context.Background()
	require.NoError(t, persister.StoreUser(ctx, &types.User{Id: "3"}))
	require.NoError(t, persister.StoreUser(ctx, &types.User{Id: "7"}))
	require.NoError(t, persister.SetUserStatus(ctx, "3", types.StatusOnline))

	require.NoError(t, pub.Start(ctx, "@every 1h"))
	defer pub.Stop()

	user, err := persister.GetUser(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, user.Status)

	registry.Register(&recordingConn{id: "c1"}, "7")
	pub.Reconcile(ctx)
	pub.Wait()
	user, err = persister.GetUser(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, user.Status)

	assert.Error(t, pub.Start(ctx, "not a cron spec"))
}

// slowOnlinePersister delays writes of the online status.
type slowOnlinePersister struct {
	persistence.Persister
	delay time.Duration
}

func (p *slowOnlinePersister) SetUserStatus(ctx context.Context, userId string, status string) error {
	if status == types.StatusOnline {
		time.Sleep(p.delay)
	}
	return p.Persister.SetUserStatus(ctx, userId, status)
}

func TestMirrorKeepsTransitionOrder(t *testing.T) {
	cfg := config.Default()
	bunt, err := persistence.NewBuntPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunt.Close() })
	persister := &slowOnlinePersister{Persister: bunt, delay: 100 * time.Millisecond}
	registry := session.NewRegistry()
	pub := NewPublisher(registry, persister, cfg.PresenceConfig)
	ctx := context.Background()
	require.NoError(t, persister.StoreUser(ctx, &types.User{Id: "3"}))

	require.True(t, registry.Register(&recordingConn{id: "c1"}, "3"))
	pub.Online("3")
	_, wentOffline, _ := registry.Unregister("c1")
	require.True(t, wentOffline)
	pub.Offline("3")
	pub.Wait()

	user, err := persister.GetUser(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, user.Status)

	pub.Reconcile(ctx)
	pub.Wait()
	user, err = persister.GetUser(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, user.Status)
}

func TestReconcileResetsStaleOnlineUsers(t *testing.T) {
	pub, registry, persister := newTestPublisher(t)
	ctx := context.Background()
	for _, id := range []string{"3", "7"} {
		require.NoError(t, persister.StoreUser(ctx, &types.User{Id: id}))
		require.NoError(t, persister.SetUserStatus(ctx, id, types.StatusOnline))
	}
	// 7 is live, 3 only looks online because its offline write was lost
	registry.Register(&recordingConn{id: "c1"}, "7")

	pub.Reconcile(ctx)
	pub.Wait()

	user, err := persister.GetUser(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, user.Status)
	user, err = persister.GetUser(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, user.Status)
	online, err := persister.OnlineUserIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, online)
}

func TestStatusReportPayload(t *testing.T) {
	seen := time.Unix(1700000000, 0)
	p := StatusReport{UserId: "3", Online: true, LastSeen: seen}.Payload()
	assert.Equal(t, types.UserStatusEventPayload{UserId: "3", Status: "online", Online: true, LastSeen: 1700000000}, p)
	p = StatusReport{UserId: "3"}.Payload()
	assert.Zero(t, p.LastSeen)
}
