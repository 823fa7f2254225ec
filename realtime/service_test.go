package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await(t *testing.T, c *Conn) frame {
	t.Helper()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	case b := <-c.Send():
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	}
	return frame{}
}

func TestServiceLocal(t *testing.T) {
	svc := NewService(quietLog(), NewHub(quietLog()), nil, "")
	c := svc.Hub().Connect(as("u1", claims.RoleStudent))

	svc.Emit(context.Background(), Event{Name: EventOrderCreated, Rooms: Broadcast("u1"), Data: map[string]int{"amount": 200}})
	f := recv(t, c)
	assert.Equal(t, EventOrderCreated, f.Event)
	assert.JSONEq(t, `{"amount":200}`, string(f.Data))

	// events without rooms go nowhere
	svc.Emit(context.Background(), Event{Name: EventOrderCreated})
	empty(t, c)
}

func TestServiceBridgesInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	newInstance := func() *Service {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return NewService(quietLog(), NewHub(quietLog()), rdb, "pengu:test")
	}
	a, b := newInstance(), newInstance()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)
	<-a.Ready()
	<-b.Ready()

	onB := b.Hub().Connect(as("e1", claims.RoleExpert))
	a.Emit(ctx, Event{Name: EventExpertUpdated, Rooms: Parties("e1"), Data: "x"})
	f := await(t, onB)
	assert.Equal(t, EventExpertUpdated, f.Event)
	assert.JSONEq(t, `"x"`, string(f.Data))

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestServiceFallsBackToLocalDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	svc := NewService(quietLog(), NewHub(quietLog()), rdb, "pengu:test")
	c := svc.Hub().Connect(as("u1", claims.RoleStudent))

	mr.Close()

	for i := 0; i < 5; i++ {
		svc.Emit(context.Background(), Event{Name: EventWithdrawalUpdated, Rooms: Parties("u1")})
		f := recv(t, c)
		assert.Equal(t, EventWithdrawalUpdated, f.Event)
	}
}
