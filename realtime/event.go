// Package realtime pushes entity changes to connected clients. Delivery is
// best effort and at most once: clients refetch over REST on reconnect.
package realtime

import (
	"context"
	"strings"

	"github.com/penguhub/marketplace/core/ref"
)

const (
	EventOrderCreated        = "order_created"
	EventOrderUpdated        = "order_updated"
	EventExpertUpdated       = "expert_updated"
	EventTransactionCreated  = "transaction_created"
	EventWithdrawalCreated   = "withdrawal_created"
	EventWithdrawalUpdated   = "withdrawal_updated"
	EventNotificationCreated = "notification_created"
	EventNewMessage          = "new_message"
	EventThreadDenied        = "thread_denied"
)

// RoomBroadcast is joined by admin connections.
const RoomBroadcast = "broadcast"

const threadPrefix = "thread:"

// Event is a named payload addressed to a set of rooms.
type Event struct {
	Name  string
	Rooms []string
	Data  any
}

// Emitter publishes events. Implementations never fail the caller; delivery
// problems are logged.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// UserRoom is the private room of a user. Users are addressed by their id.
func UserRoom(userID string) string { return userID }

func ThreadRoom(threadID string) string { return threadPrefix + threadID }

func IsThreadRoom(room string) bool {
	return strings.HasPrefix(room, threadPrefix) && len(room) > len(threadPrefix)
}

// Parties returns the private rooms of the referenced users. Each value may
// be a bare id or an expanded user, see ref.ID. Empty references are skipped.
func Parties(users ...any) []string {
	rooms := make([]string, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		id := ref.ID(u)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		rooms = append(rooms, UserRoom(id))
	}
	return rooms
}

// Broadcast addresses the broadcast room plus the private rooms of users.
func Broadcast(users ...any) []string {
	return append([]string{RoomBroadcast}, Parties(users...)...)
}
