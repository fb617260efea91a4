// Package rooms subscribes sessions to server-side broadcast rooms.
package rooms

import (
	"context"
	"log"
	"time"

	"callprobe/internal/session"
	"callprobe/pkg/types"
)

// Subscriber sends join requests and waits out the settling interval.
// FUNCTIONAL DISCOVERY: The service never acknowledges a join, so the only
// way to be reasonably sure later room-scoped events will arrive is to pause
// after sending. The pause length is configuration, never a magic sleep.
type Subscriber struct {
	settle time.Duration
}

func NewSubscriber(settle time.Duration) *Subscriber {
	if settle < 0 {
		settle = 0
	}
	return &Subscriber{settle: settle}
}

// SettlingInterval returns the configured post-join pause
func (s *Subscriber) SettlingInterval() time.Duration {
	return s.settle
}

// JoinRoom subscribes sess to room. It returns true when the request was
// sent now or earlier; repeated joins of the same room are no-ops and do not
// wait again. Send failures are logged as room join failures and reported
// as false.
func (s *Subscriber) JoinRoom(ctx context.Context, sess *session.Session, room types.Room) bool {
	sent, ok := s.send(sess, room)
	if !ok {
		return false
	}
	if sent {
		s.wait(ctx)
	}
	return true
}

// JoinStaff subscribes to the staff notification room
func (s *Subscriber) JoinStaff(ctx context.Context, sess *session.Session, staffID string) bool {
	return s.JoinRoom(ctx, sess, types.StaffRoom(staffID))
}

// JoinCall subscribes to a call's signaling room
func (s *Subscriber) JoinCall(ctx context.Context, sess *session.Session, callID string) bool {
	return s.JoinRoom(ctx, sess, types.CallRoom(callID))
}

// JoinAll sends the join for room on every session, then settles once.
// It returns true only if every send succeeded.
func (s *Subscriber) JoinAll(ctx context.Context, room types.Room, sessions ...*session.Session) bool {
	allOK := true
	anySent := false
	for _, sess := range sessions {
		sent, ok := s.send(sess, room)
		allOK = allOK && ok
		anySent = anySent || sent
	}
	if anySent {
		s.wait(ctx)
	}
	return allOK
}

func (s *Subscriber) send(sess *session.Session, room types.Room) (sent, ok bool) {
	if sess == nil {
		log.Printf("[Rooms] RoomJoinFailure %s: nil session", room)
		return false, false
	}
	sent, err := sess.Join(room)
	if err != nil {
		log.Printf("[Rooms] RoomJoinFailure %s on %s: %v", room, sess.Label(), err)
		return false, false
	}
	return sent, true
}

// wait pauses for the settling interval outside any correlator lock
func (s *Subscriber) wait(ctx context.Context) {
	if s.settle == 0 {
		return
	}
	t := time.NewTimer(s.settle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
