package fixtures

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"callprobe/internal/orchestrator"
	"callprobe/internal/testserver"
	"callprobe/pkg/types"
)

// RequireOutcomes fails the test when the action errored or any
// expectation went unmatched, naming the ones that did.
func RequireOutcomes(t *testing.T, outcomes orchestrator.Outcomes, err error) {
	t.Helper()
	require.NoError(t, err, "action failed")
	require.NoError(t, outcomes.Err(), "expected events did not arrive")
}

// MatchedEvent returns the event matched for expectation i
func MatchedEvent(t *testing.T, outcomes orchestrator.Outcomes, i int) types.Event {
	t.Helper()
	require.Greater(t, len(outcomes), i, "no outcome %d", i)
	require.True(t, outcomes[i].Matched, "%s was not matched", outcomes[i].Expectation)
	return outcomes[i].Event
}

// WaitForRoomSize polls the fake service until room holds n sockets
func WaitForRoomSize(t *testing.T, srv *testserver.Server, room types.Room, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.RoomSize(room) == n },
		2*time.Second, 10*time.Millisecond, "room %s never reached %d members", room, n)
}

// WaitForConnections polls the fake service until n sockets are connected
func WaitForConnections(t *testing.T, srv *testserver.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.ConnectionCount() == n },
		2*time.Second, 10*time.Millisecond, "connection count never reached %d", n)
}

// RequireNoEvent asserts the actor recorded nothing named name
func RequireNoEvent(t *testing.T, actor *orchestrator.Actor, name string) {
	t.Helper()
	require.Zero(t, actor.Recorder().Count(name), "%s unexpectedly received %s", actor.Name, name)
}
