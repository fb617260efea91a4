package scenarios

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callprobe/internal/correlator"
	"callprobe/internal/orchestrator"
	"callprobe/internal/restapi"
	"callprobe/pkg/types"
	"callprobe/tests/fixtures"
)

// TestStaffAcceptsCall covers accept: the client hears call.accepted naming
// the staff member and a call:update carrying the accepted state.
func TestStaffAcceptsCall(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))

	res, outcomes, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "Fee payment issue")
	fixtures.RequireOutcomes(t, outcomes, err)

	outcomes, err = runner.Orchestrator.AcceptCall(ctx, staff, client, res.CallID)
	fixtures.RequireOutcomes(t, outcomes, err)

	accepted, err := types.DecodeCallAccepted(fixtures.MatchedEvent(t, outcomes, 0))
	require.NoError(t, err)
	assert.Equal(t, res.CallID, accepted.CallID)
	assert.Equal(t, staff.StaffID, accepted.Staff.ID)

	update, err := types.DecodeCallUpdate(fixtures.MatchedEvent(t, outcomes, 1))
	require.NoError(t, err)
	assert.Equal(t, types.CallStateAccepted, update.State)

	assert.True(t, client.Recorder().InOrder(types.EventCallAccepted, types.EventCallUpdate),
		"client saw %v", client.Recorder().Names())
}

// TestStaffDeclinesCallWithReason checks the decline reason travels to the
// client unchanged.
func TestStaffDeclinesCallWithReason(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))

	res, outcomes, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "")
	fixtures.RequireOutcomes(t, outcomes, err)

	outcomes, err = runner.Orchestrator.DeclineCall(ctx, staff, client, res.CallID, "Currently in a meeting")
	fixtures.RequireOutcomes(t, outcomes, err)

	declined, err := types.DecodeCallDeclined(fixtures.MatchedEvent(t, outcomes, 0))
	require.NoError(t, err)
	assert.Equal(t, res.CallID, declined.CallID)
	assert.Equal(t, "Currently in a meeting", declined.Reason)
	fixtures.RequireNoEvent(t, client, types.EventCallAccepted)
}

// TestRepeatedDeclineIsQuiet declines twice; the second request succeeds
// and no second call.declined reaches the client.
func TestRepeatedDeclineIsQuiet(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	runner.RequireFakeService()
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))

	res, outcomes, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "")
	fixtures.RequireOutcomes(t, outcomes, err)
	outcomes, err = runner.Orchestrator.DeclineCall(ctx, staff, client, res.CallID, "Busy")
	fixtures.RequireOutcomes(t, outcomes, err)

	outcomes, err = runner.Orchestrator.Do(ctx, func(ctx context.Context) error {
		_, err := runner.API.DeclineCall(ctx, staff.Token, res.CallID, "Busy")
		return err
	}, orchestrator.Expect(client, types.EventCallDeclined).ForCall(res.CallID).Within(300*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, outcomes.AllMatched(), "second decline must not emit")
	assert.Equal(t, 1, client.Recorder().Count(types.EventCallDeclined))
}

// TestFullCallLifecycle walks initiate, accept and end, then checks both
// sides saw the right events in the right order.
func TestFullCallLifecycle(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))

	res, outcomes, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "Exam schedule question")
	fixtures.RequireOutcomes(t, outcomes, err)

	outcomes, err = runner.Orchestrator.AcceptCall(ctx, staff, client, res.CallID)
	fixtures.RequireOutcomes(t, outcomes, err)

	outcomes, err = runner.Orchestrator.Do(ctx, func(ctx context.Context) error {
		_, err := runner.API.EndCall(ctx, staff.Token, res.CallID)
		return err
	},
		orchestrator.Expect(client, types.EventCallEnded).ForCall(res.CallID),
		orchestrator.Expect(staff, types.EventCallEnded).ForCall(res.CallID),
		orchestrator.Expect(client, types.EventCallUpdate).
			Where(correlator.FieldEquals("state", string(types.CallStateEnded))).
			ForCall(res.CallID),
	)
	fixtures.RequireOutcomes(t, outcomes, err)

	ended, err := types.DecodeCallEnded(fixtures.MatchedEvent(t, outcomes, 0))
	require.NoError(t, err)
	assert.Equal(t, res.CallID, ended.CallID)

	assert.True(t, client.Recorder().InOrder(
		types.EventCallAccepted, types.EventCallUpdate, types.EventCallEnded),
		"client saw %v", client.Recorder().Names())
	assert.True(t, staff.Recorder().InOrder(types.EventCallInitiated, types.EventCallEnded),
		"staff saw %v", staff.Recorder().Names())

	if srv := runner.Server; srv != nil {
		call, err := srv.Call(res.CallID)
		require.NoError(t, err)
		assert.Equal(t, types.CallStateEnded, call.Status)
		assert.Equal(t, staff.StaffID, call.StaffID)
	}
}

// TestClientCancelsRingingCall withdraws a call before staff answer
func TestClientCancelsRingingCall(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))

	res, outcomes, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "")
	fixtures.RequireOutcomes(t, outcomes, err)

	outcomes, err = runner.Orchestrator.Do(ctx, func(ctx context.Context) error {
		_, err := runner.API.CancelCall(ctx, client.Token, res.CallID)
		return err
	},
		orchestrator.Expect(staff, types.EventCallCanceled).ForCall(res.CallID),
		orchestrator.Expect(client, types.EventCallUpdate).
			Where(correlator.FieldEquals("state", string(types.CallStateCanceled))).
			ForCall(res.CallID),
	)
	fixtures.RequireOutcomes(t, outcomes, err)

	_, err = runner.API.AcceptCall(ctx, staff.Token, res.CallID)
	require.Error(t, err)
	assert.ErrorIs(t, err, restapi.ErrConflict)
}

// TestAcceptAfterDeclineConflicts checks a finished call cannot be picked up
func TestAcceptAfterDeclineConflicts(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))

	res, outcomes, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "")
	fixtures.RequireOutcomes(t, outcomes, err)
	outcomes, err = runner.Orchestrator.DeclineCall(ctx, staff, client, res.CallID, "")
	fixtures.RequireOutcomes(t, outcomes, err)

	_, err = runner.Orchestrator.AcceptCall(ctx, staff, client, res.CallID)
	assert.ErrorIs(t, err, restapi.ErrConflict)
	assert.Zero(t, client.Session.Correlator().Pending(), "failed action left waiters behind")
}

// TestEndedOrUpdateResolvesOnce waits on either terminal signal while both
// are emitted; only the first to arrive fills its entry.
func TestEndedOrUpdateResolvesOnce(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))

	res, outcomes, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "")
	fixtures.RequireOutcomes(t, outcomes, err)
	outcomes, err = runner.Orchestrator.AcceptCall(ctx, staff, client, res.CallID)
	fixtures.RequireOutcomes(t, outcomes, err)

	names := []string{types.EventCallEnded, types.EventCallUpdate}
	results := make(chan map[string]*types.Event, 1)
	go func() {
		results <- client.Session.WaitForAnyOf(ctx, names, 3*time.Second)
	}()
	require.Eventually(t, func() bool {
		return client.Session.Correlator().Pending() == 1
	}, time.Second, 5*time.Millisecond, "waiter never registered")

	_, err = runner.API.EndCall(ctx, staff.Token, res.CallID)
	require.NoError(t, err)

	got := <-results
	resolved := 0
	for _, name := range names {
		if got[name] != nil {
			resolved++
		}
	}
	assert.Equal(t, 1, resolved, "entries: %v", got)
	require.Eventually(t, func() bool {
		return client.Recorder().Count(types.EventCallUpdate) >= 2
	}, 2*time.Second, 10*time.Millisecond, "ended-state update never recorded")
}
