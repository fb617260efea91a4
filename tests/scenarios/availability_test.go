package scenarios

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callprobe/internal/orchestrator"
	"callprobe/internal/restapi"
	"callprobe/pkg/types"
	"callprobe/tests/fixtures"
)

// Routing in these scenarios is the in-process call center's, so they check
// how the harness handles each answer, not how a real service routes.

// TestOfflineStaffGetsNoCall targets an offline staff member: the service
// answers 503 with a call id, and staff hear nothing.
func TestOfflineStaffGetsNoCall(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	runner.RequireFakeService()
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))

	require.NoError(t, runner.API.SetAvailability(ctx, staff.Token, types.AvailabilityOffline, runner.Config.Credentials.OrgID, nil))

	res, _, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, restapi.ErrNoStaffAvailable)
	require.NotNil(t, res)
	assert.Equal(t, types.CallStateMissed, res.Status)
	assert.Contains(t, runner.Orchestrator.TrackedCalls(), res.CallID)

	assert.Zero(t, staff.Session.Correlator().Pending())
	fixtures.RequireNoEvent(t, staff, types.EventCallInitiated)
}

// TestCallRoutesToAvailableStaff leaves the target open; only the available
// staff member of two rings.
func TestCallRoutesToAvailableStaff(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	runner.RequireFakeService()
	ctx := runner.Context()
	scenario := fixtures.GenerateCallScenario(2, 1)

	available := orchestrator.Staff("available", scenario.StaffEmails[0])
	available.Availability = types.AvailabilityAvailable
	away := orchestrator.Staff("away", scenario.StaffEmails[1])
	away.Availability = types.AvailabilityAway
	actors, err := runner.Orchestrator.OpenActors(ctx, available, away, orchestrator.Client("client"))
	require.NoError(t, err)
	onDuty, offDuty, client := actors[0], actors[1], actors[2]

	listed, err := runner.API.AvailableStaff(ctx, onDuty.Token, runner.Config.Credentials.OrgID, nil)
	require.NoError(t, err)
	var ids []string
	for _, s := range listed {
		ids = append(ids, s.StaffID)
	}
	assert.Contains(t, ids, onDuty.StaffID)
	assert.NotContains(t, ids, offDuty.StaffID)

	outcomes, err := runner.Orchestrator.Do(ctx, func(ctx context.Context) error {
		res, err := runner.API.CreateCall(ctx, client.Token, restapi.CallRequest{
			ClientID: client.ClientID,
			OrgID:    runner.Config.Credentials.OrgID,
		})
		if res != nil {
			runner.Orchestrator.TrackCall(client.Token, res.CallID)
		}
		return err
	},
		orchestrator.Expect(onDuty, types.EventCallInitiated),
		orchestrator.Expect(offDuty, types.EventCallInitiated).Within(300*time.Millisecond),
	)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Matched, "available staff was not rung")
	assert.False(t, outcomes[1].Matched, "away staff was rung")
}

// TestRetryAfterNoStaff retries once after a pause, once staff came back
// online, the way the kiosk does.
func TestRetryAfterNoStaff(t *testing.T) {
	runner := fixtures.NewScenarioRunner(t)
	runner.RequireFakeService()
	ctx := runner.Context()
	staff, client := runner.OpenPair(fixtures.GenerateCallScenario(1, 1))
	org := runner.Config.Credentials.OrgID

	require.NoError(t, runner.API.SetAvailability(ctx, staff.Token, types.AvailabilityBusy, org, nil))
	_, _, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "")
	require.ErrorIs(t, err, restapi.ErrNoStaffAvailable)

	require.NoError(t, runner.API.SetAvailability(ctx, staff.Token, types.AvailabilityAvailable, org, nil))
	time.Sleep(runner.Config.Timeouts.Settling)

	res, outcomes, err := runner.Orchestrator.InitiateCall(ctx, client, staff, "")
	fixtures.RequireOutcomes(t, outcomes, err)
	assert.Equal(t, types.CallStateRinging, res.Status)
	assert.Len(t, runner.Orchestrator.TrackedCalls(), 2)
}
