package orchestrator

import (
	"context"

	"callprobe/internal/correlator"
	"callprobe/internal/restapi"
	"callprobe/internal/session"
	"callprobe/pkg/types"
)

// InitiateCall creates a call from client to staff and waits for staff to
// be notified. staff may be nil to let the service route the call, in which
// case nothing is awaited. The call is tracked for cleanup whenever the
// service assigned an id, including the 503 case.
func (o *Orchestrator) InitiateCall(ctx context.Context, client, staff *Actor, reason string) (*restapi.CallResult, Outcomes, error) {
	req := restapi.CallRequest{
		ClientID:   client.ClientID,
		ClientName: client.ClientName,
		OrgID:      o.cfg.Credentials.OrgID,
		Reason:     reason,
	}
	var expectations []Expectation
	if staff != nil {
		req.TargetStaffID = staff.StaffID
		expectations = append(expectations,
			Expect(staff, types.EventCallInitiated).Where(correlator.FieldEquals("client.id", client.ClientID)))
	}

	var result *restapi.CallResult
	outcomes, err := o.Do(ctx, func(ctx context.Context) error {
		res, err := o.api.CreateCall(ctx, client.Token, req)
		if res != nil {
			result = res
			o.TrackCall(client.Token, res.CallID)
		}
		return err
	}, expectations...)
	return result, outcomes, err
}

// AcceptCall accepts callID as staff and waits for the client to see both
// the accept notification and the state update.
func (o *Orchestrator) AcceptCall(ctx context.Context, staff, client *Actor, callID string) (Outcomes, error) {
	if callID == "" {
		return nil, ErrMissingCallID
	}
	return o.Do(ctx, func(ctx context.Context) error {
		_, err := o.api.AcceptCall(ctx, staff.Token, callID)
		return err
	},
		Expect(client, types.EventCallAccepted).ForCall(callID),
		Expect(client, types.EventCallUpdate).
			Where(correlator.FieldEquals("state", string(types.CallStateAccepted))).
			ForCall(callID),
	)
}

// DeclineCall declines callID as staff and waits for the client to hear it
func (o *Orchestrator) DeclineCall(ctx context.Context, staff, client *Actor, callID, reason string) (Outcomes, error) {
	if callID == "" {
		return nil, ErrMissingCallID
	}
	return o.Do(ctx, func(ctx context.Context) error {
		_, err := o.api.DeclineCall(ctx, staff.Token, callID, reason)
		return err
	}, Expect(client, types.EventCallDeclined).ForCall(callID))
}

// EndCall ends callID on behalf of by and waits for every observer to see
// call.ended.
func (o *Orchestrator) EndCall(ctx context.Context, by *Actor, callID string, observers ...*Actor) (Outcomes, error) {
	if callID == "" {
		return nil, ErrMissingCallID
	}
	expectations := make([]Expectation, 0, len(observers))
	for _, a := range observers {
		expectations = append(expectations, Expect(a, types.EventCallEnded).ForCall(callID))
	}
	return o.Do(ctx, func(ctx context.Context) error {
		_, err := o.api.EndCall(ctx, by.Token, callID)
		return err
	}, expectations...)
}

// UpdateTimetable saves tt as staff's own timetable and waits for every
// observer to receive the broadcast for that faculty.
func (o *Orchestrator) UpdateTimetable(ctx context.Context, staff *Actor, tt types.Timetable, observers ...*Actor) (*types.Timetable, Outcomes, error) {
	expectations := make([]Expectation, 0, len(observers))
	for _, a := range observers {
		expectations = append(expectations,
			Expect(a, types.EventTimetableUpdated).Where(correlator.FieldEquals("facultyId", staff.StaffID)))
	}
	var saved *types.Timetable
	outcomes, err := o.Do(ctx, func(ctx context.Context) error {
		var err error
		saved, err = o.api.UpdateTimetable(ctx, staff.Token, staff.StaffID, tt)
		return err
	}, expectations...)
	return saved, outcomes, err
}

// JoinCall subscribes every actor to the call's signaling room and settles
// once. It returns ErrRoomJoin if any join request could not be sent.
func (o *Orchestrator) JoinCall(ctx context.Context, callID string, actors ...*Actor) error {
	if callID == "" {
		return ErrMissingCallID
	}
	sessions := make([]*session.Session, 0, len(actors))
	for _, a := range actors {
		sessions = append(sessions, a.Session)
	}
	if !o.rooms.JoinAll(ctx, types.CallRoom(callID), sessions...) {
		return ErrRoomJoin
	}
	return nil
}
