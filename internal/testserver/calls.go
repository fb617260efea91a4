package testserver

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"callprobe/pkg/types"
)

// Call is the fake service's record of one call
type Call struct {
	ID            string          `json:"callId"`
	ClientID      string          `json:"clientId"`
	ClientName    string          `json:"clientName,omitempty"`
	OrgID         string          `json:"orgId"`
	Reason        string          `json:"reason,omitempty"`
	TargetStaffID string          `json:"targetStaffId,omitempty"`
	StaffID       string          `json:"staffId,omitempty"`
	Recipients    []string        `json:"recipients"`
	Status        types.CallState `json:"status"`
	DeclineReason string          `json:"declineReason,omitempty"`
	EndedBy       string          `json:"endedBy,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// CreateCallRequest is the body of POST /api/v1/calls
type CreateCallRequest struct {
	ClientID      string `json:"clientId"`
	ClientName    string `json:"clientName,omitempty"`
	OrgID         string `json:"orgId,omitempty"`
	TargetStaffID string `json:"targetStaffId,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Department    string `json:"department,omitempty"`
}

// callCenter owns calls, staff availability and timetables, and emits the
// push events that go with each state change.
// ARCHITECTURAL DISCOVERY: All state lives in memory behind one mutex; events
// are queued on the hub while the lock is held so emission order matches
// transition order.
type callCenter struct {
	hub *hub

	mu           sync.RWMutex
	calls        map[string]*Call
	availability map[string]types.StaffAvailability
	timetables   map[string]map[string]types.Timetable // facultyId -> semester -> timetable
	// staffId -> feed, oldest first
	notifications map[string][]*types.Notification
}

func newCallCenter(h *hub) *callCenter {
	return &callCenter{
		hub:          h,
		calls:        make(map[string]*Call),
		availability: make(map[string]types.StaffAvailability),
		timetables:   make(map[string]map[string]types.Timetable),

		notifications: make(map[string][]*types.Notification),
	}
}

// EnsureStaff marks a staff member available on first sight
func (c *callCenter) EnsureStaff(p Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.availability[p.StaffID]; ok {
		return
	}
	c.availability[p.StaffID] = types.StaffAvailability{
		StaffID: p.StaffID,
		Status:  types.AvailabilityAvailable,
		OrgID:   p.OrgID,
	}
}

// SetAvailability records a staff member's status
func (c *callCenter) SetAvailability(staffID, status, orgID string, skills []string) (types.StaffAvailability, error) {
	if !types.IsValidAvailability(status) {
		return types.StaffAvailability{}, ErrInvalidAvailability
	}
	if orgID == "" {
		orgID = types.DefaultOrgID
	}
	a := types.StaffAvailability{StaffID: staffID, Status: status, OrgID: orgID, Skills: skills}

	c.mu.Lock()
	c.availability[staffID] = a
	c.mu.Unlock()

	log.Printf("[FakeCenter] availability: staff=%s status=%s org=%s", staffID, status, orgID)
	return a, nil
}

// AvailableStaff lists available staff, optionally filtered by org and by
// skills (every listed skill must be present).
func (c *callCenter) AvailableStaff(orgID string, skills []string) []types.StaffAvailability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.availableLocked(orgID, skills)
}

func (c *callCenter) availableLocked(orgID string, skills []string) []types.StaffAvailability {
	var out []types.StaffAvailability
	for _, a := range c.availability {
		if a.Status != types.AvailabilityAvailable {
			continue
		}
		if orgID != "" && a.OrgID != orgID {
			continue
		}
		if !hasSkills(a.Skills, skills) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StaffID < out[j].StaffID })
	return out
}

func hasSkills(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Create starts ringing the target staff member, or every available staff
// member of the org when no target is named.
// FUNCTIONAL DISCOVERY: A call nobody can receive is still recorded, as
// missed, and reported with ErrNoAvailableStaff so the API answers 503.
func (c *callCenter) Create(req CreateCallRequest) (*Call, error) {
	if req.ClientID == "" {
		return nil, ErrMissingClientID
	}
	orgID := req.OrgID
	if orgID == "" {
		orgID = types.DefaultOrgID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var recipients []string
	if req.TargetStaffID != "" {
		if a, ok := c.availability[req.TargetStaffID]; ok && a.Status == types.AvailabilityAvailable {
			recipients = []string{req.TargetStaffID}
		}
	} else {
		var skills []string
		if req.Department != "" {
			skills = []string{req.Department}
		}
		for _, a := range c.availableLocked(orgID, skills) {
			recipients = append(recipients, a.StaffID)
		}
	}

	now := time.Now().UTC()
	call := &Call{
		ID:            uuid.NewString(),
		ClientID:      req.ClientID,
		ClientName:    req.ClientName,
		OrgID:         orgID,
		Reason:        req.Reason,
		TargetStaffID: req.TargetStaffID,
		Recipients:    recipients,
		Status:        types.CallStateRinging,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(recipients) == 0 {
		call.Status = types.CallStateMissed
		c.calls[call.ID] = call
		log.Printf("[FakeCenter] call %s missed: no available staff", call.ID)
		return call, ErrNoAvailableStaff
	}
	c.calls[call.ID] = call

	rooms := make([]string, 0, len(recipients))
	for _, id := range recipients {
		rooms = append(rooms, types.StaffRoom(id).String())
	}
	c.emit(rooms, types.EventCallInitiated, types.CallInitiated{
		CallID: call.ID,
		Client: types.ClientInfo{
			ID:   call.ClientID,
			Name: call.ClientName,
		},
		Reason:        call.Reason,
		CreatedAt:     call.CreatedAt.Format(time.RFC3339Nano),
		TargetStaffID: call.TargetStaffID,
	})
	// FUNCTIONAL DISCOVERY: Each ringing staff member also gets a feed entry,
	// pushed right after call.initiated.
	for _, id := range recipients {
		c.notifyLocked(id, types.EventNotificationCreated, callNotification(call))
	}

	log.Printf("[FakeCenter] call %s ringing %d staff", call.ID, len(recipients))
	return call.clone(), nil
}

// Get returns a copy of a call
func (c *callCenter) Get(callID string) (*Call, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	call, ok := c.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return call.clone(), nil
}

// Accept moves a ringing call to accepted
func (c *callCenter) Accept(callID, staffID string) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, err := c.transitionLocked(callID, types.CallStateAccepted, types.CallStateRinging)
	if err != nil {
		return nil, err
	}
	call.StaffID = staffID

	rooms := call.participantRooms()
	c.emit(rooms, types.EventCallAccepted, types.CallAccepted{
		CallID: call.ID,
		Staff:  types.StaffInfo{ID: staffID},
	})
	c.emit(rooms, types.EventCallUpdate, types.CallUpdate{
		CallID:  call.ID,
		State:   types.CallStateAccepted,
		StaffID: staffID,
	})
	return call.clone(), nil
}

// Decline moves a ringing call to declined. Declining an already declined
// call succeeds without emitting again.
func (c *callCenter) Decline(callID, staffID, reason string) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call, ok := c.calls[callID]; ok && call.Status == types.CallStateDeclined {
		return call.clone(), nil
	}
	call, err := c.transitionLocked(callID, types.CallStateDeclined, types.CallStateRinging)
	if err != nil {
		return nil, err
	}
	call.StaffID = staffID
	call.DeclineReason = reason

	rooms := call.participantRooms()
	c.emit(rooms, types.EventCallDeclined, types.CallDeclined{CallID: call.ID, Reason: reason})
	c.emit(rooms, types.EventCallUpdate, types.CallUpdate{
		CallID:  call.ID,
		State:   types.CallStateDeclined,
		StaffID: staffID,
		Reason:  reason,
	})
	return call.clone(), nil
}

// Cancel withdraws a ringing call before anyone answers
func (c *callCenter) Cancel(callID string) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, err := c.transitionLocked(callID, types.CallStateCanceled, types.CallStateRinging)
	if err != nil {
		return nil, err
	}

	rooms := call.participantRooms()
	c.emit(rooms, types.EventCallCanceled, types.CallCanceled{CallID: call.ID})
	c.emit(rooms, types.EventCallUpdate, types.CallUpdate{CallID: call.ID, State: types.CallStateCanceled})
	return call.clone(), nil
}

// End terminates a ringing or accepted call
func (c *callCenter) End(callID, endedBy string) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, err := c.transitionLocked(callID, types.CallStateEnded, types.CallStateRinging, types.CallStateAccepted)
	if err != nil {
		return nil, err
	}
	call.EndedBy = endedBy

	rooms := append(call.participantRooms(), types.OrgRoom(call.OrgID).String())
	c.emit(rooms, types.EventCallEnded, types.CallEnded{CallID: call.ID, EndedBy: endedBy})
	c.emit(rooms, types.EventCallUpdate, types.CallUpdate{
		CallID:  call.ID,
		State:   types.CallStateEnded,
		StaffID: call.StaffID,
	})
	return call.clone(), nil
}

func (c *callCenter) transitionLocked(callID string, to types.CallState, from ...types.CallState) (*Call, error) {
	call, ok := c.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	allowed := false
	for _, s := range from {
		if call.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, call.Status, to)
	}
	log.Printf("[FakeCenter] call %s: %s -> %s", call.ID, call.Status, to)
	call.Status = to
	call.UpdatedAt = time.Now().UTC()
	return call, nil
}

// UpdateTimetable stores a timetable and broadcasts timetable:updated.
// FUNCTIONAL DISCOVERY: Staff may only edit their own timetable.
func (c *callCenter) UpdateTimetable(p Principal, facultyID string, tt types.Timetable) (types.Timetable, error) {
	if p.Role != types.RoleStaff || p.StaffID != facultyID {
		return types.Timetable{}, ErrForbiddenRole
	}
	if tt.Semester == "" {
		return types.Timetable{}, fmt.Errorf("semester is required")
	}

	raw, err := json.Marshal(tt)
	if err != nil {
		return types.Timetable{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timetables[facultyID] == nil {
		c.timetables[facultyID] = make(map[string]types.Timetable)
	}
	c.timetables[facultyID][tt.Semester] = tt

	if err := c.hub.Broadcast(types.EventTimetableUpdated, types.TimetableUpdated{
		FacultyID: facultyID,
		Semester:  tt.Semester,
		Timetable: raw,
	}); err != nil {
		log.Printf("[FakeCenter] broadcast %s failed: %v", types.EventTimetableUpdated, err)
	}
	return tt, nil
}

// Timetable returns a stored timetable
func (c *callCenter) Timetable(facultyID, semester string) (types.Timetable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tt, ok := c.timetables[facultyID][semester]
	return tt, ok
}

// emit must be called with c.mu held
func (c *callCenter) emit(rooms []string, name string, payload any) {
	if err := c.hub.Emit(rooms, name, payload); err != nil {
		log.Printf("[FakeCenter] emit %s failed: %v", name, err)
	}
}

// participantRooms lists the client room, the call room and every staff
// room the call rang or is handled by.
func (call *Call) participantRooms() []string {
	rooms := []string{
		types.ClientRoom(call.ClientID).String(),
		types.CallRoom(call.ID).String(),
	}
	for _, id := range call.Recipients {
		rooms = append(rooms, types.StaffRoom(id).String())
	}
	if call.StaffID != "" {
		rooms = append(rooms, types.StaffRoom(call.StaffID).String())
	}
	return rooms
}

func (call *Call) clone() *Call {
	cp := *call
	cp.Recipients = append([]string(nil), call.Recipients...)
	return &cp
}
