package types

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ClientInfo is the caller summary carried by call.initiated
type ClientInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// StaffInfo is the callee summary carried by call.accepted
type StaffInfo struct {
	ID string `json:"id"`
}

type CallInitiated struct {
	CallID        string     `json:"callId"`
	Client        ClientInfo `json:"client"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     string     `json:"createdAt"`
	TargetStaffID string     `json:"targetStaffId,omitempty"`
}

type CallAccepted struct {
	CallID string    `json:"callId"`
	Staff  StaffInfo `json:"staff"`
}

type CallDeclined struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type CallCanceled struct {
	CallID string `json:"callId"`
}

type CallEnded struct {
	CallID  string `json:"callId"`
	EndedBy string `json:"endedBy,omitempty"`
}

type CallUpdate struct {
	CallID  string    `json:"callId"`
	State   CallState `json:"state"`
	StaffID string    `json:"staffId,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// CallSDP is relayed within a call room for offer/answer exchange
type CallSDP struct {
	CallID string `json:"callId"`
	Type   string `json:"type"`
	SDP    string `json:"sdp"`
}

// Description converts the relayed payload into a pion session description
func (p *CallSDP) Description() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(p.Type), SDP: p.SDP}
}

// CallICE is relayed within a call room for trickle ICE.
// TECHNICAL DISCOVERY: pion's ICECandidateInit uses the same JSON field names
// as the browser RTCIceCandidateInit, so relayed candidates decode directly.
type CallICE struct {
	CallID    string                  `json:"callId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// TimetableSlot is one entry in a day's schedule
type TimetableSlot struct {
	Time    string `json:"time"`
	Subject string `json:"subject"`
	Room    string `json:"room,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Timetable is the body of a timetable update
type Timetable struct {
	Faculty     string                     `json:"faculty"`
	Designation string                     `json:"designation,omitempty"`
	Semester    string                     `json:"semester"`
	Schedule    map[string][]TimetableSlot `json:"schedule"`
}

type TimetableUpdated struct {
	FacultyID string          `json:"facultyId"`
	Semester  string          `json:"semester,omitempty"`
	Timetable json.RawMessage `json:"timetable,omitempty"`
}

// StaffAvailability is one entry of the availability listing
type StaffAvailability struct {
	StaffID string   `json:"staffId"`
	Status  string   `json:"status"`
	OrgID   string   `json:"orgId,omitempty"`
	Skills  []string `json:"skills,omitempty"`
}

// Notification is one entry of a staff member's notification feed
type Notification struct {
	ID        string `json:"id"`
	StaffID   string `json:"staffId,omitempty"`
	Type      string `json:"type,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	CallID    string `json:"callId,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// decodeEvent unmarshals ev into T after checking the event name, then runs
// the required-field check. Any failure is a ProtocolMismatchError.
func decodeEvent[T any](ev Event, names []string, required func(*T) []string) (*T, error) {
	if !containsName(names, ev.Name) {
		return nil, &ProtocolMismatchError{
			Event: ev.Name,
			Err:   fmt.Errorf("expected one of %v", names),
		}
	}
	if len(ev.Payload) == 0 {
		return nil, &ProtocolMismatchError{Event: ev.Name, Err: ErrEmptyPayload}
	}

	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return nil, &ProtocolMismatchError{Event: ev.Name, Err: err}
	}
	if missing := required(&out); len(missing) > 0 {
		return nil, &ProtocolMismatchError{Event: ev.Name, Missing: missing}
	}
	return &out, nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// missingFields collects the names whose paired value is empty
func missingFields(pairs ...string) []string {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, pairs[i])
		}
	}
	return missing
}

func DecodeCallInitiated(ev Event) (*CallInitiated, error) {
	return decodeEvent(ev, []string{EventCallInitiated}, func(p *CallInitiated) []string {
		return missingFields("callId", p.CallID, "client.id", p.Client.ID, "createdAt", p.CreatedAt)
	})
}

func DecodeCallAccepted(ev Event) (*CallAccepted, error) {
	return decodeEvent(ev, []string{EventCallAccepted}, func(p *CallAccepted) []string {
		return missingFields("callId", p.CallID, "staff.id", p.Staff.ID)
	})
}

func DecodeCallDeclined(ev Event) (*CallDeclined, error) {
	return decodeEvent(ev, []string{EventCallDeclined}, func(p *CallDeclined) []string {
		return missingFields("callId", p.CallID)
	})
}

func DecodeCallCanceled(ev Event) (*CallCanceled, error) {
	return decodeEvent(ev, []string{EventCallCanceled}, func(p *CallCanceled) []string {
		return missingFields("callId", p.CallID)
	})
}

func DecodeCallEnded(ev Event) (*CallEnded, error) {
	return decodeEvent(ev, []string{EventCallEnded}, func(p *CallEnded) []string {
		return missingFields("callId", p.CallID)
	})
}

func DecodeCallUpdate(ev Event) (*CallUpdate, error) {
	return decodeEvent(ev, []string{EventCallUpdate}, func(p *CallUpdate) []string {
		return missingFields("callId", p.CallID, "state", string(p.State))
	})
}

// DecodeCallSDP accepts the room relay name and the legacy webrtc.* aliases
func DecodeCallSDP(ev Event) (*CallSDP, error) {
	return decodeEvent(ev, []string{EventCallSDP, EventWebRTCOffer, EventWebRTCAnswer}, func(p *CallSDP) []string {
		return missingFields("callId", p.CallID, "type", p.Type, "sdp", p.SDP)
	})
}

func DecodeCallICE(ev Event) (*CallICE, error) {
	return decodeEvent(ev, []string{EventCallICE, EventWebRTCICE}, func(p *CallICE) []string {
		return missingFields("callId", p.CallID, "candidate.candidate", p.Candidate.Candidate)
	})
}

func DecodeTimetableUpdated(ev Event) (*TimetableUpdated, error) {
	return decodeEvent(ev, []string{EventTimetableUpdated}, func(p *TimetableUpdated) []string {
		return missingFields("facultyId", p.FacultyID)
	})
}

func DecodeNotification(ev Event) (*Notification, error) {
	return decodeEvent(ev, NotificationEvents, func(p *Notification) []string {
		return missingFields("id", p.ID)
	})
}
