package restapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"callprobe/internal/testserver"
	"callprobe/pkg/types"
)

func newFakeCenter(t *testing.T) *Client {
	t.Helper()
	srv, err := testserver.New(testserver.Options{})
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Close()
	})
	return New(hs.URL, Options{Timeout: 5 * time.Second})
}

func TestHealth(t *testing.T) {
	c := newFakeCenter(t)
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestLoginStaffDerivesStaffID(t *testing.T) {
	c := newFakeCenter(t)
	login, err := c.LoginStaff(context.Background(), "nagashree.n@example.edu", "Password123!")
	if err != nil {
		t.Fatalf("LoginStaff() error = %v", err)
	}
	if login.StaffID != "nagashree.n" {
		t.Errorf("StaffID = %q, want nagashree.n", login.StaffID)
	}
	if login.Token == "" || login.RefreshToken == "" {
		t.Error("expected token and refresh token")
	}

	token, _, err := c.Refresh(context.Background(), login.RefreshToken)
	if err != nil || token == "" {
		t.Errorf("Refresh() = %q, %v", token, err)
	}
}

func TestLoginStaffBadPassword(t *testing.T) {
	c := newFakeCenter(t)
	_, err := c.LoginStaff(context.Background(), "someone@example.edu", "nope")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
		t.Errorf("expected StatusError 401, got %v", err)
	}
}

func TestCallActions(t *testing.T) {
	ctx := context.Background()
	c := newFakeCenter(t)
	staff, err := c.LoginStaff(ctx, "desk@example.edu", "Password123!")
	if err != nil {
		t.Fatalf("LoginStaff: %v", err)
	}
	clientToken, err := c.LoginClient(ctx, "client-actions")
	if err != nil {
		t.Fatalf("LoginClient: %v", err)
	}

	call, err := c.CreateCall(ctx, clientToken, CallRequest{ClientID: "client-actions", TargetStaffID: staff.StaffID})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if call.Status != types.CallStateRinging {
		t.Errorf("status = %s, want ringing", call.Status)
	}

	if _, err := c.DeclineCall(ctx, staff.Token, call.CallID, "busy"); err != nil {
		t.Fatalf("DeclineCall: %v", err)
	}
	_, err = c.AcceptCall(ctx, staff.Token, call.CallID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("accept after decline error = %v, want ErrConflict", err)
	}

	details, err := c.GetCall(ctx, staff.Token, call.CallID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got := details.Get("status").String(); got != "declined" {
		t.Errorf("status = %q, want declined", got)
	}
	if got := details.Get("declineReason").String(); got != "busy" {
		t.Errorf("declineReason = %q, want busy", got)
	}

	if _, err := c.GetCall(ctx, staff.Token, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCall(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCreateCallNoStaffKeepsCallID(t *testing.T) {
	ctx := context.Background()
	c := newFakeCenter(t)
	staff, _ := c.LoginStaff(ctx, "gone@example.edu", "Password123!")
	if err := c.SetAvailability(ctx, staff.Token, types.AvailabilityOffline, "", nil); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	clientToken, _ := c.LoginClient(ctx, "client-503")

	call, err := c.CreateCall(ctx, clientToken, CallRequest{ClientID: "client-503", TargetStaffID: staff.StaffID})
	if !errors.Is(err, ErrNoStaffAvailable) {
		t.Fatalf("error = %v, want ErrNoStaffAvailable", err)
	}
	if call == nil || call.CallID == "" || call.Status != types.CallStateMissed {
		t.Errorf("result = %+v, want missed call with id", call)
	}
}

func TestCleanupCall(t *testing.T) {
	ctx := context.Background()
	c := newFakeCenter(t)
	staff, _ := c.LoginStaff(ctx, "cleanup@example.edu", "Password123!")
	clientToken, _ := c.LoginClient(ctx, "client-cleanup")
	call, err := c.CreateCall(ctx, clientToken, CallRequest{ClientID: "client-cleanup"})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if _, err := c.AcceptCall(ctx, staff.Token, call.CallID); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	// Cancel fails on an accepted call, end succeeds
	if err := c.CleanupCall(ctx, clientToken, call.CallID); err != nil {
		t.Errorf("CleanupCall() error = %v", err)
	}
	// Already ended: still not an error
	if err := c.CleanupCall(ctx, clientToken, call.CallID); err != nil {
		t.Errorf("second CleanupCall() error = %v", err)
	}
}

func TestAvailableStaffFoldsIdentifiers(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"staff":[
			{"staffId":"a","status":"available"},
			{"userId":"b@example.edu","status":"available","skills":["x"]},
			{"id":"c","status":"available","orgId":"o"}
		]}`))
	}))
	defer hs.Close()

	c := New(hs.URL, Options{})
	staff, err := c.AvailableStaff(context.Background(), "tok", "", nil)
	if err != nil {
		t.Fatalf("AvailableStaff: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(staff) != len(want) {
		t.Fatalf("got %d entries, want %d", len(staff), len(want))
	}
	for i, id := range want {
		if staff[i].StaffID != id {
			t.Errorf("entry %d StaffID = %q, want %q", i, staff[i].StaffID, id)
		}
	}
	if len(staff[1].Skills) != 1 || staff[1].Skills[0] != "x" {
		t.Errorf("skills = %v", staff[1].Skills)
	}
}

func TestTooManyRequestsIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer hs.Close()

	c := New(hs.URL, Options{})
	_, err := c.LoginClient(context.Background(), "u")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestTimetableRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newFakeCenter(t)
	staff, _ := c.LoginStaff(ctx, "prof.y@example.edu", "Password123!")
	tt := types.Timetable{
		Faculty:  "Prof Y",
		Semester: "3rd Semester",
		Schedule: map[string][]types.TimetableSlot{"Monday": {{Time: "10:00-11:00", Subject: "Maths"}}},
	}

	saved, err := c.UpdateTimetable(ctx, staff.Token, staff.StaffID, tt)
	if err != nil {
		t.Fatalf("UpdateTimetable: %v", err)
	}
	if saved.Semester != tt.Semester || len(saved.Schedule["Monday"]) != 1 {
		t.Errorf("saved = %+v", saved)
	}

	got, err := c.GetTimetable(ctx, staff.Token, staff.StaffID, "3rd Semester")
	if err != nil {
		t.Fatalf("GetTimetable: %v", err)
	}
	if got.Faculty != "Prof Y" {
		t.Errorf("Faculty = %q, want Prof Y", got.Faculty)
	}

	if _, err := c.UpdateTimetable(ctx, staff.Token, "other.prof", tt); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("foreign update error = %v, want ErrUnauthorized", err)
	}
}

func TestNotificationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newFakeCenter(t)
	staff, err := c.LoginStaff(ctx, "feed.desk@example.edu", "Password123!")
	if err != nil {
		t.Fatalf("LoginStaff: %v", err)
	}

	created, err := c.CreateNotification(ctx, staff.Token, types.Notification{Title: "Reminder", Message: "office hours"})
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	if created.ID == "" || created.Read {
		t.Errorf("created = %+v", created)
	}

	feed, err := c.ListNotifications(ctx, staff.Token, false)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(feed) != 1 || feed[0].ID != created.ID || feed[0].Title != "Reminder" {
		t.Fatalf("feed = %+v", feed)
	}

	read, err := c.MarkNotificationRead(ctx, staff.Token, created.ID)
	if err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	if !read.Read || read.ID != created.ID {
		t.Errorf("marked = %+v", read)
	}
	unread, err := c.ListNotifications(ctx, staff.Token, true)
	if err != nil {
		t.Fatalf("ListNotifications(unread): %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("unread = %+v, want none", unread)
	}

	if _, err := c.MarkNotificationRead(ctx, staff.Token, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
	if _, err := c.ListNotifications(ctx, "", false); !errors.Is(err, ErrMissingToken) {
		t.Errorf("missing token error = %v", err)
	}
}

func TestListNotificationsFoldsShapes(t *testing.T) {
	bodies := map[string]string{
		"bare array": `[{"_id":"n1","title":"a","isRead":true}]`,
		"data key":   `{"data":[{"id":"n1","title":"a","read":true}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}))
			defer hs.Close()

			feed, err := New(hs.URL, Options{}).ListNotifications(context.Background(), "tok", false)
			if err != nil {
				t.Fatalf("ListNotifications: %v", err)
			}
			if len(feed) != 1 || feed[0].ID != "n1" || !feed[0].Read {
				t.Errorf("feed = %+v", feed)
			}
		})
	}

	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"notifications":["not an object"]}`))
	}))
	defer hs.Close()
	if _, err := New(hs.URL, Options{}).ListNotifications(context.Background(), "tok", false); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("scalar entry error = %v, want ErrInvalidResponse", err)
	}
}
