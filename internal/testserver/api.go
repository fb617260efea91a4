package testserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"callprobe/pkg/types"
)

type principalKey struct{}

// apiServer is the REST surface of the fake service
// ARCHITECTURAL DISCOVERY: HTTP layer only decodes, authorizes and encodes;
// state changes and their push events live in callCenter.
type apiServer struct {
	tokens *tokenStore
	center *callCenter
	stats  func() map[string]int
	mux    *http.ServeMux
}

func newAPIServer(tokens *tokenStore, center *callCenter, stats func() map[string]int) *apiServer {
	s := &apiServer{
		tokens: tokens,
		center: center,
		stats:  stats,
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *apiServer) setupRoutes() {
	open := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(h))
	}
	authed := func(h http.HandlerFunc) http.Handler {
		return open(s.authMiddleware(h).ServeHTTP)
	}

	s.mux.Handle("GET /healthz", open(s.healthCheck))
	s.mux.Handle("POST /api/auth/login", open(s.login))
	s.mux.Handle("POST /api/auth/refresh-token", open(s.refresh))

	s.mux.Handle("POST /api/v1/calls", authed(s.createCall))
	s.mux.Handle("GET /api/v1/calls/{id}", authed(s.getCall))
	s.mux.Handle("POST /api/v1/calls/{id}/accept", authed(s.acceptCall))
	s.mux.Handle("POST /api/v1/calls/{id}/decline", authed(s.declineCall))
	s.mux.Handle("POST /api/v1/calls/{id}/cancel", authed(s.cancelCall))
	s.mux.Handle("POST /api/v1/calls/{id}/end", authed(s.endCall))

	s.mux.Handle("PUT /api/v1/staff/availability", authed(s.setAvailability))
	s.mux.Handle("GET /api/v1/staff/availability", authed(s.listAvailability))

	s.mux.Handle("PATCH /api/timetables/{facultyId}", authed(s.updateTimetable))
	s.mux.Handle("GET /api/timetables/{facultyId}/{semester}", authed(s.getTimetable))

	s.mux.Handle("GET /api/notifications", authed(s.listNotifications))
	s.mux.Handle("GET /api/notifications/unread", authed(s.listUnreadNotifications))
	s.mux.Handle("POST /api/notifications", authed(s.createNotification))
	s.mux.Handle("PATCH /api/notifications/{id}/read", authed(s.markNotificationRead))
}

func (s *apiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type userResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	StaffID string `json:"staffId,omitempty"`
	OrgID   string `json:"orgId"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (s *apiServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"connections": s.stats(),
	})
}

// FUNCTIONAL DISCOVERY: One login endpoint serves both roles; a body with
// role "client" and a username issues a client token without a password.
func (s *apiServer) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Role == string(types.RoleClient) {
		if req.Username == "" {
			s.sendError(w, "username is required", http.StatusBadRequest)
			return
		}
		token, p := s.tokens.LoginClient(req.Username)
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": toUser(p)})
		return
	}

	token, refresh, p, err := s.tokens.LoginStaff(req.Email, req.Password)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	s.center.EnsureStaff(p)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        token,
		"refreshToken": refresh,
		"user":         toUser(p),
	})
}

func (s *apiServer) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		s.sendError(w, "refreshToken is required", http.StatusBadRequest)
		return
	}
	token, refresh, err := s.tokens.Refresh(req.RefreshToken)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "refreshToken": refresh})
}

func (s *apiServer) createCall(w http.ResponseWriter, r *http.Request) {
	var req CreateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if p := principalFrom(r); req.OrgID == "" {
		req.OrgID = p.OrgID
	}

	call, err := s.center.Create(req)
	switch {
	case errors.Is(err, ErrNoAvailableStaff):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  err.Error(),
			"callId": call.ID,
			"status": call.Status,
		})
		return
	case err != nil:
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"callId": call.ID, "status": call.Status})
}

func (s *apiServer) getCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.center.Get(r.PathValue("id"))
	if err != nil {
		s.sendCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *apiServer) acceptCall(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if p.Role != types.RoleStaff {
		s.sendError(w, "only staff can accept calls", http.StatusForbidden)
		return
	}
	call, err := s.center.Accept(r.PathValue("id"), p.StaffID)
	if err != nil {
		s.sendCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"callId": call.ID, "status": call.Status, "staffId": call.StaffID})
}

func (s *apiServer) declineCall(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if p.Role != types.RoleStaff {
		s.sendError(w, "only staff can decline calls", http.StatusForbidden)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	// An empty body is a decline without reason
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}
	call, err := s.center.Decline(r.PathValue("id"), p.StaffID, req.Reason)
	if err != nil {
		s.sendCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"callId": call.ID, "status": call.Status, "reason": call.DeclineReason})
}

func (s *apiServer) cancelCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.center.Cancel(r.PathValue("id"))
	if err != nil {
		s.sendCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"callId": call.ID, "status": call.Status})
}

func (s *apiServer) endCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.center.End(r.PathValue("id"), principalFrom(r).UserID)
	if err != nil {
		s.sendCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"callId": call.ID, "status": call.Status})
}

func (s *apiServer) setAvailability(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if p.Role != types.RoleStaff {
		s.sendError(w, "only staff have availability", http.StatusForbidden)
		return
	}
	var req struct {
		Status string   `json:"status"`
		OrgID  string   `json:"orgId"`
		Skills []string `json:"skills"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	a, err := s.center.SetAvailability(p.StaffID, req.Status, req.OrgID, req.Skills)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"staffId": a.StaffID,
		"userId":  p.UserID,
		"status":  a.Status,
		"orgId":   a.OrgID,
		"skills":  a.Skills,
	})
}

func (s *apiServer) listAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var skills []string
	if raw := q.Get("skills"); raw != "" {
		skills = strings.Split(raw, ",")
	}
	staff := s.center.AvailableStaff(q.Get("orgId"), skills)
	if staff == nil {
		staff = []types.StaffAvailability{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": staff})
}

func (s *apiServer) updateTimetable(w http.ResponseWriter, r *http.Request) {
	var tt types.Timetable
	if err := json.NewDecoder(r.Body).Decode(&tt); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	saved, err := s.center.UpdateTimetable(principalFrom(r), r.PathValue("facultyId"), tt)
	switch {
	case errors.Is(err, ErrForbiddenRole):
		s.sendError(w, "Access denied", http.StatusForbidden)
		return
	case err != nil:
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timetable": saved})
}

func (s *apiServer) getTimetable(w http.ResponseWriter, r *http.Request) {
	tt, ok := s.center.Timetable(r.PathValue("facultyId"), r.PathValue("semester"))
	if !ok {
		s.sendError(w, "Timetable not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tt)
}

// staffOnly answers 403 for anyone without a staff feed
func (s *apiServer) staffOnly(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p := principalFrom(r)
	if p.Role != types.RoleStaff {
		s.sendError(w, "notifications are only kept for staff", http.StatusForbidden)
		return p, false
	}
	return p, true
}

func (s *apiServer) listNotifications(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.staffOnly(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": s.center.Notifications(p.StaffID, false)})
	}
}

func (s *apiServer) listUnreadNotifications(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.staffOnly(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": s.center.Notifications(p.StaffID, true)})
	}
}

func (s *apiServer) createNotification(w http.ResponseWriter, r *http.Request) {
	p, ok := s.staffOnly(w, r)
	if !ok {
		return
	}
	var req types.Notification
	// An empty body creates a placeholder notification
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}
	if req.Title == "" {
		req.Title = "Notification"
	}
	writeJSON(w, http.StatusCreated, s.center.Notify(p.StaffID, req))
}

func (s *apiServer) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	p, ok := s.staffOnly(w, r)
	if !ok {
		return
	}
	n, err := s.center.MarkNotificationRead(p.StaffID, r.PathValue("id"))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "notification": n})
}

func (s *apiServer) sendCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCallNotFound):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		s.sendError(w, err.Error(), http.StatusConflict)
	default:
		s.sendError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *apiServer) sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[FakeCenter] encode response failed: %v", err)
	}
}

func toUser(p Principal) userResponse {
	return userResponse{
		ID:      p.UserID,
		Email:   p.Email,
		Name:    p.Name,
		Role:    string(p.Role),
		StaffID: p.StaffID,
		OrgID:   p.OrgID,
	}
}

// bearerToken extracts the token from an Authorization header
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func principalFrom(r *http.Request) Principal {
	p, _ := r.Context().Value(principalKey{}).(Principal)
	return p
}

func (s *apiServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.tokens.Resolve(bearerToken(r))
		if err != nil {
			s.sendError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func (s *apiServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
