package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"callprobe/pkg/types"
)

// CallRequest is the body of a call initiation
type CallRequest struct {
	ClientID      string `json:"clientId"`
	ClientName    string `json:"clientName,omitempty"`
	OrgID         string `json:"orgId,omitempty"`
	TargetStaffID string `json:"targetStaffId,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Department    string `json:"department,omitempty"`
}

// CallResult is the service's answer to a call action
type CallResult struct {
	CallID string
	Status types.CallState
}

// CreateCall initiates a call. When no staff can take it the service
// answers 503; the returned error wraps ErrNoStaffAvailable and the result
// still carries the call id if the service reported one.
func (c *Client) CreateCall(ctx context.Context, token string, req CallRequest) (*CallResult, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	resp, err := c.Do(ctx, http.MethodPost, "/api/v1/calls", token, req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusServiceUnavailable && resp != nil {
			return resultFrom(resp), fmt.Errorf("initiate call: %w", err)
		}
		return nil, fmt.Errorf("initiate call: %w", err)
	}

	result := resultFrom(resp)
	if result.CallID == "" {
		return nil, fmt.Errorf("%w: call reply missing callId", ErrInvalidResponse)
	}
	return result, nil
}

// AcceptCall accepts a ringing call as staff
func (c *Client) AcceptCall(ctx context.Context, token, callID string) (*CallResult, error) {
	return c.callAction(ctx, token, callID, "accept", nil)
}

// DeclineCall declines a ringing call as staff, with an optional reason
func (c *Client) DeclineCall(ctx context.Context, token, callID, reason string) (*CallResult, error) {
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.callAction(ctx, token, callID, "decline", body)
}

// CancelCall withdraws a ringing call as the client
func (c *Client) CancelCall(ctx context.Context, token, callID string) (*CallResult, error) {
	return c.callAction(ctx, token, callID, "cancel", nil)
}

// EndCall ends a call from either side
func (c *Client) EndCall(ctx context.Context, token, callID string) (*CallResult, error) {
	return c.callAction(ctx, token, callID, "end", nil)
}

// GetCall returns the service's raw call details
func (c *Client) GetCall(ctx context.Context, token, callID string) (*Response, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/api/v1/calls/"+url.PathEscape(callID), token, nil)
	if err != nil {
		return nil, fmt.Errorf("get call %s: %w", callID, err)
	}
	return resp, nil
}

// CleanupCall tries cancel, then end. Errors are returned joined only when
// both fail for reasons other than the call already being over.
func (c *Client) CleanupCall(ctx context.Context, token, callID string) error {
	_, cancelErr := c.CancelCall(ctx, token, callID)
	if cancelErr == nil {
		return nil
	}
	_, endErr := c.EndCall(ctx, token, callID)
	if endErr == nil || errors.Is(endErr, ErrConflict) || errors.Is(endErr, ErrNotFound) {
		return nil
	}
	return errors.Join(cancelErr, endErr)
}

func (c *Client) callAction(ctx context.Context, token, callID, action string, body any) (*CallResult, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	path := "/api/v1/calls/" + url.PathEscape(callID) + "/" + action
	resp, err := c.Do(ctx, http.MethodPost, path, token, body)
	if err != nil {
		return nil, fmt.Errorf("%s call %s: %w", action, callID, err)
	}
	result := resultFrom(resp)
	if result.CallID == "" {
		result.CallID = callID
	}
	return result, nil
}

func resultFrom(resp *Response) *CallResult {
	return &CallResult{
		CallID: resp.Get("callId").String(),
		Status: types.CallState(resp.Get("status").String()),
	}
}
