package restapi

import (
	"context"
	"fmt"
	"net/http"

	"callprobe/pkg/types"
)

// StaffLogin is the result of a staff login
type StaffLogin struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Name         string
	// StaffID names the staff room; derived from the email when the
	// service does not return one
	StaffID string
}

// LoginStaff authenticates with email and password
func (c *Client) LoginStaff(ctx context.Context, email, password string) (*StaffLogin, error) {
	resp, err := c.Do(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("staff login: %w", err)
	}

	login := &StaffLogin{
		Token:        resp.Get("token").String(),
		RefreshToken: resp.Get("refreshToken").String(),
		UserID:       resp.Get("user.id").String(),
		Email:        resp.Get("user.email").String(),
		Name:         resp.Get("user.name").String(),
		StaffID:      resp.Get("user.staffId").String(),
	}
	if login.Token == "" || login.RefreshToken == "" || !resp.Get("user").IsObject() {
		return nil, fmt.Errorf("%w: login reply missing token, refreshToken or user", ErrInvalidResponse)
	}
	if login.Email == "" {
		login.Email = email
	}
	if login.StaffID == "" {
		login.StaffID = types.StaffIDFromEmail(login.Email)
	}
	return login, nil
}

// LoginClient obtains a client token for username
func (c *Client) LoginClient(ctx context.Context, username string) (string, error) {
	resp, err := c.Do(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"role":     string(types.RoleClient),
	})
	if err != nil {
		return "", fmt.Errorf("client login: %w", err)
	}
	token := resp.Get("token").String()
	if token == "" {
		return "", fmt.Errorf("%w: login reply missing token", ErrInvalidResponse)
	}
	return token, nil
}

// Refresh exchanges a refresh token for a new access token. The service
// may rotate the refresh token; the returned one is empty when it does not.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	resp, err := c.Do(ctx, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{
		"refreshToken": refreshToken,
	})
	if err != nil {
		return "", "", fmt.Errorf("refresh token: %w", err)
	}
	token := resp.Get("token").String()
	if token == "" {
		token = resp.Get("accessToken").String()
	}
	if token == "" {
		return "", "", fmt.Errorf("%w: refresh reply missing token", ErrInvalidResponse)
	}
	return token, resp.Get("refreshToken").String(), nil
}
