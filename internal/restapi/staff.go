package restapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"callprobe/pkg/types"
)

// SetAvailability records the caller's availability status
func (c *Client) SetAvailability(ctx context.Context, token, status, orgID string, skills []string) error {
	if !types.IsValidAvailability(status) {
		return fmt.Errorf("invalid availability %q", status)
	}
	body := map[string]any{"status": status}
	if orgID != "" {
		body["orgId"] = orgID
	}
	if len(skills) > 0 {
		body["skills"] = skills
	}
	if _, err := c.Do(ctx, http.MethodPut, "/api/v1/staff/availability", token, body); err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	return nil
}

// AvailableStaff lists available staff, optionally filtered.
// FUNCTIONAL DISCOVERY: Entries identify staff as staffId, id or userId
// depending on service version; userId may be a full email. All are folded
// into StaffID.
func (c *Client) AvailableStaff(ctx context.Context, token, orgID string, skills []string) ([]types.StaffAvailability, error) {
	q := url.Values{}
	if orgID != "" {
		q.Set("orgId", orgID)
	}
	if len(skills) > 0 {
		q.Set("skills", strings.Join(skills, ","))
	}
	path := "/api/v1/staff/availability"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.Do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, fmt.Errorf("list available staff: %w", err)
	}
	list := resp.Get("staff")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: availability reply missing staff array", ErrInvalidResponse)
	}

	var out []types.StaffAvailability
	list.ForEach(func(_, entry gjson.Result) bool {
		a := types.StaffAvailability{
			StaffID: staffIDOf(entry),
			Status:  entry.Get("status").String(),
			OrgID:   entry.Get("orgId").String(),
		}
		for _, s := range entry.Get("skills").Array() {
			a.Skills = append(a.Skills, s.String())
		}
		out = append(out, a)
		return true
	})
	return out, nil
}

func staffIDOf(entry gjson.Result) string {
	for _, path := range []string{"staffId", "id", "userId"} {
		if v := entry.Get(path).String(); v != "" {
			return types.StaffIDFromEmail(v)
		}
	}
	return ""
}
