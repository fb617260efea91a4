package restapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"callprobe/pkg/types"
)

// UpdateTimetable replaces a faculty member's timetable for one semester
func (c *Client) UpdateTimetable(ctx context.Context, token, facultyID string, tt types.Timetable) (*types.Timetable, error) {
	resp, err := c.Do(ctx, http.MethodPatch, "/api/timetables/"+url.PathEscape(facultyID), token, tt)
	if err != nil {
		return nil, fmt.Errorf("update timetable %s: %w", facultyID, err)
	}

	// The reply is either {success, timetable} or the timetable itself
	path := ""
	if resp.Get("timetable").IsObject() {
		path = "timetable"
	}
	var out types.Timetable
	if err := resp.Decode(path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTimetable fetches a faculty member's timetable for a semester
func (c *Client) GetTimetable(ctx context.Context, token, facultyID, semester string) (*types.Timetable, error) {
	path := "/api/timetables/" + url.PathEscape(facultyID) + "/" + url.PathEscape(semester)
	resp, err := c.Do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, fmt.Errorf("get timetable %s/%s: %w", facultyID, semester, err)
	}
	var out types.Timetable
	if err := resp.Decode("", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
