package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ============================================================
// HTTP helpers for POST and PATCH
// ============================================================

// doPost inserts one row and returns the stored representation. A unique
// violation comes back as a 409 apiError.
func (c *Client) doPost(ctx context.Context, service, table string, data any) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, service, func() ([]byte, error) {
		return c.doRequest(ctx, http.MethodPost, table, bytes.NewReader(jsonBody), "return=representation")
	})
}

// doPatch updates the rows matched by path and returns them.
func (c *Client) doPatch(ctx context.Context, service, path string, data any) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, service, func() ([]byte, error) {
		return c.doRequest(ctx, http.MethodPatch, path, bytes.NewReader(jsonBody), "return=representation")
	})
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isConflict reports a PostgREST unique violation.
func isConflict(err error) bool {
	var api *apiError
	if !errors.As(err, &api) {
		return false
	}
	return api.Status == http.StatusConflict || strings.Contains(api.Body, `"23505"`)
}
