package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// CallProcedure invokes a PostgREST remote procedure and returns its raw
// JSON result.
func (c *Client) CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	var out json.RawMessage
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + name,
		body:   args,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRecord patches the row of table whose id matches.
func (c *Client) UpdateRecord(ctx context.Context, table, id string, fields map[string]any) error {
	return c.do(ctx, call{
		method:  http.MethodPatch,
		path:    "/rest/v1/" + table,
		query:   url.Values{"id": {"eq." + id}},
		body:    fields,
		headers: map[string]string{"Prefer": "return=minimal"},
	}, nil)
}
