package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/internal/extract"
	"github.com/hupe1980/agentstep/model"
)

const maxResponse = 8 << 20

func (f *Fetcher) fetchAPI(ctx context.Context, api *core.APISource, filter string) (*Data, error) {
	req, err := NewAPIRequest(ctx, api, filter)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &core.BackendError{Backend: "api", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("read api response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := model.ErrorMessage(body)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &core.BackendError{Backend: "api", Status: resp.StatusCode, Message: msg}
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "html"):
		return &Data{Source: core.SourceAPI, Content: extract.StripHTML(string(body))}, nil
	case strings.Contains(contentType, "json") || json.Valid(body):
		return &Data{Source: core.SourceAPI, Content: string(body), JSON: true}, nil
	default:
		return &Data{Source: core.SourceAPI, Content: string(body)}, nil
	}
}

// NewAPIRequest builds the HTTP request described by api. The filter is
// path-escaped in the URL, form-encoded in query parameters and
// JSON-escaped in the payload.
func NewAPIRequest(ctx context.Context, api *core.APISource, filter string) (*http.Request, error) {
	method := strings.ToUpper(api.Method)
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(strings.ReplaceAll(api.URL, core.FilterPlaceholder, url.PathEscape(filter)))
	if err != nil {
		return nil, core.NewConfigError("api source", fmt.Errorf("%w: url: %v", core.ErrInvalidArgument, err))
	}
	if len(api.Query) > 0 {
		q := u.Query()
		for k, v := range api.Query {
			q.Set(k, strings.ReplaceAll(v, core.FilterPlaceholder, filter))
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if api.Payload != "" {
		payload := strings.ReplaceAll(api.Payload, core.FilterPlaceholder, jsonEscape(filter))
		if !json.Valid([]byte(payload)) {
			return nil, core.NewConfigError("api source", fmt.Errorf("%w: payload is not valid JSON", core.ErrInvalidArgument))
		}
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, core.NewConfigError("api source", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}
	if err := authenticate(req, api); err != nil {
		return nil, err
	}
	return req, nil
}

func authenticate(req *http.Request, api *core.APISource) error {
	switch api.Auth {
	case core.AuthNone:
		return nil
	case core.AuthBearer, core.AuthAPIKey:
		if api.Token == "" {
			return core.NewConfigError("api source", fmt.Errorf("%w: %s auth requires a token", core.ErrMissingArgument, api.Auth))
		}
		scheme := "Bearer"
		if api.Auth == core.AuthAPIKey {
			scheme = "ApiKey"
		}
		req.Header.Set("Authorization", scheme+" "+api.Token)
	case core.AuthBasic:
		if api.User == "" || api.Password == "" {
			return core.NewConfigError("api source", fmt.Errorf("%w: basic auth requires user and password", core.ErrMissingArgument))
		}
		req.SetBasicAuth(api.User, api.Password)
	default:
		return core.NewConfigError("api source", fmt.Errorf("%w: auth type %q", core.ErrInvalidArgument, api.Auth))
	}
	return nil
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}
