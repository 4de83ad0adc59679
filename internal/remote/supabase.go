package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"subtrack/internal/models"
)

// Supabase talks to a hosted Supabase-style backend: GoTrue auth endpoints,
// a PostgREST data plane, and a websocket feed for auth state changes.
//
// One instance is created per process and shared by the session manager and
// the subscription store.
type Supabase struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger

	mu      sync.Mutex
	session *models.Session
}

// NewSupabase creates a client for the backend at baseURL. apiKey is the
// public (anon) key sent with every request.
func NewSupabase(baseURL, apiKey string, log *slog.Logger) *Supabase {
	return &Supabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// SetSession seeds the client with stored credentials, e.g. tokens restored
// from an earlier run.
func (c *Supabase) SetSession(s *models.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Supabase) currentSession() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// GetSession validates the stored credentials against the auth backend and
// returns the session, or nil when no credentials are stored.
func (c *Supabase) GetSession(ctx context.Context) (*models.Session, error) {
	sess := c.currentSession()
	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiresAt.IsZero() && time.Now().After(sess.ExpiresAt) {
		return c.RefreshSession(ctx)
	}

	var user models.User
	if err := c.authCall(ctx, http.MethodGet, "/auth/v1/user", nil, sess.AccessToken, &user); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent sign-out may have dropped the session while the
	// validation call was in flight.
	if c.session == nil {
		return nil, nil
	}
	c.session.User = user
	out := *c.session
	return &out, nil
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	User         models.User `json:"user"`
}

// RefreshSession exchanges the refresh token for a new session.
func (c *Supabase) RefreshSession(ctx context.Context) (*models.Session, error) {
	sess := c.currentSession()
	if sess == nil || sess.RefreshToken == "" {
		return nil, &Error{Kind: KindValidation, Message: "no refresh token"}
	}

	body := map[string]string{"refresh_token": sess.RefreshToken}
	var tok tokenResponse
	err := c.authCall(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", body, "", &tok)
	if err != nil {
		return nil, err
	}

	next := &models.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		User:         tok.User,
	}
	c.SetSession(next)
	out := *next
	return &out, nil
}

// SignOut revokes the session on the backend and drops stored credentials.
func (c *Supabase) SignOut(ctx context.Context) error {
	sess := c.currentSession()
	if sess == nil {
		return nil
	}
	if err := c.authCall(ctx, http.MethodPost, "/auth/v1/logout", nil, sess.AccessToken, nil); err != nil {
		return err
	}
	c.SetSession(nil)
	return nil
}

// Select queries table rows matching filter, optionally ordered.
func (c *Supabase) Select(ctx context.Context, table string, filter Filter, order *Order) ([]json.RawMessage, error) {
	q := url.Values{"select": {"*"}}
	applyFilter(q, filter)
	if order != nil {
		dir := "asc"
		if order.Descending {
			dir = "desc"
		}
		q.Set("order", order.Column+"."+dir)
	}
	return c.restCall(ctx, http.MethodGet, table, q, nil)
}

// Insert writes record into table. The returned rows may be empty on success
// when row-visibility policy blocks reading the inserted row back.
func (c *Supabase) Insert(ctx context.Context, table string, record any) ([]json.RawMessage, error) {
	return c.restCall(ctx, http.MethodPost, table, url.Values{}, record)
}

// Update patches rows matching filter.
func (c *Supabase) Update(ctx context.Context, table string, filter Filter, patch any) ([]json.RawMessage, error) {
	q := url.Values{}
	applyFilter(q, filter)
	return c.restCall(ctx, http.MethodPatch, table, q, patch)
}

// Delete removes rows matching filter. Returns ErrNoRows when nothing
// matched.
func (c *Supabase) Delete(ctx context.Context, table string, filter Filter) error {
	q := url.Values{}
	applyFilter(q, filter)
	rows, err := c.restCall(ctx, http.MethodDelete, table, q, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNoRows
	}
	return nil
}

func applyFilter(q url.Values, filter Filter) {
	for col, val := range filter {
		q.Set(col, "eq."+val)
	}
}

// restErrorBody is the PostgREST error envelope.
type restErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (c *Supabase) restCall(ctx context.Context, method, table string, q url.Values, body any) ([]json.RawMessage, error) {
	endpoint := c.baseURL + "/rest/v1/" + table
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: err.Error()}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error()}
	}
	c.setHeaders(req)
	// Ask the backend to return affected rows so callers can merge them.
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		var restErr restErrorBody
		_ = json.Unmarshal(raw, &restErr)
		msg := restErr.Message
		if msg == "" {
			msg = fmt.Sprintf("%s %s: %s", method, table, resp.Status)
		}
		return nil, &Error{
			Kind:    classifyCode(restErr.Code, resp.StatusCode),
			Code:    restErr.Code,
			Message: msg,
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "malformed response: " + err.Error()}
	}
	return rows, nil
}

func (c *Supabase) authCall(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Message: err.Error()}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindValidation, Message: err.Error()}
	}
	c.setHeaders(req)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		var restErr restErrorBody
		_ = json.Unmarshal(raw, &restErr)
		msg := restErr.Message
		if msg == "" {
			msg = fmt.Sprintf("%s %s: %s", method, path, resp.Status)
		}
		return &Error{
			Kind:    classifyCode(restErr.Code, resp.StatusCode),
			Code:    restErr.Code,
			Message: msg,
		}
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Kind: KindValidation, Message: "malformed response: " + err.Error()}
		}
	}
	return nil
}

func (c *Supabase) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("Authorization") == "" {
		if sess := c.currentSession(); sess != nil {
			req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		}
	}
}
