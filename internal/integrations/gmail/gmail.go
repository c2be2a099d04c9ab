// Package gmail is a mailbox integration speaking the Gmail REST API. The
// session manager owns the OAuth lifecycle; the plugin only exchanges
// refresh tokens on demand and attaches the access token it is handed per
// call.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
	"quackcore/pkg/session"
)

// PluginName is the registry name of the gmail integration.
const PluginName = "gmail"

// Operation names exposed by the integration.
const (
	OpListMessages = "list_messages"
	OpGetMessage   = "get_message"
	OpSendMessage  = "send_message"
)

const (
	defaultAPIBase  = "https://gmail.googleapis.com/gmail/v1"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultPageSize = 100
)

// Plugin implements capability.Integration and capability.Authenticator.
type Plugin struct {
	apiBase      string
	tokenURL     string
	clientID     string
	clientSecret string
	userID       string
	pageSize     int
	httpClient   *http.Client
}

// New returns an unconfigured plugin instance, for use as a factory.
func New() capability.Instance { return &Plugin{} }

// Configure implements capability.Instance.
func (p *Plugin) Configure(cfg map[string]any) error {
	p.apiBase, _ = cfg["api_base"].(string)
	p.tokenURL, _ = cfg["token_url"].(string)
	p.clientID, _ = cfg["client_id"].(string)
	p.clientSecret, _ = cfg["client_secret"].(string)
	p.userID, _ = cfg["user_id"].(string)
	if size, ok := cfg["page_size"].(int); ok && size > 0 {
		p.pageSize = size
	}
	return nil
}

// Open implements capability.Instance.
func (p *Plugin) Open(_ context.Context) error {
	if p.clientID == "" || p.clientSecret == "" {
		return xerrors.New(xerrors.CodeInitializationFailure,
			"gmail integration requires client_id and client_secret")
	}
	if p.apiBase == "" {
		p.apiBase = defaultAPIBase
	}
	if p.tokenURL == "" {
		p.tokenURL = defaultTokenURL
	}
	if p.userID == "" {
		p.userID = "me"
	}
	if p.pageSize <= 0 {
		p.pageSize = defaultPageSize
	}
	p.httpClient = &http.Client{Timeout: 30 * time.Second}
	return nil
}

// Close implements capability.Instance.
func (p *Plugin) Close(_ context.Context) error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Operations implements capability.Integration. Sending is not idempotent;
// a retried send duplicates mail.
func (p *Plugin) Operations() []capability.Operation {
	return []capability.Operation{
		{Name: OpListMessages, Idempotent: true, Paginated: true},
		{Name: OpGetMessage, Idempotent: true},
		{Name: OpSendMessage, Idempotent: false},
	}
}

// Authenticate implements capability.Authenticator by exchanging the
// refresh token at the OAuth token endpoint.
func (p *Plugin) Authenticate(ctx context.Context, refreshToken string) (capability.Token, error) {
	if refreshToken == "" {
		return capability.Token{}, xerrors.New(xerrors.CodeAuthFailed,
			"gmail integration has no refresh token on file")
	}
	form := url.Values{
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return capability.Token{}, xerrors.Wrap(xerrors.CodeAuthFailed, err, "building token request failed")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return capability.Token{}, xerrors.Wrap(xerrors.CodeAuthFailed, err, "token exchange failed",
			xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return capability.Token{}, xerrors.New(xerrors.CodeAuthFailed,
			fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return capability.Token{}, xerrors.Wrap(xerrors.CodeAuthFailed, err, "decoding token response failed")
	}
	token := capability.Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if payload.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return token, nil
}

// Call implements capability.Integration.
func (p *Plugin) Call(ctx context.Context, op string, args map[string]any) (any, error) {
	switch op {
	case OpGetMessage:
		id, _ := args["id"].(string)
		if id == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "argument id must be a non-empty string")
		}
		var message map[string]any
		path := fmt.Sprintf("/users/%s/messages/%s", url.PathEscape(p.userID), url.PathEscape(id))
		if err := p.do(ctx, http.MethodGet, path, nil, nil, &message); err != nil {
			return nil, err
		}
		return message, nil

	case OpSendMessage:
		raw, err := encodeMessage(args)
		if err != nil {
			return nil, err
		}
		var sent map[string]any
		path := fmt.Sprintf("/users/%s/messages/send", url.PathEscape(p.userID))
		if err := p.do(ctx, http.MethodPost, path, nil, map[string]any{"raw": raw}, &sent); err != nil {
			return nil, err
		}
		return sent, nil

	case OpListMessages:
		page, err := p.listPage(ctx, args, "")
		if err != nil {
			return nil, err
		}
		return page, nil

	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("gmail integration does not expose operation %s", op))
	}
}

// Paginate implements capability.Integration.
func (p *Plugin) Paginate(_ context.Context, op string, args map[string]any) (capability.Pager, error) {
	if op != OpListMessages {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("gmail operation %s is not paginated", op))
	}
	return &messagePager{plugin: p, args: args}, nil
}

type messagePager struct {
	plugin *Plugin
	args   map[string]any
	next   string
	done   bool
}

func (m *messagePager) Next(ctx context.Context) (*capability.Page, error) {
	if m.done {
		return nil, nil
	}
	page, err := m.plugin.listPage(ctx, m.args, m.next)
	if err != nil {
		return nil, err
	}
	m.next = page.NextToken
	if m.next == "" {
		m.done = true
	}
	return page, nil
}

func (p *Plugin) listPage(ctx context.Context, args map[string]any, pageToken string) (*capability.Page, error) {
	query := url.Values{}
	query.Set("maxResults", fmt.Sprintf("%d", p.pageSize))
	if q, _ := args["query"].(string); q != "" {
		query.Set("q", q)
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	var payload struct {
		Messages []struct {
			ID       string `json:"id"`
			ThreadID string `json:"threadId"`
		} `json:"messages"`
		NextPageToken string `json:"nextPageToken"`
	}
	path := fmt.Sprintf("/users/%s/messages", url.PathEscape(p.userID))
	if err := p.do(ctx, http.MethodGet, path, query, nil, &payload); err != nil {
		return nil, err
	}

	items := make([]any, 0, len(payload.Messages))
	for _, message := range payload.Messages {
		items = append(items, map[string]any{"id": message.ID, "thread_id": message.ThreadID})
	}
	return &capability.Page{Items: items, NextToken: payload.NextPageToken}, nil
}

func (p *Plugin) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, ok := session.TokenFromContext(ctx)
	if !ok {
		return xerrors.New(xerrors.CodeAuthFailed, "no access token on the call context")
	}

	endpoint := p.apiBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encoding request body failed")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "building request failed")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePluginFault, err, "gmail request failed",
			xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return xerrors.New(xerrors.CodeAuthFailed, "gmail rejected the access token")
	case resp.StatusCode == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, "gmail throttled the request")
	case resp.StatusCode >= 500:
		return xerrors.New(xerrors.CodePluginFault,
			fmt.Sprintf("gmail returned %d", resp.StatusCode), xerrors.WithRetryable(true))
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("gmail returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodePluginFault, err, "decoding gmail response failed")
	}
	return nil
}

func encodeMessage(args map[string]any) (string, error) {
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" || subject == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			"arguments to and subject must be non-empty strings")
	}
	var message strings.Builder
	fmt.Fprintf(&message, "To: %s\r\n", to)
	fmt.Fprintf(&message, "Subject: %s\r\n", subject)
	message.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	message.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(message.String())), nil
}
