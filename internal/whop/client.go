// Package whop is a typed client for the Whop platform APIs used by the app:
// identity and access, support channel messaging, memberships, and the app
// member directory.
package whop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/client"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.whop.com"

	// AppMembersPageSize is the page size of the app members listing.
	AppMembersPageSize = 50

	defaultTimeout = 30 * time.Second
	maxListPages   = 50
	maxErrorBody   = 1024
)

// Client calls the Whop REST API with an app API key.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client. The client is responsible for authentication.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client. Responses carrying cache headers are cached in memory.
func New(apiKey string, opts ...Option) *Client {
	cfg := client.DefaultConfig()
	cfg.Token = apiKey
	cfg.Timeout = defaultTimeout
	cfg.Cache = true

	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: client.New(cfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetUser fetches a user profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.get(ctx, "/api/v1/users/"+url.PathEscape(userID), nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, fmt.Errorf("user %s: response has no id", userID)
	}
	return &u, nil
}

// CheckAccess reports the user's access level to an experience or company.
func (c *Client) CheckAccess(ctx context.Context, resourceID, userID string) (*AccessCheck, error) {
	var ac AccessCheck
	path := fmt.Sprintf("/api/v1/users/%s/access/%s", url.PathEscape(userID), url.PathEscape(resourceID))
	if err := c.get(ctx, path, nil, &ac); err != nil {
		return nil, err
	}
	switch ac.AccessLevel {
	case AccessAdmin, AccessCustomer, AccessNone:
	case "":
		ac.AccessLevel = AccessNone
	default:
		return nil, fmt.Errorf("unknown access level %q", ac.AccessLevel)
	}
	return &ac, nil
}

// GetExperience fetches an experience and its owning company.
func (c *Client) GetExperience(ctx context.Context, experienceID string) (*Experience, error) {
	var e Experience
	if err := c.get(ctx, "/api/v1/experiences/"+url.PathEscape(experienceID), nil, &e); err != nil {
		return nil, err
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExperiences lists the experiences installed in a company.
func (c *Client) ListExperiences(ctx context.Context, companyID string) ([]Experience, error) {
	return listAll[Experience](ctx, c, "/api/v1/experiences", url.Values{"company_id": {companyID}})
}

// GetCompany fetches company metadata such as its public route.
func (c *Client) GetCompany(ctx context.Context, companyID string) (*Company, error) {
	var co Company
	if err := c.get(ctx, "/api/v1/companies/"+url.PathEscape(companyID), nil, &co); err != nil {
		return nil, err
	}
	return &co, nil
}

// ListSupportChannels returns every support channel of a company.
func (c *Client) ListSupportChannels(ctx context.Context, companyID string) ([]SupportChannel, error) {
	return listAll[SupportChannel](ctx, c, "/api/v1/support_channels", url.Values{"company_id": {companyID}})
}

// CreateSupportChannel opens a support channel with a user. A user who already
// has one yields an error wrapping ErrUserAlreadyHasChannel.
func (c *Client) CreateSupportChannel(ctx context.Context, companyID, userID string) (*SupportChannel, error) {
	var ch SupportChannel
	err := c.send(ctx, http.MethodPost, "/api/v1/support_channels", map[string]string{
		"company_id": companyID,
		"user_id":    userID,
	}, &ch)
	if err != nil {
		if isAlreadyHasChannel(err) {
			return nil, fmt.Errorf("%w: %w", ErrUserAlreadyHasChannel, err)
		}
		return nil, err
	}
	return &ch, nil
}

// SendMessage posts content to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (*Message, error) {
	var m Message
	err := c.send(ctx, http.MethodPost, "/api/v1/messages", map[string]string{
		"channel_id": channelID,
		"content":    content,
	}, &m)
	if err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, ErrMissingMessageID
	}
	return &m, nil
}

// SendDirectMessage sends a direct message to a user on behalf of a company.
func (c *Client) SendDirectMessage(ctx context.Context, companyID, toUserID, content string) (*Message, error) {
	var m Message
	err := c.send(ctx, http.MethodPost, "/api/v1/direct_messages", map[string]string{
		"company_id": companyID,
		"to_user_id": toUserID,
		"content":    content,
	}, &m)
	if err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, ErrMissingMessageID
	}
	return &m, nil
}

// ListMemberships lists memberships matching q.
func (c *Client) ListMemberships(ctx context.Context, q MembershipQuery) ([]Membership, error) {
	v := url.Values{}
	if q.CompanyID != "" {
		v.Set("company_id", q.CompanyID)
	}
	for _, id := range q.UserIDs {
		v.Add("user_ids", id)
	}
	for _, id := range q.PlanIDs {
		v.Add("plan_ids", id)
	}
	return listAll[Membership](ctx, c, "/api/v1/memberships", v)
}

// CancelMembership cancels a membership at the end of its period.
func (c *Client) CancelMembership(ctx context.Context, membershipID string) (*Membership, error) {
	var m Membership
	if err := c.send(ctx, http.MethodPost, "/api/v1/memberships/"+url.PathEscape(membershipID)+"/cancel", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListAppMembers fetches one page (1-based) of the app member directory.
func (c *Client) ListAppMembers(ctx context.Context, companyID string, page int) (*AppMembersPage, error) {
	var p AppMembersPage
	q := url.Values{
		"company_id": {companyID},
		"page":       {strconv.Itoa(page)},
		"per":        {strconv.Itoa(AppMembersPageSize)},
	}
	if err := c.get(ctx, "/v5/app/members", q, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListAllAppMembers walks every page of the app member directory and returns
// the members with the reported total count.
func (c *Client) ListAllAppMembers(ctx context.Context, companyID string) ([]AppMember, int, error) {
	var members []AppMember
	total := 0
	for page := 1; page <= maxListPages; page++ {
		p, err := c.ListAppMembers(ctx, companyID, page)
		if err != nil {
			return nil, 0, err
		}
		members = append(members, p.Data...)
		total = p.Pagination.TotalCount

		if p.Pagination.TotalPages <= page {
			break
		}
	}
	if total == 0 {
		total = len(members)
	}
	return members, total, nil
}

func listAll[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	var out []T
	cursor := ""
	for range maxListPages {
		pq := url.Values{}
		for k, v := range q {
			pq[k] = v
		}
		if cursor != "" {
			pq.Set("after", cursor)
		}

		var page listResponse[T]
		if err := c.get(ctx, path, pq, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)

		if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor == "" {
			return out, nil
		}
		cursor = page.PageInfo.EndCursor
	}
	log.Ctx(ctx).Warn().Str("path", path).Int("pages", maxListPages).Msg("Stopped paginating Whop listing")
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whop request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		log.Ctx(ctx).Warn().
			Int("status", apiErr.StatusCode).
			Str("method", method).
			Str("path", path).
			Str("error", apiErr.Message).
			Msg("Whop API error")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		if eb.Error != nil {
			apiErr.Code = eb.Error.Code
			if apiErr.Code == "" {
				apiErr.Code = eb.Error.Type
			}
			apiErr.Message = eb.Error.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = eb.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func isAlreadyHasChannel(err error) bool {
	code := StatusCode(err)
	if code < 400 || code >= 500 {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already") && strings.Contains(msg, "channel")
}
