package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/linkedin-scheduler/configs"
	"github.com/maheshrc27/linkedin-scheduler/internal/metrics"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"
	"golang.org/x/time/rate"
)

const (
	defaultLinkedInAPIBaseURL = "https://api.linkedin.com/v2"
	restliProtocolVersion     = "2.0.0"
	maxResponseBody           = 1 << 20
)

var linkedInScopes = []string{"openid", "profile", "email", "w_member_social"}

// Share is the content of one LinkedIn post.
type Share struct {
	Content  string
	ImageURL string
}

// LinkedInService talks to the LinkedIn OAuth and REST endpoints. It holds no
// user state; tokens are passed in by the caller.
type LinkedInService interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, accessToken string) (*transfer.LinkedInUserInfo, error)
	PublishShare(ctx context.Context, accessToken, memberURN string, share Share) (string, error)
	SocialActions(ctx context.Context, accessToken, postURN string) (*models.EngagementMetrics, error)
}

type linkedInService struct {
	oauth   *oauth2.Config
	baseURL string
	client  *http.Client
	metrics metrics.MetricsCollector
}

func NewLinkedInService(cfg config.LinkedIn, m metrics.MetricsCollector) LinkedInService {
	endpoint := linkedin.Endpoint
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultLinkedInAPIBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	if m == nil {
		m = metrics.Nop{}
	}

	return &linkedInService{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       linkedInScopes,
			Endpoint:     endpoint,
		},
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &limitedTransport{
				base:    http.DefaultTransport,
				limiter: rate.NewLimiter(limit, 1),
			},
		},
		metrics: m,
	}
}

// limitedTransport waits on the limiter before every outbound request.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

func (s *linkedInService) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

func (s *linkedInService) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

func (s *linkedInService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code is empty", models.ErrValidation)
	}

	token, err := s.oauth.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return token, nil
}

// Refresh redeems refreshToken for a new access token. The returned token's
// RefreshToken is empty when LinkedIn did not rotate it, and Expiry is zero
// when the response carried no expires_in.
func (s *linkedInService) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("no refresh token")
	}

	src := s.oauth.TokenSource(s.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	if token.RefreshToken == refreshToken {
		token.RefreshToken = ""
	}
	return token, nil
}

func (s *linkedInService) UserInfo(ctx context.Context, accessToken string) (*transfer.LinkedInUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()
	s.metrics.RecordHTTPStatus(resp.StatusCode)

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, body)
	}

	var info transfer.LinkedInUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, errors.New("userinfo response has no subject")
	}
	return &info, nil
}

// PublishShare posts share as memberURN. Every failure is a
// *models.PublishError; StatusCode is 0 when no response arrived.
func (s *linkedInService) PublishShare(ctx context.Context, accessToken, memberURN string, share Share) (string, error) {
	payload := transfer.UGCPostRequest{
		Author:         memberURN,
		LifecycleState: "PUBLISHED",
		SpecificContent: transfer.SpecificContent{
			ShareContent: transfer.ShareContent{
				ShareCommentary:    transfer.TextValue{Text: share.Content},
				ShareMediaCategory: "NONE",
			},
		},
		Visibility: transfer.Visibility{MemberNetworkVisibility: "PUBLIC"},
	}
	if share.ImageURL != "" {
		payload.SpecificContent.ShareContent.ShareMediaCategory = "IMAGE"
		payload.SpecificContent.ShareContent.Media = []transfer.ShareMedia{{
			Status:      "READY",
			Description: transfer.TextValue{Text: "Image for post"},
			Media:       share.ImageURL,
			Title:       transfer.TextValue{Text: "Image"},
		}}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", &models.PublishError{Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/ugcPosts", bytes.NewReader(data))
	if err != nil {
		return "", &models.PublishError{Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", restliProtocolVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &models.PublishError{Message: err.Error()}
	}
	defer resp.Body.Close()
	s.metrics.RecordHTTPStatus(resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &models.PublishError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &models.PublishError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var result transfer.UGCPostResponse
	if len(body) > 0 {
		_ = json.Unmarshal(body, &result)
	}
	if result.ID == "" {
		result.ID = resp.Header.Get("X-RestLi-Id")
	}
	if result.ID == "" {
		return "", &models.PublishError{
			StatusCode: resp.StatusCode,
			Message:    "response did not include a post id: " + string(body),
		}
	}
	return result.ID, nil
}

// SocialActions reads like and comment counts. A post LinkedIn no longer
// knows has zero engagement.
func (s *linkedInService) SocialActions(ctx context.Context, accessToken, postURN string) (*models.EngagementMetrics, error) {
	if !strings.HasPrefix(postURN, "urn:li:") {
		postURN = "urn:li:share:" + postURN
	}

	endpoint := s.baseURL + "/socialActions/" + url.PathEscape(postURN)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", restliProtocolVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("socialActions request failed: %w", err)
	}
	defer resp.Body.Close()
	s.metrics.RecordHTTPStatus(resp.StatusCode)

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &models.EngagementMetrics{}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch engagement metrics. Status: %d - %s", resp.StatusCode, body)
	}

	var result transfer.SocialActionsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode socialActions: %w", err)
	}

	comments := result.CommentsSummary.AggregatedTotalComments
	if comments == 0 {
		comments = result.CommentsSummary.TotalFirstLevelComments
	}
	return &models.EngagementMetrics{
		Likes:    result.LikesSummary.AggregatedTotalLikes,
		Comments: comments,
	}, nil
}
