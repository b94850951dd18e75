package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	googleOAuth "golang.org/x/oauth2/google"

	"github.com/sumire/bugtracker/internal/domain"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"
)

// OAuthConfig holds OAuth client settings. A provider with an empty client
// ID is disabled.
type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	BaseURL            string
}

// providerInfo is the account a provider vouches for.
type providerInfo struct {
	ID    string
	Email string
	Name  string
}

type oauthProvider struct {
	config   *oauth2.Config
	userInfo func(ctx context.Context, client *http.Client) (*providerInfo, error)
}

// OAuthService signs users in with Google or GitHub.
type OAuthService struct {
	users     UserStore
	tx        TxRunner
	providers map[domain.AuthProvider]*oauthProvider
}

// NewOAuthService creates a new OAuthService with the configured providers.
func NewOAuthService(users UserStore, tx TxRunner, cfg OAuthConfig) *OAuthService {
	s := &OAuthService{users: users, tx: tx, providers: make(map[domain.AuthProvider]*oauthProvider)}
	base := strings.TrimRight(cfg.BaseURL, "/")

	if cfg.GoogleClientID != "" {
		s.providers[domain.AuthProviderGoogle] = &oauthProvider{
			config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     googleOAuth.Endpoint,
				Scopes:       []string{"openid", "profile", "email"},
				RedirectURL:  base + "/auth/google/callback",
			},
			userInfo: fetchGoogleUserInfo(googleUserInfoURL),
		}
	}
	if cfg.GitHubClientID != "" {
		s.providers[domain.AuthProviderGitHub] = &oauthProvider{
			config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				Endpoint:     github.Endpoint,
				Scopes:       []string{"user:email"},
				RedirectURL:  base + "/auth/github/callback",
			},
			userInfo: fetchGitHubUserInfo(githubUserURL, githubEmailsURL),
		}
	}
	return s
}

// Enabled reports whether provider is configured.
func (s *OAuthService) Enabled(provider domain.AuthProvider) bool {
	_, ok := s.providers[provider]
	return ok
}

// AuthURL returns the provider's consent page URL.
func (s *OAuthService) AuthURL(provider domain.AuthProvider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", domain.ErrNotFound
	}
	return p.config.AuthCodeURL(state), nil
}

// Callback exchanges the authorization code and returns the matching user.
// Unknown accounts are matched by e-mail, or registered as unassigned users.
func (s *OAuthService) Callback(ctx context.Context, provider domain.AuthProvider, code string) (*domain.User, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, domain.ErrNotFound
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s token exchange: %w", provider, err)
	}

	info, err := p.userInfo(ctx, p.config.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("fetch %s user info: %w", provider, err)
	}

	return s.resolveUser(ctx, provider, info)
}

func (s *OAuthService) resolveUser(ctx context.Context, provider domain.AuthProvider, info *providerInfo) (*domain.User, error) {
	user, err := s.users.FindByIdentity(ctx, provider, info.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if info.Email == "" {
		return nil, fmt.Errorf("%w: %s account has no e-mail", domain.ErrInvalidInput, provider)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.users.FindByEmail(ctx, info.Email)
		switch {
		case err == nil:
			user = existing
		case errors.Is(err, domain.ErrNotFound):
			name := info.Name
			if name == "" {
				name = info.Email
			}
			user, err = s.users.Create(ctx, domain.User{Name: clampName(name), Role: domain.RoleUnassigned, Email: info.Email})
			if err != nil {
				return err
			}
		default:
			return err
		}
		return s.users.LinkIdentity(ctx, user.ID, provider, info.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("link %s account: %w", provider, err)
	}
	return user, nil
}

type googleUserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func fetchGoogleUserInfo(url string) func(context.Context, *http.Client) (*providerInfo, error) {
	return func(ctx context.Context, client *http.Client) (*providerInfo, error) {
		var info googleUserInfo
		if err := getJSON(ctx, client, url, &info); err != nil {
			return nil, err
		}
		return &providerInfo{ID: info.ID, Email: info.Email, Name: info.Name}, nil
	}
}

type githubUserInfo struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func fetchGitHubUserInfo(userURL, emailsURL string) func(context.Context, *http.Client) (*providerInfo, error) {
	return func(ctx context.Context, client *http.Client) (*providerInfo, error) {
		var info githubUserInfo
		if err := getJSON(ctx, client, userURL, &info); err != nil {
			return nil, err
		}

		if info.Email == "" {
			var emails []githubEmail
			if err := getJSON(ctx, client, emailsURL, &emails); err != nil {
				return nil, err
			}
			info.Email = primaryEmail(emails)
		}

		name := info.Name
		if name == "" {
			name = info.Login
		}
		return &providerInfo{ID: strconv.FormatInt(info.ID, 10), Email: info.Email, Name: name}, nil
	}
}

func primaryEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// clampName cuts a provider supplied name to what a user row can hold.
func clampName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= domain.MaxUserNameLength {
		return name
	}
	return string([]rune(name)[:domain.MaxUserNameLength])
}
