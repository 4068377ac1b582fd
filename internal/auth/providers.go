package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/geocoder89/authportal/internal/domain/user"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var ErrProviderEmailMissing = errors.New("provider did not return an email address")

// Profile is the provider account as seen after the code exchange.
type Profile struct {
	ID            string
	Email         string
	Name          string
	Image         string
	EmailVerified bool
}

// Provider adapts one OAuth 2 identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Profile, error)
}

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"
)

type oauthProvider struct {
	name    string
	cfg     *oauth2.Config
	profile func(ctx context.Context, client *http.Client) (Profile, error)
}

func (p *oauthProvider) Name() string { return p.name }

func (p *oauthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *oauthProvider) Exchange(ctx context.Context, code string) (Profile, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%s code exchange: %w", p.name, err)
	}

	prof, err := p.profile(ctx, p.cfg.Client(ctx, tok))
	if err != nil {
		return Profile{}, fmt.Errorf("%s profile: %w", p.name, err)
	}
	if prof.Email == "" {
		return Profile{}, ErrProviderEmailMissing
	}
	prof.Email = user.NormalizeEmail(prof.Email)
	return prof, nil
}

func NewGoogleProvider(c ProviderCredentials, redirectURL string) Provider {
	return &oauthProvider{
		name: user.ProviderGoogle,
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     endpoints.Google,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		profile: googleProfile,
	}
}

func NewGitHubProvider(c ProviderCredentials, redirectURL string) Provider {
	return &oauthProvider{
		name: user.ProviderGitHub,
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     endpoints.GitHub,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
		profile: githubProfile,
	}
}

func googleProfile(ctx context.Context, client *http.Client) (Profile, error) {
	var body struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(ctx, client, googleUserInfoURL, &body); err != nil {
		return Profile{}, err
	}

	return Profile{
		ID:            body.Sub,
		Email:         body.Email,
		Name:          body.Name,
		Image:         body.Picture,
		EmailVerified: body.EmailVerified,
	}, nil
}

func githubProfile(ctx context.Context, client *http.Client) (Profile, error) {
	var u struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, githubUserURL, &u); err != nil {
		return Profile{}, err
	}

	prof := Profile{
		ID:    strconv.FormatInt(u.ID, 10),
		Name:  u.Name,
		Email: u.Email,
		Image: u.AvatarURL,
	}
	if prof.Name == "" {
		prof.Name = u.Login
	}

	// the public profile email may be empty or unverified; prefer the primary
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, githubEmailsURL, &emails); err != nil {
		return Profile{}, err
	}
	for _, e := range emails {
		if e.Primary {
			prof.Email = e.Email
			prof.EmailVerified = e.Verified
			break
		}
	}
	return prof, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, b)
	}

	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
