package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/serviceerror"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultIdentityToolkitURL is the production Identity Toolkit endpoint.
const DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"

var identityToolkitScopes = []string{
	"https://www.googleapis.com/auth/identitytoolkit",
	"https://www.googleapis.com/auth/cloud-platform",
}

var errMissingProjectID = errors.New("users: firebase project id required")

// NewServiceAccountClient returns an HTTP client that authenticates as the
// service account in credentialsFile, or via application default credentials
// when the path is empty.
func NewServiceAccountClient(ctx context.Context, credentialsFile string) (*http.Client, error) {
	var credentials *google.Credentials
	if path := strings.TrimSpace(credentialsFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read firebase credentials: %w", err)
		}
		credentials, err = google.CredentialsFromJSON(ctx, data, identityToolkitScopes...)
		if err != nil {
			return nil, fmt.Errorf("parse firebase credentials: %w", err)
		}
	} else {
		var err error
		credentials, err = google.FindDefaultCredentials(ctx, identityToolkitScopes...)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
	}
	return oauth2.NewClient(ctx, credentials.TokenSource), nil
}

// FirebaseDirectoryConfig describes the Identity Toolkit directory.
type FirebaseDirectoryConfig struct {
	ProjectID  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// FirebaseDirectory lists Firebase Authentication users through the
// Identity Toolkit accounts:batchGet API.
type FirebaseDirectory struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewFirebaseDirectory constructs a FirebaseDirectory.
func NewFirebaseDirectory(cfg FirebaseDirectoryConfig) (*FirebaseDirectory, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultIdentityToolkitURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseDirectory{
		endpoint: baseURL + "/v1/projects/" + url.PathEscape(projectID) + "/accounts:batchGet",
		client:   client,
		logger:   logger,
	}, nil
}

type batchGetResponse struct {
	Users         []firebaseAccount `json:"users"`
	NextPageToken string            `json:"nextPageToken"`
}

type firebaseAccount struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
	CreatedAt   string `json:"createdAt"`
	LastLoginAt string `json:"lastLoginAt"`
}

// ListUsers pages through accounts until limit users are collected.
func (d *FirebaseDirectory) ListUsers(ctx context.Context, limit int) ([]ProviderUser, error) {
	limit = clampLimit(limit)
	result := make([]ProviderUser, 0)
	pageToken := ""
	for len(result) < limit {
		page, err := d.fetchPage(ctx, limit-len(result), pageToken)
		if err != nil {
			d.logger.Error("identity toolkit listing failed", zap.Error(err))
			return nil, serviceerror.New("users.firebase_list", "request_failed", err)
		}
		for _, account := range page.Users {
			result = append(result, account.toProviderUser())
			if len(result) == limit {
				break
			}
		}
		if page.NextPageToken == "" || len(page.Users) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	return result, nil
}

func (d *FirebaseDirectory) fetchPage(ctx context.Context, maxResults int, pageToken string) (batchGetResponse, error) {
	query := url.Values{}
	query.Set("maxResults", strconv.Itoa(maxResults))
	if pageToken != "" {
		query.Set("nextPageToken", pageToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return batchGetResponse{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return batchGetResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return batchGetResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var page batchGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return batchGetResponse{}, fmt.Errorf("decode accounts: %w", err)
	}
	return page, nil
}

func (a firebaseAccount) toProviderUser() ProviderUser {
	return ProviderUser{
		UID:          a.LocalID,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		PhotoURL:     a.PhotoURL,
		CreatedAt:    parseMillis(a.CreatedAt),
		LastSignInAt: parseMillis(a.LastLoginAt),
	}
}

func parseMillis(value string) time.Time {
	millis, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}
