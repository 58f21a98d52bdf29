// Package synapse is the store backend for the Synapse REST API.
package synapse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"synmigrate/internal/logger"
	"synmigrate/internal/store"
	"time"

	"github.com/imroc/req/v3"
	"go.uber.org/zap"
)

const (
	defaultRetryCount = 4
	defaultPartSize   = int64(8 * 1024 * 1024)
	minPartSize       = int64(5 * 1024 * 1024)
	maxParts          = 10000
)

const (
	typeProject   = "org.sagebionetworks.repo.model.Project"
	typeFolder    = "org.sagebionetworks.repo.model.Folder"
	typeFile      = "org.sagebionetworks.repo.model.FileEntity"
	typeUploadReq = "org.sagebionetworks.repo.model.file.MultipartUploadRequest"
	typeUploadSet = "org.sagebionetworks.repo.model.project.UploadDestinationListSetting"
)

// AdminAccess is the permission set granted to the admin team of a new project.
var AdminAccess = []string{
	"UPDATE", "DELETE", "CHANGE_PERMISSIONS", "CHANGE_SETTINGS",
	"CREATE", "DOWNLOAD", "READ", "MODERATE",
}

type Options struct {
	AuthEndpoint string
	RepoEndpoint string
	FileEndpoint string
	// RetryCount is the number of retries per request, 0 for the default and
	// negative for none.
	RetryCount int
	// PartSize of multipart uploads, raised to the 5MB minimum.
	PartSize int64
	// StorageLocationID is sent with uploads when set.
	StorageLocationID string
}

// APIError is the error body returned by every Synapse service.
type APIError struct {
	Status int    `json:"-"`
	Reason string `json:"reason"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("synapse api error: %d %s", e.Status, e.Reason)
}

// Client talks to the auth, repo and file services. It implements
// store.ProjectStore.
type Client struct {
	api   *req.Client
	parts *req.Client
	opts  Options

	mu     sync.RWMutex
	token  string
	userID string
}

var _ store.ProjectStore = (*Client)(nil)

func New(opts Options) *Client {
	switch {
	case opts.RetryCount == 0:
		opts.RetryCount = defaultRetryCount
	case opts.RetryCount < 0:
		opts.RetryCount = 0
	}
	if opts.PartSize <= 0 {
		opts.PartSize = defaultPartSize
	}
	if opts.PartSize < minPartSize {
		opts.PartSize = minPartSize
	}
	opts.AuthEndpoint = strings.TrimRight(opts.AuthEndpoint, "/")
	opts.RepoEndpoint = strings.TrimRight(opts.RepoEndpoint, "/")
	opts.FileEndpoint = strings.TrimRight(opts.FileEndpoint, "/")

	return &Client{
		api:   newHTTPClient(opts.RetryCount).SetCommonErrorResult(&APIError{}),
		parts: newHTTPClient(opts.RetryCount),
		opts:  opts,
	}
}

func newHTTPClient(retries int) *req.Client {
	return req.C().
		SetUserAgent("synmigrate").
		SetTimeout(10*time.Minute).
		SetCommonRetryCount(retries).
		SetCommonRetryBackoffInterval(1*time.Second, 5*time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		}).
		AddCommonRetryHook(func(resp *req.Response, err error) {
			logger.Log.Debug("retrying request", zap.Error(err))
		})
}

func (c *Client) r(ctx context.Context) *req.Request {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	r := c.api.R().SetContext(ctx)
	if token != "" {
		r.SetBearerAuthToken(token)
	}
	return r
}

// checkResponse maps transport failures and Synapse status codes onto store
// errors.
func checkResponse(resp *req.Response, err error, operation string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if !resp.IsErrorState() {
		return nil
	}

	apiErr, ok := resp.ErrorResult().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.Status = resp.StatusCode
	if apiErr.Reason == "" {
		apiErr.Reason = http.StatusText(resp.StatusCode)
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = store.ErrNotFound
	case http.StatusConflict:
		sentinel = store.ErrAlreadyExists
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = store.ErrAccessDenied
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(apiErr.Reason), "name") {
			sentinel = store.ErrInvalidName
		}
	}

	if sentinel != nil {
		return fmt.Errorf("%s: %w: %w", operation, sentinel, apiErr)
	}
	return fmt.Errorf("%s: %w", operation, apiErr)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

type userProfile struct {
	OwnerID  string `json:"ownerId"`
	UserName string `json:"userName"`
}

// Login authenticates with a personal access token when one is given,
// otherwise with username and password.
func (c *Client) Login(ctx context.Context, creds store.Credentials) error {
	token := creds.AuthToken
	if token == "" {
		if creds.Username == "" || creds.Password == "" {
			return &store.AuthenticationError{User: creds.Username, Err: errors.New("missing credentials")}
		}

		var out loginResponse
		resp, err := c.api.R().
			SetContext(ctx).
			SetBody(&loginRequest{Username: creds.Username, Password: creds.Password}).
			SetSuccessResult(&out).
			Post(c.opts.AuthEndpoint + "/login2")
		if err := checkResponse(resp, err, "login"); err != nil {
			return &store.AuthenticationError{User: creds.Username, Err: err}
		}
		token = out.AccessToken
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	var profile userProfile
	resp, err := c.r(ctx).SetSuccessResult(&profile).Get(c.opts.RepoEndpoint + "/userProfile")
	if err := checkResponse(resp, err, "get user profile"); err != nil {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return &store.AuthenticationError{User: creds.Username, Err: err}
	}

	c.mu.Lock()
	c.userID = profile.OwnerID
	c.mu.Unlock()

	logger.Log.Info("logged in to synapse", zap.String("user", profile.UserName), zap.String("owner_id", profile.OwnerID))
	return nil
}

// UserID is the owner id of the logged in user.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}
