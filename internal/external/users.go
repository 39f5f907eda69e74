package external

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
)

// UserDirectory answers whether an account holder exists. The wallet never
// creates users; it only refuses to move money for ids the platform does not
// know.
type UserDirectory interface {
	Exists(ctx context.Context, user models.UserID) (bool, error)
}

type httpUserDirectory struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logrus.Logger
}

// NewHTTPUserDirectory builds a UserDirectory over the users API.
func NewHTTPUserDirectory(cfg config.ExternalConfig, log *logrus.Logger) UserDirectory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpUserDirectory{
		baseURL: cfg.UsersAPIURL,
		apiKey:  cfg.UsersAPIKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (d *httpUserDirectory) Exists(ctx context.Context, user models.UserID) (bool, error) {
	if user.IsAdmin() {
		return true, nil
	}
	url := fmt.Sprintf("%s/api/users/%s", d.baseURL, user)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create users request: %w", err)
	}
	if d.apiKey != "" {
		req.Header.Set("X-API-Key", d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("users API unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		d.log.WithFields(logrus.Fields{
			"user":   user,
			"status": resp.StatusCode,
		}).Warn("Unexpected status from users API")
		return false, fmt.Errorf("users API returned status %d", resp.StatusCode)
	}
}

// StaticUserDirectory accepts a fixed set of users, or every user when the
// set is empty. Used in sandbox mode and tests.
type StaticUserDirectory struct {
	Known map[models.UserID]bool
}

func (d *StaticUserDirectory) Exists(_ context.Context, user models.UserID) (bool, error) {
	if user.IsAdmin() {
		return true, nil
	}
	if len(d.Known) == 0 {
		return true, nil
	}
	return d.Known[user], nil
}
