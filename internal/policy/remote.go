package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/config"
	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// Remote delegates the acceptance decision to an external policy service.
// The authenticated principal is posted as JSON and the response status
// code carries the verdict; any 2xx accepts, specific codes map to
// account-state causes and everything else is a generic failure.
type Remote struct {
	endpoint string
	username string
	password string
	headers  map[string]string
	client   *http.Client
	logger   *logrus.Logger
}

// NewRemote builds the remote policy from configuration.
func NewRemote(cfg *config.PolicyConfig, logger *logrus.Logger) *Remote {
	headers := make(map[string]string)
	for _, spec := range cfg.RemoteHeaders {
		if name, value, found := strings.Cut(spec, "="); found {
			headers[name] = value
		}
	}
	return &Remote{
		endpoint: cfg.RemoteURL,
		username: cfg.RemoteBasicAuthUser,
		password: cfg.RemoteBasicAuthPassword,
		headers:  headers,
		client:   &http.Client{Timeout: cfg.RemoteTimeout},
		logger:   logger,
	}
}

// Name implements Policy.
func (*Remote) Name() string { return "remote" }

// remotePayload is the request body posted to the policy service.
type remotePayload struct {
	Principal  string              `json:"principal"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Evaluate implements Policy. Transport failures surface as evaluation
// errors, never as rejections: an unreachable policy service must not
// read as a locked account.
func (r *Remote) Evaluate(ctx context.Context, authn *ticket.Authentication) (Result, error) {
	body, err := json.Marshal(remotePayload{
		Principal:  authn.Principal.ID,
		Attributes: authn.Principal.Attributes,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal policy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.username != "" {
		req.SetBasicAuth(r.username, r.password)
	}
	for name, value := range r.headers {
		req.Header.Set(name, value)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("policy service unreachable: %w", err)
	}
	defer resp.Body.Close()

	res := resultForStatus(resp.StatusCode)
	if !res.Satisfied {
		r.logger.WithFields(logrus.Fields{
			"principal": authn.Principal.ID,
			"status":    resp.StatusCode,
			"cause":     string(res.Cause),
		}).Info("Remote policy rejected authentication")
	}
	return res, nil
}

// resultForStatus maps the policy service's response code to a verdict.
func resultForStatus(status int) Result {
	if status >= 200 && status < 300 {
		return satisfied()
	}
	switch status {
	case http.StatusForbidden, http.StatusMethodNotAllowed:
		return unsatisfied(CauseAccountDisabled, "policy service reports account disabled")
	case http.StatusUnauthorized:
		return unsatisfied(CauseFailedLogin, "policy service rejected the login")
	case http.StatusNotFound:
		return unsatisfied(CauseAccountNotFound, "policy service does not know the principal")
	case http.StatusLocked:
		return unsatisfied(CauseAccountLocked, "policy service reports account locked")
	case http.StatusPreconditionFailed:
		return unsatisfied(CauseAccountExpired, "policy service reports account expired")
	case http.StatusPreconditionRequired:
		return unsatisfied(CauseMustChangePassword, "policy service requires a password change")
	default:
		return unsatisfied(CauseFailedLogin,
			fmt.Sprintf("policy service returned unexpected status %d", status))
	}
}
