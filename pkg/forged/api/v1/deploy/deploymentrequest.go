package api_v1_deploy

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/appforge/forge/pkg/forged/deployment"
)

// Task identifiers become repository names; the charset is restricted
// accordingly.
const maxTaskLength = 100

var taskPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// DeploymentRequest is the wire format accepted by the deployment
// endpoint. The pre-shared secret travels in the body, not in a header.
type DeploymentRequest struct {
	Email         string       `json:"email"`
	Secret        string       `json:"secret"`
	Task          string       `json:"task"`
	Round         int          `json:"round"`
	Nonce         string       `json:"nonce"`
	Brief         string       `json:"brief"`
	Checks        []string     `json:"checks,omitempty"`
	EvaluationURL string       `json:"evaluation_url,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (r *DeploymentRequest) Validate() error {
	if len(r.Email) == 0 {
		return fmt.Errorf("no email specified")
	}

	if len(r.Task) == 0 {
		return fmt.Errorf("no task specified")
	}

	if len(r.Task) > maxTaskLength {
		return fmt.Errorf("task name exceeds %d characters", maxTaskLength)
	}

	if !taskPattern.MatchString(r.Task) {
		return fmt.Errorf("task name contains illegal characters")
	}

	if r.Round < 1 {
		return fmt.Errorf("round must be a positive number")
	}

	if len(r.Nonce) == 0 {
		return fmt.Errorf("no nonce specified")
	}

	if len(r.Brief) == 0 {
		return fmt.Errorf("no brief specified")
	}

	if len(r.EvaluationURL) > 0 {
		u, err := url.Parse(r.EvaluationURL)
		if err != nil || len(u.Host) == 0 || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("evaluation_url must be an absolute http(s) URL")
		}
	}

	seen := make(map[string]bool)
	for _, attachment := range r.Attachments {
		if len(attachment.Name) == 0 {
			return fmt.Errorf("attachment without a name")
		}
		if len(attachment.URL) == 0 {
			return fmt.Errorf("attachment '%s' has no data", attachment.Name)
		}
		if seen[attachment.Name] {
			return fmt.Errorf("duplicate attachment name '%s'", attachment.Name)
		}
		seen[attachment.Name] = true
	}

	return nil
}

// Request converts the wire format to the internal form, stripping the
// pre-shared secret.
func (r *DeploymentRequest) Request() *deployment.Request {
	attachments := make([]deployment.Attachment, len(r.Attachments))
	for i, attachment := range r.Attachments {
		attachments[i] = deployment.Attachment{
			Name: attachment.Name,
			URL:  attachment.URL,
		}
	}

	return &deployment.Request{
		Email:         r.Email,
		Task:          r.Task,
		Round:         r.Round,
		Nonce:         r.Nonce,
		Brief:         r.Brief,
		Checks:        r.Checks,
		EvaluationURL: r.EvaluationURL,
		Attachments:   attachments,
	}
}
