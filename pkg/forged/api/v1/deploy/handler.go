package api_v1_deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	api_v1 "github.com/appforge/forge/pkg/forged/api/v1"
	"github.com/appforge/forge/pkg/forged/deployment"
	"github.com/appforge/forge/pkg/forged/dispatch"
	"github.com/appforge/forge/pkg/forged/hosting"
	"github.com/appforge/forge/pkg/forged/logproxy"
	"github.com/appforge/forge/pkg/forged/middleware"
)

// Admitter deduplicates deployment requests and schedules pipeline runs.
type Admitter interface {
	Admit(ctx context.Context, request *deployment.Request, correlationID string) (*dispatch.Receipt, error)
}

type DeploymentHandler struct {
	Admitter Admitter
	Hosting  hosting.Client
	BaseURL  string
	Secret   string
}

type DeploymentResponse struct {
	Message            string `json:"message,omitempty"`
	CorrelationID      string `json:"correlationID,omitempty"`
	Task               string `json:"task,omitempty"`
	Round              int    `json:"round,omitempty"`
	Status             string `json:"status,omitempty"`
	RepositoryURL      string `json:"repositoryURL,omitempty"`
	PagesURL           string `json:"pagesURL,omitempty"`
	CommitSHA          string `json:"commitSHA,omitempty"`
	NotificationFailed bool   `json:"notificationFailed,omitempty"`
	LogURL             string `json:"logURL,omitempty"`
}

func (r *DeploymentResponse) render(w io.Writer) {
	json.NewEncoder(w).Encode(r)
}

func (h *DeploymentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var deploymentResponse DeploymentResponse

	fields := middleware.RequestLogFields(r)
	logger := log.WithFields(fields)

	requestID, err := uuid.NewRandom()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		deploymentResponse.Message = "unable to generate request id"
		deploymentResponse.render(w)
		logger.Errorf("%s: %s", deploymentResponse.Message, err)
		return
	}

	deploymentResponse.CorrelationID = requestID.String()
	deploymentResponse.LogURL = logproxy.MakeURL(h.BaseURL, requestID.String(), time.Now())
	logger = logger.WithFields(log.Fields{
		deployment.LogFieldCorrelationID: deploymentResponse.CorrelationID,
	})

	logger.Tracef("Incoming deployment request")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		deploymentResponse.Message = fmt.Sprintf("unable to read request body: %s", err)
		deploymentResponse.render(w)
		logger.Error(deploymentResponse.Message)
		return
	}

	deploymentRequest := &DeploymentRequest{}
	if err := json.Unmarshal(data, deploymentRequest); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		deploymentResponse.Message = fmt.Sprintf("unable to unmarshal request body: %s", err)
		deploymentResponse.render(w)
		logger.Error(deploymentResponse.Message)
		return
	}

	logger = logger.WithFields(log.Fields{
		deployment.LogFieldTask:  deploymentRequest.Task,
		deployment.LogFieldRound: deploymentRequest.Round,
		deployment.LogFieldNonce: deploymentRequest.Nonce,
	})

	logger.Tracef("Request has valid JSON")

	if err := api_v1.ValidateSecret(deploymentRequest.Secret, h.Secret); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		deploymentResponse.Message = api_v1.FailedAuthenticationMsg
		deploymentResponse.render(w)
		logger.Errorf("%s: %s", api_v1.FailedAuthenticationMsg, err)
		return
	}

	logger.Tracef("Pre-shared secret validated successfully")

	if err := deploymentRequest.Validate(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		deploymentResponse.Message = fmt.Sprintf("invalid deployment request: %s", err)
		deploymentResponse.render(w)
		logger.Error(deploymentResponse.Message)
		return
	}

	logger.Tracef("Request body validated successfully")

	receipt, err := h.Admitter.Admit(r.Context(), deploymentRequest.Request(), deploymentResponse.CorrelationID)
	if err != nil {
		if errors.Is(err, dispatch.ErrDeploymentInProgress) {
			w.WriteHeader(http.StatusConflict)
			deploymentResponse.Message = err.Error()
			deploymentResponse.render(w)
			logger.Infof("Deployment request rejected: %s", err)
			return
		}

		w.WriteHeader(http.StatusServiceUnavailable)
		deploymentResponse.Message = "database is unavailable; try again later"
		deploymentResponse.render(w)
		logger.Errorf("%s: %s", deploymentResponse.Message, err)
		return
	}

	record := receipt.Deployment
	repository := hosting.RepositoryName(record.Task)

	// A replayed request answers with the correlation ID of the run that
	// produced the recorded outcome, so the log URL points at its logs.
	if record.CorrelationID != deploymentResponse.CorrelationID {
		deploymentResponse.CorrelationID = record.CorrelationID
		deploymentResponse.LogURL = logproxy.MakeURL(h.BaseURL, record.CorrelationID, time.Now())
	}

	deploymentResponse.Task = record.Task
	deploymentResponse.Round = record.Round
	deploymentResponse.Status = string(record.Status)

	deploymentResponse.RepositoryURL = h.Hosting.RepositoryURL(repository)
	if record.RepositoryURL != nil {
		deploymentResponse.RepositoryURL = *record.RepositoryURL
	}
	deploymentResponse.PagesURL = h.Hosting.PagesURL(repository)
	if record.PagesURL != nil {
		deploymentResponse.PagesURL = *record.PagesURL
	}
	if record.CommitSHA != nil {
		deploymentResponse.CommitSHA = *record.CommitSHA
	}

	if receipt.Duplicate {
		deploymentResponse.Message = "deployment request was already processed; returning recorded outcome"
		deploymentResponse.NotificationFailed = record.NotificationFailed
		w.WriteHeader(http.StatusOK)
		deploymentResponse.render(w)
		logger.Info("Duplicate deployment request answered from recorded outcome")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	deploymentResponse.Message = "deployment request accepted and queued for processing"
	deploymentResponse.render(w)

	logger.Info("Deployment request processed successfully")
}
