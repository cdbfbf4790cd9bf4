package api_v1_status

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	api_v1 "github.com/appforge/forge/pkg/forged/api/v1"
	"github.com/appforge/forge/pkg/forged/database"
	"github.com/appforge/forge/pkg/forged/deployment"
	"github.com/appforge/forge/pkg/forged/middleware"
)

type StatusHandler struct {
	Store  database.DeploymentStore
	Secret string
}

type StatusRequest struct {
	Secret string `json:"secret"`
	Task   string `json:"task"`
	Round  int    `json:"round"`
}

type StatusResponse struct {
	Message            string     `json:"message,omitempty"`
	Task               string     `json:"task,omitempty"`
	Round              int        `json:"round,omitempty"`
	Status             string     `json:"status,omitempty"`
	RepositoryURL      string     `json:"repositoryURL,omitempty"`
	PagesURL           string     `json:"pagesURL,omitempty"`
	CommitSHA          string     `json:"commitSHA,omitempty"`
	FailureKind        string     `json:"failureKind,omitempty"`
	LastError          string     `json:"lastError,omitempty"`
	AttemptCount       int        `json:"attemptCount,omitempty"`
	NotificationFailed bool       `json:"notificationFailed,omitempty"`
	Created            *time.Time `json:"created,omitempty"`
	Updated            *time.Time `json:"updated,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

func (r *StatusResponse) render(w io.Writer) {
	json.NewEncoder(w).Encode(r)
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var statusResponse StatusResponse

	fields := middleware.RequestLogFields(r)
	logger := log.WithFields(fields)

	logger.Tracef("Incoming status request")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		statusResponse.Message = fmt.Sprintf("unable to read request body: %s", err)
		statusResponse.render(w)
		logger.Error(statusResponse.Message)
		return
	}

	statusRequest := &StatusRequest{}
	if err := json.Unmarshal(data, statusRequest); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		statusResponse.Message = fmt.Sprintf("unable to unmarshal request body: %s", err)
		statusResponse.render(w)
		logger.Error(statusResponse.Message)
		return
	}

	logger = logger.WithFields(log.Fields{
		deployment.LogFieldTask:  statusRequest.Task,
		deployment.LogFieldRound: statusRequest.Round,
	})

	if err := api_v1.ValidateSecret(statusRequest.Secret, h.Secret); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		statusResponse.Message = api_v1.FailedAuthenticationMsg
		statusResponse.render(w)
		logger.Errorf("%s: %s", api_v1.FailedAuthenticationMsg, err)
		return
	}

	if len(statusRequest.Task) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		statusResponse.Message = "no task specified"
		statusResponse.render(w)
		logger.Error(statusResponse.Message)
		return
	}

	if statusRequest.Round < 1 {
		w.WriteHeader(http.StatusBadRequest)
		statusResponse.Message = "round must be a positive number"
		statusResponse.render(w)
		logger.Error(statusResponse.Message)
		return
	}

	record, err := h.Store.Deployment(r.Context(), statusRequest.Task, statusRequest.Round)
	if err != nil {
		if database.IsErrNotFound(err) {
			w.WriteHeader(http.StatusNotFound)
			statusResponse.Message = "no deployment recorded for this task and round"
			statusResponse.render(w)
			logger.Infof("Status request for unknown deployment")
			return
		}

		w.WriteHeader(http.StatusServiceUnavailable)
		statusResponse.Message = "database is unavailable; try again later"
		statusResponse.render(w)
		logger.Errorf("%s: %s", statusResponse.Message, err)
		return
	}

	statusResponse.Task = record.Task
	statusResponse.Round = record.Round
	statusResponse.Status = string(record.Status)
	statusResponse.FailureKind = record.FailureKind
	statusResponse.AttemptCount = record.AttemptCount
	statusResponse.NotificationFailed = record.NotificationFailed
	statusResponse.Created = &record.Created
	statusResponse.Updated = &record.Updated
	statusResponse.CompletedAt = record.CompletedAt

	if record.RepositoryURL != nil {
		statusResponse.RepositoryURL = *record.RepositoryURL
	}
	if record.PagesURL != nil {
		statusResponse.PagesURL = *record.PagesURL
	}
	if record.CommitSHA != nil {
		statusResponse.CommitSHA = *record.CommitSHA
	}
	if record.LastError != nil {
		statusResponse.LastError = *record.LastError
	}

	w.WriteHeader(http.StatusOK)
	statusResponse.render(w)

	logger.Info("Status request processed successfully")
}
