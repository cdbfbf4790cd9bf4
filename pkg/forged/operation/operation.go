package operation

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/appforge/forge/pkg/forged/database"
	"github.com/appforge/forge/pkg/forged/deployment"
)

// Operation carries everything a single pipeline run needs.
type Operation struct {
	Context context.Context
	Cancel  context.CancelFunc
	Logger  *log.Entry
	Request *deployment.Request
	Record  *database.Deployment
}

func New(ctx context.Context, cancel context.CancelFunc, request *deployment.Request, record *database.Deployment) *Operation {
	logger := log.WithFields(request.LogFields())
	logger = logger.WithField(deployment.LogFieldCorrelationID, record.CorrelationID)

	return &Operation{
		Context: ctx,
		Cancel:  cancel,
		Logger:  logger,
		Request: request,
		Record:  record,
	}
}
