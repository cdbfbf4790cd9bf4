package deployment

import (
	log "github.com/sirupsen/logrus"
)

const (
	LogFieldCorrelationID = "correlation_id"
	LogFieldTask          = "task"
	LogFieldRound         = "round"
	LogFieldNonce         = "nonce"
	LogFieldEmail         = "email"
	LogFieldRepository    = "repository"
	LogFieldStatus        = "deployment_status"
)

func (r *Request) LogFields() log.Fields {
	return log.Fields{
		LogFieldTask:  r.Task,
		LogFieldRound: r.Round,
		LogFieldNonce: r.Nonce,
		LogFieldEmail: r.Email,
	}
}
