package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPriceListIntegrity scans for scopes holding more than one current list.
	TaskPriceListIntegrity = "pricelist:integrity"
)

// IntegrityScanPayload narrows an integrity scan. An empty Kind scans every kind.
type IntegrityScanPayload struct {
	Kind string `json:"kind,omitempty"`
}

// NewIntegrityScanTask constructs an Asynq task.
func NewIntegrityScanTask(payload IntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPriceListIntegrity, data, asynq.Queue(QueueDefault)), nil
}
