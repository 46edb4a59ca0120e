package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const TaskTriggerWakeup = "automation.trigger.wakeup"

// TriggerWakeupPayload identifies a scheduled trigger that should be fired.
type TriggerWakeupPayload struct {
	TriggerID  string `json:"triggerId"`
	LocationID string `json:"locationId"`
}

func NewTriggerWakeupTask(payload TriggerWakeupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTriggerWakeup, data), nil
}

func ParseTriggerWakeupPayload(task *asynq.Task) (TriggerWakeupPayload, error) {
	var payload TriggerWakeupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TriggerWakeupPayload{}, fmt.Errorf("decode %s payload: %w", TaskTriggerWakeup, err)
	}
	return payload, nil
}

// wakeupTaskID keeps re-planned triggers from stacking duplicate wake-ups.
func wakeupTaskID(triggerID string) string {
	return "trigger:" + triggerID
}
