package executor

import (
	"context"
	"fmt"

	"fieldservice_backend/internal/automation/render"
)

func (e *Executor) createTask(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Tasks == nil {
		return "", disabled(inv.action.Type)
	}
	title := inv.str("title")
	if title == "" {
		return "", fmt.Errorf("title is empty")
	}
	contactID := inv.str("contactId", "contact.id")
	task := Task{
		LocationID: inv.locationID(),
		ContactID:  contactID,
		Title:      title,
		Body:       firstNonEmpty(inv.str("body"), inv.str("description")),
		AssignedTo: inv.str("assignedTo", "appointment.assignedUserId", "contact.assignedTo"),
	}
	if minutes, ok := inv.number("dueInMinutes"); ok {
		due := e.opts.Now().UTC().Add(minutesDuration(minutes))
		task.DueAt = &due
	} else if raw, ok := inv.config["dueAt"]; ok {
		if due, ok := render.Time(raw); ok {
			task.DueAt = &due
		}
	}

	var taskID string
	err := e.once(ctx, inv, contactID, title, func() error {
		var createErr error
		taskID, createErr = e.deps.Tasks.CreateTask(ctx, task)
		return createErr
	})
	if err != nil {
		return "", err
	}
	return "task created " + taskID, nil
}

func (e *Executor) moveToStage(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Stages == nil {
		return "", disabled(inv.action.Type)
	}
	stageID := inv.str("stageId")
	if stageID == "" {
		return "", fmt.Errorf("stageId is empty")
	}
	projectID := inv.str("projectId", "project.id", "quote.projectId", "appointment.projectId")
	if projectID == "" {
		return "", fmt.Errorf("no project in context")
	}
	if err := e.deps.Stages.MoveProjectStage(ctx, inv.locationID(), projectID, stageID); err != nil {
		return "", err
	}
	return fmt.Sprintf("project %s moved to %s", projectID, stageID), nil
}

func (e *Executor) assignUser(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Assigner == nil {
		return "", disabled(inv.action.Type)
	}
	a := Assignment{
		LocationID:    inv.locationID(),
		UserID:        inv.str("userId"),
		ContactID:     inv.str("contactId", "contact.id"),
		OpportunityID: inv.str("opportunityId", "opportunity.id", "project.opportunityId"),
	}
	if a.UserID == "" {
		return "", fmt.Errorf("userId is empty")
	}
	if a.ContactID == "" && a.OpportunityID == "" {
		return "", fmt.Errorf("nothing to assign")
	}
	if err := e.deps.Assigner.AssignUser(ctx, a); err != nil {
		return "", err
	}
	return "assigned " + a.UserID, nil
}

func (e *Executor) transitionPipeline(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Pipelines == nil {
		return "", disabled(inv.action.Type)
	}
	t := PipelineTransition{
		LocationID:    inv.locationID(),
		OpportunityID: inv.str("opportunityId", "opportunity.id", "project.opportunityId"),
		PipelineID:    inv.str("pipelineId"),
		StageID:       inv.str("stageId"),
		Status:        inv.str("status"),
	}
	if t.OpportunityID == "" {
		return "", fmt.Errorf("no opportunity in context")
	}
	if t.PipelineID == "" || t.StageID == "" {
		return "", fmt.Errorf("pipelineId and stageId are required")
	}
	if err := e.deps.Pipelines.TransitionPipeline(ctx, t); err != nil {
		return "", err
	}
	return fmt.Sprintf("opportunity %s moved to pipeline %s", t.OpportunityID, t.PipelineID), nil
}
