package crm

import (
	"context"
	"net/http"
	"net/url"

	"fieldservice_backend/internal/automation/executor"
)

// Projects are CRM opportunities; stages are pipeline stages.

type opportunityUpdate struct {
	PipelineID      string `json:"pipelineId,omitempty"`
	PipelineStageID string `json:"pipelineStageId,omitempty"`
	Status          string `json:"status,omitempty"`
}

func (c *Client) MoveProjectStage(ctx context.Context, _ string, projectID, stageID string) error {
	return c.do(ctx, http.MethodPut, "/opportunities/"+url.PathEscape(projectID), opportunityUpdate{
		PipelineStageID: stageID,
	}, nil)
}

func (c *Client) TransitionPipeline(ctx context.Context, t executor.PipelineTransition) error {
	return c.do(ctx, http.MethodPut, "/opportunities/"+url.PathEscape(t.OpportunityID), opportunityUpdate{
		PipelineID:      t.PipelineID,
		PipelineStageID: t.StageID,
		Status:          t.Status,
	}, nil)
}
