package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/platform/apperr"
)

type taskRequest struct {
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	DueDate    string `json:"dueDate"`
	Completed  bool   `json:"completed"`
	AssignedTo string `json:"assignedTo,omitempty"`
}

type taskResponse struct {
	Task struct {
		ID string `json:"id"`
	} `json:"task"`
}

// CreateTask adds a follow-up task to a contact. Tasks without a due date are due now.
func (c *Client) CreateTask(ctx context.Context, task executor.Task) (string, error) {
	if task.ContactID == "" {
		return "", apperr.Validation("task requires a contact")
	}
	due := time.Now().UTC()
	if task.DueAt != nil {
		due = task.DueAt.UTC()
	}

	var out taskResponse
	err := c.do(ctx, http.MethodPost, "/contacts/"+url.PathEscape(task.ContactID)+"/tasks", taskRequest{
		Title:      task.Title,
		Body:       task.Body,
		DueDate:    due.Format(time.RFC3339),
		AssignedTo: task.AssignedTo,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Task.ID, nil
}

// AssignUser sets the owner of the contact and/or opportunity.
func (c *Client) AssignUser(ctx context.Context, a executor.Assignment) error {
	body := map[string]string{"assignedTo": a.UserID}
	if a.ContactID != "" {
		if err := c.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(a.ContactID), body, nil); err != nil {
			return fmt.Errorf("assign contact: %w", err)
		}
	}
	if a.OpportunityID != "" {
		if err := c.do(ctx, http.MethodPut, "/opportunities/"+url.PathEscape(a.OpportunityID), body, nil); err != nil {
			return fmt.Errorf("assign opportunity: %w", err)
		}
	}
	return nil
}

type messageRequest struct {
	Type      string `json:"type"`
	ContactID string `json:"contactId"`
	Message   string `json:"message"`
	ToNumber  string `json:"toNumber,omitempty"`
}

type messageResponse struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// SendSMS sends a text through the CRM conversation of the contact.
func (c *Client) SendSMS(ctx context.Context, msg executor.SMSMessage) (string, error) {
	if msg.ContactID == "" {
		return "", apperr.Validation("sms requires a contact")
	}

	var out messageResponse
	err := c.do(ctx, http.MethodPost, "/conversations/messages", messageRequest{
		Type:      "SMS",
		ContactID: msg.ContactID,
		Message:   msg.Body,
		ToNumber:  msg.To,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.MessageID, nil
}
