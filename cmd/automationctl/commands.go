package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/service"
	"fieldservice_backend/internal/automation/transport"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type opener func(ctx context.Context) (*service.Service, func(), error)

type cli struct {
	out      io.Writer
	open     opener
	location string
	asJSON   bool
}

func newRootCmd(out io.Writer, open opener) *cobra.Command {
	c := &cli{out: out, open: open}

	root := &cobra.Command{
		Use:           "automationctl",
		Short:         "Inspect and operate the automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(c.location) == "" {
				return errors.New("--location is required")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.location, "location", "l", "", "tenant location id")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "output JSON")

	rules := &cobra.Command{Use: "rules", Short: "Manage automation rules"}
	rules.AddCommand(c.rulesListCmd(), c.rulesSeedCmd())

	queue := &cobra.Command{Use: "queue", Short: "Inspect the execution queue"}
	queue.AddCommand(c.queueListCmd(), c.queueRequeueCmd())

	triggers := &cobra.Command{Use: "triggers", Short: "Inspect scheduled triggers"}
	triggers.AddCommand(c.triggersListCmd())

	root.AddCommand(rules, queue, triggers)
	return root
}

func (c *cli) withService(ctx context.Context, fn func(ctx context.Context, svc *service.Service) error) error {
	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}

func (c *cli) rulesListCmd() *cobra.Command {
	var req transport.ListRulesRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				res, err := svc.ListRules(ctx, c.location, req)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(res)
				}
				tw := c.table()
				tw.AppendHeader(table.Row{"ID", "Name", "Trigger", "Priority", "Active", "Runs", "Failed"})
				for _, r := range res.Items {
					tw.AppendRow(table.Row{r.ID, r.Name, r.Trigger.Type, r.Priority, r.IsActive, r.ExecutionCount, r.FailureCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.TriggerType, "trigger", "", "filter by trigger type")
	cmd.Flags().BoolVar(&req.ActiveOnly, "active", false, "only active rules")
	return cmd
}

func (c *cli) rulesSeedCmd() *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default rules the location does not have yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				res, err := svc.Seed(ctx, c.location, transport.SeedRequest{Params: params})
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(res)
				}
				tw := c.table()
				tw.AppendHeader(table.Row{"Seed", "Result"})
				for _, k := range res.Created {
					tw.AppendRow(table.Row{k, "created"})
				}
				for _, k := range res.Existing {
					tw.AppendRow(table.Row{k, "existing"})
				}
				for _, k := range res.Skipped {
					tw.AppendRow(table.Row{k, "skipped"})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "seed parameter as key=value (repeatable)")
	return cmd
}

func (c *cli) queueListCmd() *cobra.Command {
	var req transport.ListQueueRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Status != "" && !domain.QueueStatus(req.Status).Valid() {
				return fmt.Errorf("unknown status %q", req.Status)
			}
			return c.withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				res, err := svc.ListQueue(ctx, c.location, req)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(res)
				}
				tw := c.table()
				tw.AppendHeader(table.Row{"ID", "Rule", "Entity", "Status", "Attempts", "Available", "Last error"})
				for _, it := range res.Items {
					tw.AppendRow(table.Row{it.ID, it.RuleID, it.EntityID, it.Status,
						fmt.Sprintf("%d/%d", it.Attempts, it.MaxAttempts), formatTime(it.AvailableAt), deref(it.LastError)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Status, "status", "", "pending, processing, completed, failed or dead-lettered")
	cmd.Flags().StringVar(&req.RuleID, "rule", "", "filter by rule id")
	cmd.Flags().IntVar(&req.Limit, "limit", 100, "maximum items")
	return cmd
}

func (c *cli) queueRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Move a failed or dead-lettered item back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid queue item id %q", args[0])
			}
			return c.withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				if err := svc.Requeue(ctx, c.location, id); err != nil {
					return err
				}
				_, err := fmt.Fprintf(c.out, "requeued %s\n", id)
				return err
			})
		},
	}
}

func (c *cli) triggersListCmd() *cobra.Command {
	var req transport.ListTriggersRequest
	cmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "List scheduled triggers of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.EntityID = args[0]
			return c.withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				res, err := svc.ListTriggers(ctx, c.location, req)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(res)
				}
				tw := c.table()
				tw.AppendHeader(table.Row{"ID", "Rule", "Anchor", "Fire at", "Version", "State"})
				for _, t := range res.Items {
					tw.AppendRow(table.Row{t.ID, t.RuleID, t.AnchorField, formatTime(t.FireAt), t.AnchorVersion, triggerState(t)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.Pending, "pending", false, "only triggers that have not fired")
	return cmd
}

func (c *cli) table() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(c.out)
	return tw
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func triggerState(t domain.ScheduledTrigger) string {
	switch {
	case t.Cancelled:
		return "cancelled"
	case t.Fired:
		return "fired"
	default:
		return "pending"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
