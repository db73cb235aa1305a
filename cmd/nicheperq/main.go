package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nicheperq/internal/app"
	"nicheperq/internal/config"
	"nicheperq/internal/db"
	"nicheperq/internal/domain"
	"nicheperq/internal/engine"
	"nicheperq/internal/migrate"
	"nicheperq/internal/repo"
	"nicheperq/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "nicheperq",
	Short: "Nicheperq CLI",
	Long: `Nicheperq automates outreach workflows over a CRM lead list.
Core concepts:
- Workspace: your .nicheperq directory holding only the database; owner config is stored in the DB and importable explicitly.
- Lead: a contact with a funnel status (new -> contacted -> ... -> closed/lost), a niche, and contact timestamps.
- Workflow: a trigger predicate plus an ordered step list (send_message, update_status, set_reminder, condition).
- Enrollment: one lead's progress through one workflow; at most one active per (lead, workflow).
- Signal: an inbound reply/open/click from the message provider; replies bump status and short-circuit condition steps.
- Run: one engine pass (enroll -> signals -> sweep -> tick), meant to be invoked by an external scheduler.
- Action log: append-only diary of every step decision, view with 'nicheperq log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NICHEPERQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("owner", "", "owner id (overrides single-owner default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(enrollmentCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace and owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID == "" {
				return fmt.Errorf("--owner-id required")
			}
			return withEngineOwner(cmd.Context(), ownerID, func(ctx context.Context, e engine.Engine) error {
				if err := e.InitOwner(ctx); err != nil {
					return err
				}
				fmt.Printf("initialized owner %s\n", ownerID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner identifier")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Owner configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configDefaultCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config YAML into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID == "" {
				return fmt.Errorf("--owner-id required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(ownerID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s; edit it and run 'nicheperq config import'\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored owner config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import owner config from YAML (workspace nicheperq.yml by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if file != "" {
				cfg, err = config.FromFile(file)
			} else {
				cfg, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertOwnerConfig(ctx, cfg.Owner.ID, cfg); err != nil {
					return err
				}
				fmt.Printf("imported config for owner %s\n", cfg.Owner.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to config YAML")
	return cmd
}

func configDefaultCmd() *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Print the default config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID == "" {
				ownerID = "local-owner"
			}
			fmt.Print(config.GenerateDefault(ownerID))
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner identifier")
	return cmd
}

func runCmd() *cobra.Command {
	var enrollOnly bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one engine pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if enrollOnly {
					enrolled, err := e.EnrollMatching(ctx, e.Config.Owner.ID)
					if err != nil {
						return err
					}
					return printJSONOrTable(map[string]int{"enrolled": enrolled})
				}
				sum, err := e.Run(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	cmd.Flags().BoolVar(&enrollOnly, "enroll-only", false, "run only the trigger-enrollment phase")
	return cmd
}

func leadCmd() *cobra.Command {
	lead := &cobra.Command{Use: "lead", Short: "Manage leads"}
	lead.AddCommand(leadImportCmd())
	lead.AddCommand(leadListCmd())
	lead.AddCommand(leadShowCmd())
	lead.AddCommand(leadSetStatusCmd())
	return lead
}

func leadImportCmd() *cobra.Command {
	var opts engine.LeadCreateOptions
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a lead, or a JSON batch with --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					var batch []engine.LeadCreateOptions
					if err := json.Unmarshal(data, &batch); err != nil {
						return fmt.Errorf("invalid leads JSON: %w", err)
					}
					created, skipped := 0, 0
					for _, item := range batch {
						if _, err := e.CreateLead(ctx, item); err != nil {
							skipped++
							continue
						}
						created++
					}
					fmt.Printf("imported %d lead(s), skipped %d\n", created, skipped)
					return nil
				}
				lead, err := e.CreateLead(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(lead)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON array of leads")
	cmd.Flags().StringVar(&opts.ID, "id", "", "lead id (generated if empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "lead name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "lead email")
	cmd.Flags().StringVar(&opts.Niche, "niche", "", "lead niche")
	cmd.Flags().StringVar(&opts.Status, "status", "", "contact status (default new)")
	return cmd
}

func leadSetStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-status <lead-id> <status>",
		Short: "Update a lead's funnel status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lead, err := e.UpdateLeadStatus(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(lead)
			})
		},
	}
	return cmd
}

func leadListCmd() *cobra.Command {
	var status, niche string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				leads, err := e.Repo.ListLeads(ctx, repo.LeadFilters{
					OwnerID: e.Config.Owner.ID,
					Status:  status,
					Niche:   niche,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Niche", "Last Contacted"})
				for _, l := range leads {
					last := ""
					if l.LastContactedAt != nil {
						last = *l.LastContactedAt
					}
					tw.AppendRow(table.Row{l.ID, l.Name, l.ContactStatus, l.Niche, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&niche, "niche", "", "niche filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func leadShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <lead-id>",
		Short: "Show a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lead, err := e.Repo.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(lead)
			})
		},
	}
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage workflows"}
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowEnableCmd(true))
	wf.AddCommand(workflowEnableCmd(false))
	wf.AddCommand(workflowDeleteCmd())
	return wf
}

func workflowDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "Delete a workflow (rejected while enrollments reference it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteWorkflow(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted")
				return nil
			})
		},
	}
	return cmd
}

// workflowCreateCmd reads the step list from a JSON file or inline JSON, the
// same shape the API accepts.
func workflowCreateCmd() *cobra.Command {
	var name, triggerType, triggerValue, stepsJSON, stepsFile string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := stepsJSON
			if stepsFile != "" {
				data, err := os.ReadFile(stepsFile)
				if err != nil {
					return err
				}
				raw = string(data)
			}
			if raw == "" {
				return fmt.Errorf("--steps or --steps-file required")
			}
			var steps []domain.WorkflowStep
			if err := json.Unmarshal([]byte(raw), &steps); err != nil {
				return fmt.Errorf("invalid steps JSON: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkflow(ctx, engine.WorkflowCreateOptions{
					Name:         name,
					TriggerType:  triggerType,
					TriggerValue: triggerValue,
					Priority:     priority,
					Steps:        steps,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	cmd.Flags().StringVar(&triggerType, "trigger", "", "trigger type (status_equals|niche_equals|lead_imported|inactive_for_days)")
	cmd.Flags().StringVar(&triggerValue, "trigger-value", "", "trigger value")
	cmd.Flags().IntVar(&priority, "priority", 0, "match priority (lower wins; default 100)")
	cmd.Flags().StringVar(&stepsJSON, "steps", "", "step list as JSON")
	cmd.Flags().StringVar(&stepsFile, "steps-file", "", "path to step list JSON")
	return cmd
}

func workflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workflows, err := e.Repo.ListWorkflows(ctx, e.Config.Owner.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(workflows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Trigger", "Value", "Priority", "Active"})
				for _, w := range workflows {
					tw.AppendRow(table.Row{w.ID, w.Name, w.TriggerType, w.TriggerValue, w.Priority, w.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow with steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workflowEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <workflow-id>", "Enable a workflow"
	if !enable {
		use, short = "disable <workflow-id>", "Soft-disable a workflow (running enrollments continue)"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.SetWorkflowActive(ctx, args[0], enable, now); err != nil {
					return err
				}
				w, err := e.Repo.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func enrollmentCmd() *cobra.Command {
	enr := &cobra.Command{Use: "enrollment", Short: "Manage enrollments"}
	enr.AddCommand(enrollmentCreateCmd())
	enr.AddCommand(enrollmentListCmd())
	enr.AddCommand(enrollmentCancelCmd())
	return enr
}

func enrollmentCreateCmd() *cobra.Command {
	var leadID, workflowID, reason string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Enroll a lead into a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if leadID == "" || workflowID == "" {
				return fmt.Errorf("--lead and --workflow required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lead, err := e.Repo.GetLead(ctx, leadID)
				if err != nil {
					return err
				}
				w, err := e.Repo.GetWorkflow(ctx, workflowID)
				if err != nil {
					return err
				}
				if reason == "" {
					reason = "manual"
				}
				enr, err := e.Enroll(ctx, lead, w, engine.EnrollMetadata{Reason: reason})
				if errors.Is(err, engine.ErrAlreadyEnrolled) {
					fmt.Println("already enrolled; nothing to do")
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(enr)
			})
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead id")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&reason, "reason", "", "enrollment reason")
	return cmd
}

func enrollmentListCmd() *cobra.Command {
	var leadID, workflowID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List enrollments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				enrollments, err := e.Repo.ListEnrollments(ctx, repo.EnrollmentFilters{
					OwnerID:    e.Config.Owner.ID,
					LeadID:     leadID,
					WorkflowID: workflowID,
					Status:     status,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(enrollments)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Lead", "Workflow", "Status", "Step", "Next Action"})
				for _, enr := range enrollments {
					next := ""
					if enr.NextActionAt != nil {
						next = *enr.NextActionAt
					}
					tw.AppendRow(table.Row{enr.ID, enr.LeadID, enr.WorkflowID, enr.Status, enr.CurrentStepOrder, next})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead filter")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func enrollmentCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <enrollment-id>",
		Short: "Cancel an active enrollment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.CancelEnrollment(ctx, args[0]); err != nil {
					return err
				}
				enr, err := e.Repo.GetEnrollment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(enr)
			})
		},
	}
	return cmd
}

func signalCmd() *cobra.Command {
	sig := &cobra.Command{Use: "signal", Short: "Inbound provider signals"}
	sig.AddCommand(signalRecordCmd())
	return sig
}

func signalRecordCmd() *cobra.Command {
	var leadID, messageID, kind string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a signal for the next run to process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if leadID == "" && messageID == "" {
				return fmt.Errorf("--lead or --message required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RecordSignal(ctx, domain.Signal{
					OwnerID:   e.Config.Owner.ID,
					LeadID:    leadID,
					MessageID: messageID,
					Kind:      kind,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead id")
	cmd.Flags().StringVar(&messageID, "message", "", "outbound message id")
	cmd.Flags().StringVar(&kind, "kind", "reply", "signal kind (reply|open|click)")
	return cmd
}

func messageCmd() *cobra.Command {
	msg := &cobra.Command{Use: "message", Short: "Outbound messages"}
	msg.AddCommand(messageListCmd())
	msg.AddCommand(messageApproveCmd())
	return msg
}

func messageListCmd() *cobra.Command {
	var leadID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				messages, err := e.Repo.ListMessages(ctx, repo.MessageFilters{
					OwnerID: e.Config.Owner.ID,
					LeadID:  leadID,
					Status:  status,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(messages)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Lead", "Type", "Status", "Subject", "Created"})
				for _, m := range messages {
					tw.AppendRow(table.Row{m.ID, m.LeadID, m.MessageType, m.Status, m.Subject, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (draft|sent|failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func messageApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <message-id>",
		Short: "Approve and dispatch a queued draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msg, err := e.ApproveMessage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(msg)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Action log",
		Long:  "The diary of every engine decision: enrollments, step executions, signal handling.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var leadID, enrollmentID, actionType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail action log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				logs, err := e.Repo.ListActionLogs(ctx, repo.ActionLogFilters{
					OwnerID:      e.Config.Owner.ID,
					LeadID:       leadID,
					EnrollmentID: enrollmentID,
					ActionType:   actionType,
					Limit:        n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(logs)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&leadID, "lead", "", "lead filter")
	cmd.Flags().StringVar(&enrollmentID, "enrollment", "", "enrollment filter")
	cmd.Flags().StringVar(&actionType, "type", "", "action type filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name, key string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (pass --key or one is generated)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if key == "" {
					key = repo.HashAPIKey(strconv.FormatInt(time.Now().UnixNano(), 10))
				}
				apiKey := domain.APIKey{
					ID:      repo.HashAPIKey(key)[:8],
					OwnerID: e.Config.Owner.ID,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, apiKey); err != nil {
					return err
				}
				fmt.Printf("api key (store it now, shown once): %s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&key, "key", "", "plaintext key (generated if empty)")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, e.Config.Owner.ID)
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = ""
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted")
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveOwnerAndConfig(cmd.Context(), viper.GetString("owner"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("NICHEPERQ_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("NICHEPERQ_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Nicheperq API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEngineOwner(ctx, viper.GetString("owner"), fn)
}

func withEngineOwner(ctx context.Context, ownerOverride string, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOwnerAndConfig(ctx, ownerOverride, r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
