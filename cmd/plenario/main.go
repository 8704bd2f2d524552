package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plenario/internal/app"
	"plenario/internal/config"
	"plenario/internal/db"
	"plenario/internal/domain"
	"plenario/internal/engine"
	"plenario/internal/migrate"
	"plenario/internal/repo"
	"plenario/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "plenario",
	Short: "Plenario CLI",
	Long: `Plenario runs the live conduct of municipal plenary sessions.
Core concepts:
- Workspace: your .plenario directory holding only the database; the chamber
  config lives in the DB and is imported explicitly.
- Period: the legislative period (legislatura) that owns sessions and their
  sequence numbers.
- Session: one plenary meeting. It moves scheduled -> in_progress ->
  realized, with suspension, postponement, and not-realized side exits.
- Pauta: the session's agenda across three sections (expediente, ordem do
  dia, explicacoes pessoais); drafted, ordered, then published and frozen.
- Attendance: per-member presence, initialized when the session opens;
  quorum is the absolute majority of the roster.
- Voting: one roll-call round at a time per session; outcomes follow the
  chamber's standing rules per matter kind (simple or qualified majority,
  casting vote, secret ballot).
- Event log: diary of everything that happened, view with 'plenario log tail'.`,
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
	viper.SetEnvPrefix("PLENARIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-operator", "operator identifier")
	rootCmd.PersistentFlags().String("period", "", "period id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("period", rootCmd.PersistentFlags().Lookup("period"))
}

func registerCommands() {
	rootCmd.AddCommand(periodCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(agendaCmd())
	rootCmd.AddCommand(attendanceCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func periodCmd() *cobra.Command {
	p := &cobra.Command{Use: "period", Short: "Manage legislative periods"}
	p.AddCommand(periodCreateCmd())
	p.AddCommand(periodListCmd())
	p.AddCommand(periodUseCmd())
	p.AddCommand(periodConfigCmd())
	return p
}

func periodCreateCmd() *cobra.Command {
	var id, label, startsOn, endsOn string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create legislative period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if label == "" {
				label = id
			}
			e := engine.New(conn, config.Default(id))
			p, err := e.InitPeriod(cmd.Context(), id, label, startsOn, endsOn, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "period id")
	cmd.Flags().StringVar(&label, "label", "", "display label")
	cmd.Flags().StringVar(&startsOn, "starts-on", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endsOn, "ends-on", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func periodListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPeriods(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Label", "Starts", "Ends"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Label, p.StartsOn, p.EndsOn})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func periodUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current period for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			periodID := strings.TrimSpace(args[0])
			if periodID == "" {
				return fmt.Errorf("period id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "PLENARIO_PERIOD", periodID); err != nil {
				return err
			}
			fmt.Printf("Set PLENARIO_PERIOD=%s in %s/.env\n", periodID, workspace)
			return nil
		},
	}
	return cmd
}

func periodConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage the chamber config",
	}
	cfg.AddCommand(periodConfigShowCmd())
	cfg.AddCommand(periodConfigImportCmd())
	cfg.AddCommand(periodConfigInitCmd())
	return cfg
}

func periodConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the chamber config in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func periodConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import chamber config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			periodID := cfg.Chamber.Period
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if periodID == "" {
					periodID = e.Config.Chamber.Period
				}
				if err := e.Repo.UpsertPeriodConfig(ctx, periodID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func periodConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default plenario.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			periodID := viper.GetString("period")
			if periodID == "" {
				periodID = fmt.Sprintf("legislatura-%d", time.Now().Year())
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(periodID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage the member roster"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var id, name, party string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.RegisterMember(ctx, domain.Member{ID: id, Name: name, Party: party, Active: true}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "member id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "member name")
	cmd.Flags().StringVar(&party, "party", "", "party")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func memberListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMembers(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Party", "Active"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Name, m.Party, m.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active members")
	return cmd
}

func docCmd() *cobra.Command {
	d := &cobra.Command{Use: "doc", Short: "Manage protocoled documents"}
	d.AddCommand(docAddCmd())
	d.AddCommand(docListCmd())
	return d
}

func docAddCmd() *cobra.Command {
	var id, protocol, kind, summary, author string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a protocoled document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc := domain.Document{ID: id, ProtocolNumber: protocol, Kind: kind, Summary: summary}
				if author != "" {
					doc.AuthorID = &author
				}
				created, err := e.RegisterDocument(ctx, doc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id (optional)")
	cmd.Flags().StringVar(&protocol, "protocol", "", "official protocol number")
	cmd.Flags().StringVar(&kind, "kind", "", "document kind (ata, projeto_lei, parecer, requerimento, mocao, indicacao, veto)")
	cmd.Flags().StringVar(&summary, "summary", "", "summary")
	cmd.Flags().StringVar(&author, "author", "", "author member id")
	_ = cmd.MarkFlagRequired("protocol")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func docListCmd() *cobra.Command {
	var f repo.DocumentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDocuments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Protocol", "Kind", "Status", "Summary"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.ProtocolNumber, d.Kind, d.Status, d.Summary})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.Unagendaed, "unagendaed", false, "only documents not yet on any agenda")
	return cmd
}

func sessionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "session",
		Short: "Manage plenary sessions",
		Long:  "Sessions move scheduled -> in_progress -> realized. The agenda must be published before opening; attendance is frozen when the session closes.",
	}
	s.AddCommand(sessionScheduleCmd())
	s.AddCommand(sessionListCmd())
	s.AddCommand(sessionShowCmd())
	s.AddCommand(sessionOpenCmd())
	s.AddCommand(sessionSuspendCmd())
	s.AddCommand(sessionResumeCmd())
	s.AddCommand(sessionCloseCmd())
	s.AddCommand(sessionPostponeCmd())
	s.AddCommand(sessionRescheduleCmd())
	s.AddCommand(sessionNotRealizedCmd())
	s.AddCommand(sessionSummaryCmd())
	s.AddCommand(sessionQuorumCmd())
	s.AddCommand(sessionGenerateCmd())
	return s
}

func sessionScheduleCmd() *cobra.Command {
	var opts engine.ScheduleSessionOptions
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.PeriodID == "" {
					opts.PeriodID = e.Config.Chamber.Period
				}
				s, err := e.ScheduleSession(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "session id (optional)")
	cmd.Flags().StringVar(&opts.PeriodID, "period-id", "", "period id")
	cmd.Flags().StringVar(&opts.Kind, "kind", "ordinaria", "session kind (ordinaria, extraordinaria, solene)")
	cmd.Flags().StringVar(&opts.ScheduledAt, "at", "", "scheduled date/time (RFC 3339)")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var f repo.SessionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.PeriodID == "" {
					f.PeriodID = e.Config.Chamber.Period
				}
				items, err := e.Repo.ListSessions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Seq", "Kind", "Scheduled", "Status", "Agenda"})
				for _, s := range items {
					seq := ""
					if s.SeqNumber != nil {
						seq = fmt.Sprintf("%d", *s.SeqNumber)
					}
					agenda := "draft"
					if s.AgendaPublished {
						agenda = "published"
					}
					tw.AppendRow(table.Row{s.ID, seq, s.Kind, s.ScheduledAt, s.Status, agenda})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.PeriodID, "period-id", "", "period filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sessionOpenCmd() *cobra.Command {
	var presiding string
	cmd := &cobra.Command{
		Use:   "open <session-id>",
		Short: "Open a session for conduct",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.OpenSession(ctx, args[0], presiding, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&presiding, "presiding", "", "presiding member id")
	return cmd
}

func sessionSuspendCmd() *cobra.Command {
	return sessionTransitionCmd("suspend", "Suspend a session", func(ctx context.Context, e engine.Engine, id string) (domain.Session, error) {
		return e.SuspendSession(ctx, id, viper.GetString("actor-id"))
	})
}

func sessionResumeCmd() *cobra.Command {
	return sessionTransitionCmd("resume", "Resume a suspended session", func(ctx context.Context, e engine.Engine, id string) (domain.Session, error) {
		return e.ResumeSession(ctx, id, viper.GetString("actor-id"))
	})
}

func sessionCloseCmd() *cobra.Command {
	return sessionTransitionCmd("close", "Close a session into the realized record", func(ctx context.Context, e engine.Engine, id string) (domain.Session, error) {
		return e.CloseSession(ctx, id, viper.GetString("actor-id"))
	})
}

func sessionTransitionCmd(use, short string, fn func(context.Context, engine.Engine, string) (domain.Session, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sessionPostponeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "postpone <session-id>",
		Short: "Postpone a scheduled session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.PostponeSession(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func sessionRescheduleCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "reschedule <session-id>",
		Short: "Put a postponed session back on the calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RescheduleSession(ctx, args[0], at, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "new date/time (RFC 3339)")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func sessionNotRealizedCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "not-realized <session-id>",
		Short: "Mark a session not realized (terminal)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.MarkNotRealized(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func sessionSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <session-id>",
		Short: "Show the conduct summary handed to the minutes generator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary, err := e.SessionSummary(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	return cmd
}

func sessionQuorumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quorum <session-id>",
		Short: "Show current quorum status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.QuorumStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(q)
				}
				fmt.Printf("Present: %d/%d (quorum %d) has_quorum=%v\n", q.Present, q.RosterSize, q.Minimum, q.HasQuorum)
				return nil
			})
		},
	}
	return cmd
}

func sessionGenerateCmd() *cobra.Command {
	var year, month int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate ordinary sessions for a month per the weekday rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.GenerateOrdinarySessions(ctx, e.Config.Chamber.Period, year, time.Month(month), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if len(created) == 0 {
					fmt.Println("No new sessions (already generated, or recess month).")
					return nil
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "target year")
	cmd.Flags().IntVar(&month, "month", int(time.Now().Month()), "target month (1-12)")
	return cmd
}

func agendaCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "agenda",
		Short: "Build and publish the pauta",
		Long:  "The agenda is a draft while the session is scheduled; publishing freezes it. Minutes (atas) and committee opinions are auto-added once by a housekeeping pass.",
	}
	a.AddCommand(agendaListCmd())
	a.AddCommand(agendaAddCmd())
	a.AddCommand(agendaPrepareCmd())
	a.AddCommand(agendaRemoveCmd())
	a.AddCommand(agendaReorderCmd())
	a.AddCommand(agendaPublishCmd())
	a.AddCommand(agendaReadCmd())
	a.AddCommand(agendaReportCmd())
	return a
}

func agendaListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List agenda items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAgendaItems(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Section", "Pos", "Document", "Status", "Auto"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Section, it.Position, it.DocumentID, it.Status, it.AutoAdded})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func agendaAddCmd() *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "add <session-id> <document-id>",
		Short: "Add a document to the agenda",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AddAgendaItem(ctx, args[0], args[1], section, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", "ordem_do_dia", "agenda section (expediente, ordem_do_dia, explicacoes_pessoais)")
	return cmd
}

func agendaPrepareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare <session-id>",
		Short: "Run the mandatory-items housekeeping pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.PrepareAgenda(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func agendaRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove an agenda item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveAgendaItem(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func agendaReorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder <session-id> <item-id>...",
		Short: "Apply a full target ordering of item ids",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ReorderAgenda(ctx, args[0], args[1:], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func agendaPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <session-id>",
		Short: "Publish the agenda (irreversible)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.PublishAgenda(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func agendaReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <item-id>",
		Short: "Mark an item read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.MarkItemRead(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func agendaReportCmd() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "report <item-id>",
		Short: "Attach the rendered vote-result report to a voted item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AttachItemReport(ctx, args[0], ref, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "report location (required)")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func attendanceCmd() *cobra.Command {
	a := &cobra.Command{Use: "attendance", Short: "Track attendance"}
	a.AddCommand(attendanceListCmd())
	a.AddCommand(attendanceMarkCmd())
	return a
}

func attendanceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List attendance records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAttendance(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Member", "Status", "Justification"})
				for _, rec := range items {
					just := ""
					if rec.Justification != nil {
						just = *rec.Justification
					}
					tw.AppendRow(table.Row{rec.MemberID, rec.Status, just})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func attendanceMarkCmd() *cobra.Command {
	var status, justification string
	cmd := &cobra.Command{
		Use:   "mark <session-id> <member-id>",
		Short: "Mark a member's presence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.MarkAttendance(ctx, args[0], args[1], status, justification, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "present", "attendance status (present, absent, justified)")
	cmd.Flags().StringVar(&justification, "justification", "", "justification text")
	return cmd
}

func voteCmd() *cobra.Command {
	v := &cobra.Command{
		Use:   "vote",
		Short: "Run roll-call votes",
		Long:  "One round at a time per session. Start requires quorum; casting overwrites while open; closing tallies per the matter kind's decision rule.",
	}
	v.AddCommand(voteStartCmd())
	v.AddCommand(voteCastCmd())
	v.AddCommand(voteCloseCmd())
	v.AddCommand(voteAbandonCmd())
	v.AddCommand(voteRollCallCmd())
	v.AddCommand(voteResultsCmd())
	return v
}

func voteStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <item-id>",
		Short: "Open the roll-call round for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.StartVote(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func voteCastCmd() *cobra.Command {
	var choice string
	cmd := &cobra.Command{
		Use:   "cast <item-id> <member-id>",
		Short: "Cast or overwrite a member's vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.CastVote(ctx, args[0], args[1], choice, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&choice, "choice", "", "yes, no, or abstain")
	_ = cmd.MarkFlagRequired("choice")
	return cmd
}

func voteCloseCmd() *cobra.Command {
	var casting, remarks string
	cmd := &cobra.Command{
		Use:   "close <item-id>",
		Short: "Close the round and record the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CloseVote(ctx, args[0], casting, remarks, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&casting, "casting", "", "presiding member's casting vote on a tie (yes or no)")
	cmd.Flags().StringVar(&remarks, "remarks", "", "free-text remarks")
	return cmd
}

func voteAbandonCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abandon <item-id>",
		Short: "Abandon the open round, discarding cast votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AbandonVote(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func voteRollCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roll-call <item-id>",
		Short: "Show who voted (choices hidden for secret ballots)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.RollCall(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(records)
			})
		},
	}
	return cmd
}

func voteResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results <session-id>",
		Short: "List closed voting results for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListVotingResults(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Document", "Yes", "No", "Abstain", "Absent", "Outcome", "Casting", "Secret"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.DocumentID, r.Yes, r.No, r.Abstain, r.Absent, r.Outcome, r.CastingVoteUsed, r.Secret})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: lifecycle moves, agenda edits, votes, attendance.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var sessionID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, sessionID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func keysCmd() *cobra.Command {
	k := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	k.AddCommand(keysCreateCmd())
	k.AddCommand(keysListCmd())
	k.AddCommand(keysDeleteCmd())
	return k
}

func keysCreateCmd() *cobra.Command {
	var operator, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if operator == "" {
				operator = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:         uuid.NewString(),
					OperatorID: operator,
					Name:       name,
					KeyHash:    repo.HashAPIKey(secret),
					CreatedAt:  time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("API key created: id=%s operator=%s\nSecret (store it now, it is not shown again):\n%s\n", key.ID, key.OperatorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keysListCmd() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, operator)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Operator", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.OperatorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "filter by operator id")
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			_, cfg, err := app.ResolvePeriodAndConfig(cmd.Context(), workspace, viper.GetString("period"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("PLENARIO_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PLENARIO_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Plenario API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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
	_, cfg, err := app.ResolvePeriodAndConfig(ctx, workspace, viper.GetString("period"), viper.GetString("actor-id"), r)
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
