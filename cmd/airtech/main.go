package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"airtech/internal/config"
	"airtech/internal/db"
	"airtech/internal/domain"
	"airtech/internal/engine"
	"airtech/internal/migrate"
	"airtech/internal/repo"
	"airtech/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "airtech",
	Short: "AIRTECH maintenance complaint tracker",
	Long: `Tracks machine maintenance complaints through their lifecycle.
Complaints carry a serial id (AIRTECH-NN), a priority, a status, the
assigned technician and an append-only history of every change. Who may
create, edit which fields, or delete is decided per role; see
'airtech user set-role' for role management.`,
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
	viper.SetEnvPrefix("AIRTECH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as-email", "local@airtech", "acting user email")
	rootCmd.PersistentFlags().String("as-role", "", "override acting role (bootstrap only)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as-email", rootCmd.PersistentFlags().Lookup("as-email"))
	_ = viper.BindPFlag("as-role", rootCmd.PersistentFlags().Lookup("as-role"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(complaintCmd())
	rootCmd.AddCommand(backfillHistoryCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
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
			fmt.Printf("Wrote %s and initialized %s\n", path, db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func complaintCmd() *cobra.Command {
	c := &cobra.Command{Use: "complaint", Short: "Manage complaints"}
	c.AddCommand(complaintCreateCmd())
	c.AddCommand(complaintListCmd())
	c.AddCommand(complaintGetCmd())
	c.AddCommand(complaintUpdateCmd())
	c.AddCommand(complaintDeleteCmd())
	c.AddCommand(complaintHistoryCmd())
	return c
}

func complaintCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var materials []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a complaint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				lines, err := parseMaterials(materials)
				if err != nil {
					return err
				}
				opts.MaterialsUsed = lines
				c, err := e.Create(ctx, actor, opts)
				if err != nil {
					return printJSONOrTable(engine.Failed(err))
				}
				return printJSONOrTable(engine.Succeeded("Complaint created successfully", c.ID))
			})
		},
	}
	cmd.Flags().StringVar(&opts.MachineName, "machine", "", "machine name")
	cmd.Flags().StringVar(&opts.ComplaintDescription, "description", "", "complaint description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (Low, Medium, High)")
	cmd.Flags().StringVar(&opts.Department, "department", "", "concerned department")
	cmd.Flags().StringVar(&opts.ComplaintStatus, "status", "", "initial status (default Open)")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assigned technician")
	cmd.Flags().StringVar(&opts.ComplaintDate, "date", "", "complaint date (RFC 3339, default now)")
	cmd.Flags().StringArrayVar(&materials, "material", nil, "material line name|quantity[|remarks] (repeatable)")
	_ = cmd.MarkFlagRequired("machine")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("priority")
	_ = cmd.MarkFlagRequired("department")
	return cmd
}

func complaintListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List complaints visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.List(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Complaint ID", "Date", "Machine", "Priority", "Status", "Department", "Assigned To", "Created By"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ComplaintID, c.ComplaintDate, c.MachineName, c.Priority, c.ComplaintStatus, c.Department, c.AssignedTo, c.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func complaintGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a complaint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				c, err := e.Get(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func complaintUpdateCmd() *cobra.Command {
	var date, machine, description, priority, status, department, assignedTo string
	var actionDate, remarks, inspectionDate, estimatedEnd, finalization string
	var materials []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a complaint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				var opts engine.UpdateOptions
				set := func(name string, dst **string, v *string) {
					if cmd.Flags().Changed(name) {
						*dst = v
					}
				}
				set("date", &opts.ComplaintDate, &date)
				set("machine", &opts.MachineName, &machine)
				set("description", &opts.ComplaintDescription, &description)
				set("priority", &opts.Priority, &priority)
				set("status", &opts.ComplaintStatus, &status)
				set("department", &opts.Department, &department)
				set("assigned-to", &opts.AssignedTo, &assignedTo)
				set("action-date", &opts.ActionDate, &actionDate)
				set("remarks", &opts.MaintenanceRemarks, &remarks)
				set("inspection-date", &opts.InitialInspectionDate, &inspectionDate)
				set("estimated-end", &opts.EstimatedEndDate, &estimatedEnd)
				set("finalization-date", &opts.FinalizationDate, &finalization)
				if cmd.Flags().Changed("material") {
					lines, err := parseMaterials(materials)
					if err != nil {
						return err
					}
					opts.MaterialsUsed = &lines
				}
				if _, err := e.Update(ctx, actor, args[0], opts); err != nil {
					return printJSONOrTable(engine.Failed(err))
				}
				return printJSONOrTable(engine.Succeeded("Complaint updated successfully", args[0]))
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "complaint date (RFC 3339)")
	cmd.Flags().StringVar(&machine, "machine", "", "machine name")
	cmd.Flags().StringVar(&description, "description", "", "complaint description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (Low, Medium, High)")
	cmd.Flags().StringVar(&status, "status", "", "complaint status")
	cmd.Flags().StringVar(&department, "department", "", "concerned department")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assigned technician")
	cmd.Flags().StringVar(&actionDate, "action-date", "", "action date (empty clears)")
	cmd.Flags().StringVar(&remarks, "remarks", "", "maintenance remarks (empty clears)")
	cmd.Flags().StringVar(&inspectionDate, "inspection-date", "", "initial inspection date (empty clears)")
	cmd.Flags().StringVar(&estimatedEnd, "estimated-end", "", "estimated end date (empty clears)")
	cmd.Flags().StringVar(&finalization, "finalization-date", "", "finalization date (empty clears)")
	cmd.Flags().StringArrayVar(&materials, "material", nil, "material line name|quantity[|remarks] (repeatable, replaces the list)")
	return cmd
}

func complaintDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a complaint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				if err := e.Delete(ctx, actor, args[0]); err != nil {
					return printJSONOrTable(engine.Failed(err))
				}
				return printJSONOrTable(engine.Succeeded("Complaint deleted successfully", args[0]))
			})
		},
	}
	return cmd
}

func complaintHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show a complaint's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				entries, err := e.History(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Action", "User", "Timestamp"})
				for i, h := range entries {
					tw.AppendRow(table.Row{i + 1, h.Action, h.User, h.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func backfillHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill-history",
		Short: "Synthesize Created entries for legacy records without history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				n, err := e.BackfillHistory(ctx, actor)
				if err != nil {
					return err
				}
				fmt.Printf("Repaired %d complaint(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage user role bindings"}
	u.AddCommand(userSetRoleCmd())
	u.AddCommand(userListCmd())
	return u
}

func userSetRoleCmd() *cobra.Command {
	var uid, email, role string
	cmd := &cobra.Command{
		Use:   "set-role",
		Short: "Create or update a user's role binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				p := domain.Profile{UID: uid, Email: email, Role: role, CreatedAt: now, UpdatedAt: now}
				if err := r.UpsertProfile(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "identity provider uid")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&role, "role", "", "role ("+strings.Join(domain.Roles, ", ")+")")
	_ = cmd.MarkFlagRequired("uid")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user role bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProfiles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UID", "Email", "Role"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.UID, p.Email, p.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var uid, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetProfile(ctx, uid); err != nil {
					return fmt.Errorf("profile for uid %s: %w", uid, err)
				}
				token := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					UID:     uid,
					Name:    name,
					KeyHash: repo.HashAPIKey(token),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The token is shown once and only the hash is stored.
				return printJSONOrTable(map[string]string{"id": key.ID, "token": token})
			})
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "identity provider uid")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("uid")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var uid string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, uid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "UID", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.UID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "filter by uid")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
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
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("AIRTECH_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("AIRTECH_JWT_SECRET or server.jwt_secret is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: server.AuthConfig{JWTSecret: secret}})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving AIRTECH API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// resolveActor maps --as-email to a stored role binding; without one the
// acting role defaults to viewer. --as-role overrides for bootstrap, so
// the first admin can be seeded before any profile exists.
func resolveActor(ctx context.Context, e engine.Engine) (domain.Actor, error) {
	email := viper.GetString("as-email")
	actor := domain.Actor{UID: "cli", Email: email, Role: domain.RoleViewer}
	p, err := e.Repo.GetProfileByEmail(ctx, email)
	if err == nil {
		actor.UID = p.UID
		actor.Role = p.Role
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, err
	}
	if override := viper.GetString("as-role"); override != "" {
		if !domain.ValidRole(override) {
			return domain.Actor{}, fmt.Errorf("unknown role %s", override)
		}
		actor.Role = override
	}
	return actor, nil
}

func parseMaterials(values []string) ([]domain.MaterialLine, error) {
	var lines []domain.MaterialLine
	for _, s := range values {
		parts := strings.SplitN(s, "|", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("material %q: want name|quantity[|remarks]", s)
		}
		line := domain.MaterialLine{Name: parts[0], Quantity: parts[1]}
		if len(parts) == 3 {
			line.Remarks = parts[2]
		}
		lines = append(lines, line)
	}
	return lines, nil
}

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
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
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
	return fn(ctx, repo.Repo{DB: conn})
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
