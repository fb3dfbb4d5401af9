package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskroom/internal/app"
	"taskroom/internal/config"
	"taskroom/internal/db"
	"taskroom/internal/domain"
	"taskroom/internal/engine"
	"taskroom/internal/migrate"
	"taskroom/internal/server"
)

func initCmd() *cobra.Command {
	var orgID, orgName, admin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, an org and its first super admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Admin.Bootstrap(ctx, app.BootstrapOptions{OrgID: orgID, OrgName: orgName, AdminUsername: admin})
				if err != nil {
					return err
				}
				if err := setEnvValues(filepath.Join(workspace, envFile), map[string]string{
					"TASKROOM_ORG":  res.Org.ID,
					"TASKROOM_USER": res.Admin.Username,
				}); err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", "", "org id (derived from --org-name when empty)")
	cmd.Flags().StringVar(&orgName, "org-name", "", "org display name")
	cmd.Flags().StringVar(&admin, "admin", "admin", "username of the first super admin")
	_ = cmd.MarkFlagRequired("org-name")
	return cmd
}

// setEnvValues merges values into a dotenv file.
func setEnvValues(path string, values map[string]string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	for k, v := range values {
		env[k] = v
	}
	return godotenv.Write(env, path)
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	var displayName, role string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user and add them to the org",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				u, err := rt.Admin.CreateUser(ctx, org, args[0], displayName, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	add.Flags().StringVar(&displayName, "display-name", "", "display name")
	add.Flags().StringVar(&role, "role", domain.RoleMember, "member or super_admin")
	usr.AddCommand(add)
	return usr
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Inspect the org"}
	org.AddCommand(&cobra.Command{
		Use:     "members",
		Aliases: []string{"member"},
		Short:   "List org members",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := requireOrg()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				members, err := rt.Admin.OrgMembers(ctx, orgID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(members))
				for _, m := range members {
					rows = append(rows, table.Row{m.UserID, m.Username, m.Role, m.CreatedAt})
				}
				return printTable(members, table.Row{"User ID", "Username", "Role", "Joined"}, rows)
			})
		},
	})
	return org
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectArchiveCmd())
	prj.AddCommand(projectMemberCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, parent, desc string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project; the acting user becomes its first member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				p, err := rt.Admin.CreateProject(ctx, app.CreateProjectOptions{
					OrgID:       actor.OrgID,
					ID:          id,
					Name:        args[0],
					ParentID:    parent,
					Description: desc,
					CreatorID:   actor.UserID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (slug of the name when empty)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				items, err := rt.Engine.Projects(ctx, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.Name, p.Status, deref(p.ParentID)})
				}
				return printTable(items, table.Row{"ID", "Name", "Status", "Parent"}, rows)
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project>",
		Short: "Show task counts per status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				report, err := rt.Engine.ProjectStatus(ctx, actor, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(domain.TaskStatuses))
				for _, s := range domain.TaskStatuses {
					rows = append(rows, table.Row{s, report.TaskCounts[s]})
				}
				return printTable(report, table.Row{"Status", "Tasks"}, rows)
			})
		},
	}
}

func projectArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <project>",
		Short: "Mark a project archived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				if err := rt.Admin.ArchiveProject(ctx, actor.OrgID, args[0], actor.UserID); err != nil {
					return err
				}
				fmt.Printf("project %s archived\n", args[0])
				return nil
			})
		},
	}
}

func projectMemberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage project membership"}
	member.AddCommand(&cobra.Command{
		Use:   "add <project> <user>...",
		Short: "Grant users access to a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				ids, err := resolveUserIDs(ctx, rt, args[1:])
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := rt.Admin.AddProjectMember(ctx, actor.OrgID, args[0], id, actor.UserID); err != nil {
						return err
					}
				}
				fmt.Printf("added %d member(s) to %s\n", len(ids), args[0])
				return nil
			})
		},
	})
	member.AddCommand(&cobra.Command{
		Use:   "remove <project> <user>...",
		Short: "Revoke project access",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				ids, err := resolveUserIDs(ctx, rt, args[1:])
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := rt.Admin.RemoveProjectMember(ctx, actor.OrgID, args[0], id, actor.UserID); err != nil {
						return err
					}
				}
				fmt.Printf("removed %d member(s) from %s\n", len(ids), args[0])
				return nil
			})
		},
	})
	return member
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project settings",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show <project>",
		Short: "Show project settings stored in the DB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				c, err := rt.Engine.ProjectConfig(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				out, err := c.YAML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "template <project>",
		Short: "Print default settings YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(args[0]))
			return nil
		},
	})
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project settings from YAML into the DB",
		Long:  "Reads --file, or taskroom.yml in the workspace when --file is empty. The project is taken from project.id.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if filePath != "" {
				cfg, err = config.FromFile(filePath)
			} else {
				cfg, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				if err := rt.Engine.ImportProjectConfig(ctx, actor, cfg.Project.ID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML settings")
	return cmd
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys of the acting user"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a key; the secret is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				secret, key, err := rt.Admin.IssueAPIKey(ctx, actor.OrgID, actor.UserID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"key": key, "secret": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	keys.AddCommand(create)
	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				items, err := rt.Admin.APIKeys(ctx, actor.OrgID, actor.UserID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.Name, k.CreatedAt})
				}
				return printTable(items, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	})
	keys.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				if err := rt.Admin.RevokeAPIKey(ctx, actor.OrgID, args[0]); err != nil {
					return err
				}
				fmt.Printf("api key %s revoked\n", args[0])
				return nil
			})
		},
	})
	return keys
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("TASKROOM_JWT_SECRET is required")
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				signed, err := server.IssueToken(secret, actor, ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": signed, "expires_in": int(ttl.Seconds())})
				}
				fmt.Println(signed)
				return nil
			})
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	tok.AddCommand(issue)
	return tok
}

func dbCmd() *cobra.Command {
	d := &cobra.Command{Use: "db", Short: "Database maintenance"}
	d.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				v, err := migrate.Version(rt.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"version": v})
				}
				fmt.Printf("schema version %d\n", v)
				return nil
			})
		},
	})
	return d
}
