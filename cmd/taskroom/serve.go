package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"taskroom/internal/app"
	"taskroom/internal/domain"
	"taskroom/internal/engine"
	"taskroom/internal/server"
	taskroomsdk "taskroom/sdk/go"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("TASKROOM_JWT_SECRET is required for bearer auth")
			}
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			log := rt.Log
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Log:      log,
				Auth:     server.AuthConfig{JWTSecret: secret, AllowLegacyHeaders: legacy},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				log.WithField("addr", addr).Info("taskroom api listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			fmt.Printf("Serving Taskroom API on http://%s%s (Swagger UI at /docs)\n", addr, basePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&legacy, "allow-legacy-headers", false, "accept X-User-Id and X-Org-Id headers without a credential")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var (
		n                             int
		evtType, entityKind, entityID string
		follow                        bool
		interval                      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tail <project>",
		Short: "Tail events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				evs, err := rt.Engine.Events(ctx, actor, engine.EventQuery{
					ProjectID: args[0], Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n,
				})
				if err != nil {
					return err
				}
				// Newest first from the store; print oldest first.
				for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
					evs[i], evs[j] = evs[j], evs[i]
				}
				if err := printEvents(evs); err != nil || !follow {
					return err
				}
				var lastTS, lastID string
				if len(evs) > 0 {
					lastTS, lastID = evs[len(evs)-1].TS, evs[len(evs)-1].ID
				} else {
					lastTS = domain.FormatTime(time.Now())
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					next, err := rt.Engine.EventsSince(ctx, actor, args[0], lastTS, lastID, 0)
					if err != nil {
						return err
					}
					if len(next) == 0 {
						continue
					}
					lastTS, lastID = next[len(next)-1].TS, next[len(next)-1].ID
					if err := printEvents(next); err != nil {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

func printEvents(evs []domain.Event) error {
	rows := make([]table.Row, 0, len(evs))
	for _, ev := range evs {
		rows = append(rows, table.Row{ev.TS, ev.Type, ev.EntityKind, deref(ev.EntityID), ev.ActorID})
	}
	return printTable(evs, table.Row{"TS", "Type", "Kind", "Entity", "Actor"}, rows)
}

func watchCmd() *cobra.Command {
	var (
		baseURL, apiKey, token string
		interval               time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a running server for your mention badge",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" && token == "" {
				return fmt.Errorf("--api-key or --token is required")
			}
			client := taskroomsdk.New(baseURL)
			client.APIKey = apiKey
			client.BearerToken = token
			err := client.PollMentions(cmd.Context(), interval, func(m taskroomsdk.Mentions) error {
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Printf("%s  %d unread mention(s)\n", time.Now().Format(time.Kitchen), m.Total)
				for _, it := range m.Items {
					fmt.Printf("  %-20s %d\n", it.ProjectName, it.MentionCount)
				}
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080/v1", "API base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	return cmd
}
