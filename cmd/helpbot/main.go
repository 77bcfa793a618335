package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"helpbot/internal/app"
	"helpbot/internal/config"
	"helpbot/internal/db"
	"helpbot/internal/domain"
	"helpbot/internal/metrics"
	"helpbot/internal/repo"
	"helpbot/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "helpbot",
	Short: "Registry gazette search assistant",
	Long: `helpbot walks you through a registry gazette search one question at a time:
- Date range: free text such as "son 30 gün" or "Mayıs 2025", resolved by the backend.
- Company: a trade name; when several match you pick one. "geç" skips it unless required.
- Category: the announcement type, when enabled in helpbot.yml.
- City: the trade registry office; filling it runs the search and the summary.
Type "sıfırla" at any time to start over. Results can be filtered, sorted and paged locally.
The backend base address is probed before use and rediscovered when it stops answering.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HELPBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("base", "", "backend base address for this run (overrides helpbot.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("base", rootCmd.PersistentFlags().Lookup("base"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func registerCommands() {
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(backendCmd())
	rootCmd.AddCommand(configCmd())
}

// newLogger writes to stderr so it never interleaves with chat output.
func newLogger(cfg *config.Config) *slog.Logger {
	level := viper.GetString("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	return app.NewLogger(os.Stderr, level, viper.GetBool("log-json") || cfg.Logging.JSON)
}

func withServices(ctx context.Context, fn func(context.Context, *app.Services) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := app.ResolveConfig(workspace, viper.GetString("base"))
	if err != nil {
		return err
	}
	svc, err := app.Open(ctx, cfg, app.Options{Workspace: workspace}, newLogger(cfg))
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Hosts one conversation per session over HTTP. Sign-in is optional: set server.jwt_secret (or HELPBOT_JWT_SECRET) to bind sessions to a bearer token subject.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				scfg := svc.Config.Server
				if addr == "" {
					addr = scfg.Addr
				}
				if basePath == "" {
					basePath = scfg.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:   scfg.JWTSecret,
					RequireAuth: scfg.RequireAuth,
					Logger:      svc.Logger,
				}
				if secret := viper.GetString("jwt-secret"); secret != "" {
					authCfg.JWTSecret = secret
				}
				if authCfg.RequireAuth && authCfg.JWTSecret == "" {
					return fmt.Errorf("HELPBOT_JWT_SECRET is required when server.require_auth is set")
				}
				if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
					return err
				}
				convs := app.NewConversations(svc, scfg.SessionTTL)
				go convs.Run(ctx, scfg.SessionTTL/2)

				handler, err := server.New(server.Config{
					Services:      svc,
					Conversations: convs,
					BasePath:      basePath,
					Auth:          authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				svc.Logger.Info("serving", "addr", addr, "base_path", basePath, "backend", svc.Endpoint.CurrentBase(), "auth", authCfg.JWTSecret != "")
				fmt.Printf("Serving helpbot API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func backendCmd() *cobra.Command {
	be := &cobra.Command{
		Use:   "backend",
		Short: "Inspect or change the backend base address",
		Long:  "The base address is persisted in the workspace. Health is cached for a short TTL; probe and discover always go to the network.",
	}
	be.AddCommand(backendShowCmd())
	be.AddCommand(backendSetCmd())
	be.AddCommand(backendProbeCmd())
	be.AddCommand(backendDiscoverCmd())
	return be
}

type backendReport struct {
	Current     string              `json:"current"`
	Candidates  []string            `json:"candidates"`
	Health      domain.HealthStatus `json:"health"`
	Fresh       bool                `json:"fresh"`
	Discoveries []repo.DiscoveryRun `json:"discoveries,omitempty"`
}

func reportBackend(ctx context.Context, svc *app.Services, withHistory bool) error {
	rep := backendReport{
		Current:    svc.Endpoint.CurrentBase(),
		Candidates: svc.Endpoint.Candidates(),
		Health:     svc.Endpoint.Health(),
		Fresh:      svc.Endpoint.Fresh(),
	}
	if withHistory {
		runs, err := svc.Repo.LatestDiscoveries(ctx, 5)
		if err != nil {
			return err
		}
		rep.Discoveries = runs
	}
	if viper.GetBool("json") {
		return printJSON(rep)
	}
	h := rep.Health
	fmt.Printf("current: %s\n", rep.Current)
	if !h.CheckedAt.IsZero() {
		fmt.Printf("health:  ok=%t rows=%d checked=%s fresh=%t\n", h.OK, h.Rows, h.CheckedAt.Format(time.RFC3339), rep.Fresh)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Candidate"})
	for i, c := range rep.Candidates {
		tw.AppendRow(table.Row{i + 1, c})
	}
	tw.Render()
	if len(rep.Discoveries) > 0 {
		dw := table.NewWriter()
		dw.SetOutputMirror(os.Stdout)
		dw.AppendHeader(table.Row{"Started", "Previous", "Adopted", "Tried"})
		for _, r := range rep.Discoveries {
			dw.AppendRow(table.Row{r.StartedAt, r.PreviousBase, r.AdoptedBase, strings.Join(r.Tried, ", ")})
		}
		dw.Render()
	}
	return nil
}

func backendShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current base, candidates and recent discoveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				return reportBackend(ctx, svc, true)
			})
		},
	}
}

func backendSetCmd() *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "set <base>",
		Short: "Persist a backend base address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				if err := svc.Endpoint.SetBase(ctx, args[0]); err != nil {
					return err
				}
				if probe {
					if _, err := svc.Endpoint.EnsureHealthy(ctx, true); err != nil {
						return err
					}
				}
				return reportBackend(ctx, svc, false)
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", true, "probe the new base right away")
	return cmd
}

func backendProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the current base, discovering another when it fails",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				if _, err := svc.Endpoint.EnsureHealthy(ctx, true); err != nil {
					return err
				}
				return reportBackend(ctx, svc, false)
			})
		},
	}
}

func backendDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Probe every candidate and adopt the first healthy one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				base, ok := svc.Endpoint.AutoDiscover(ctx)
				if !ok {
					return fmt.Errorf("no candidate answered; keeping %s", svc.Endpoint.CurrentBase())
				}
				if !viper.GetBool("json") {
					fmt.Printf("adopted %s\n", base)
				}
				return reportBackend(ctx, svc, true)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in helpbot.yml at the workspace root. Missing keys keep their defaults; run 'helpbot config init' to write the full template.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("base"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default helpbot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate helpbot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.LoadOrDefault(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
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
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
