package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fernandezvara/accesskit"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	configPath string
	envFile    string
	cfg        *accesskit.Config
	logger     *zap.Logger
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "accesskit",
		Short:         "Access decisions for URLs and method invocations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (env ACCESSKIT_CONFIG)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Dotenv file loaded before the config")

	root.AddCommand(a.serveCmd(), a.checkCmd(), a.rulesCmd(), a.migrateCmd(), a.importCmd(), a.publishCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (a *app) init() error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	cfg, err := accesskit.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = accesskit.NewLogger(cfg.Log)
	return nil
}

func (a *app) authorizer(ctx context.Context, metrics *accesskit.Metrics) (*accesskit.Authorizer, *accesskit.SourceHandle, error) {
	src, err := accesskit.OpenSource(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	authz, err := accesskit.NewAuthorizer(ctx, src.Source, a.cfg.Decision,
		accesskit.WithLogger(a.logger),
		accesskit.WithMetrics(metrics),
		accesskit.WithClosureCache(a.cfg.Cache.ClosureTTL))
	if err != nil {
		_ = src.Close()
		return nil, nil, err
	}
	return authz, src, nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API with periodic reloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.HTTP.JWTSecret == "" {
				return accesskit.NewError(accesskit.ErrInvalidConfig, "http.jwt_secret is required to serve")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			metrics, err := accesskit.NewMetrics(reg)
			if err != nil {
				return err
			}
			authz, src, err := a.authorizer(ctx, metrics)
			if err != nil {
				return err
			}
			defer src.Close()

			opts := []accesskit.AdminOption{
				accesskit.WithGatherer(reg),
				accesskit.WithAdminLogger(a.logger),
			}
			if src.Service != nil {
				opts = append(opts, accesskit.WithHealthMonitor(accesskit.NewHealthService(src.Service)))
			}
			admin := accesskit.NewAdminHandlers(authz, opts...)

			mw := accesskit.NewMiddleware(authz,
				accesskit.WithIdentityExtractor(accesskit.BearerTokenExtractor([]byte(a.cfg.HTTP.JWTSecret))),
				accesskit.WithTrustForwardedFor(a.cfg.HTTP.TrustForwardedFor),
				accesskit.WithMiddlewareLogger(a.logger))

			server := &http.Server{
				Addr:              a.cfg.HTTP.Addr,
				Handler:           accesskit.ServeRouter(mw, admin),
				ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
			}

			sup := accesskit.NewSupervisor("accesskit", a.logger)
			sup.Add(accesskit.NewReloadService(authz, a.cfg.Reload, a.logger))
			sup.Add(accesskit.NewHTTPServerService(server, a.cfg.HTTP.ShutdownTimeout))

			a.logger.Info("accesskit serving",
				zap.String("addr", a.cfg.HTTP.Addr),
				zap.String("source", a.cfg.Source.Kind),
				zap.Strings("voters", authz.Engine().Voters()))

			if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	var principal, roles, addr, method, path, signature string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Decide one request and print the verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			authz, src, err := a.authorizer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer src.Close()

			req := accesskit.DecideRequest{
				Principal:     principal,
				RemoteAddress: addr,
				Method:        method,
				Path:          path,
				Signature:     signature,
			}
			if roles != "" {
				req.Roles = strings.Split(roles, ",")
			}
			key, ok := req.Key()
			if !ok {
				return errors.New("--path starting with / or --signature is required")
			}

			v := authz.Decide(req.Identity(), key)
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return v.Err(req.Identity())
		},
	}
	cmd.Flags().StringVar(&principal, "principal", "", "Principal ID; empty for anonymous")
	cmd.Flags().StringVar(&roles, "roles", "", "Comma-separated roles")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1", "Remote address")
	cmd.Flags().StringVar(&method, "method", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&path, "path", "", "Request path")
	cmd.Flags().StringVar(&signature, "signature", "", "Method signature instead of a path")
	return cmd
}

func (a *app) rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the rule table, hierarchy and allow-list",
		RunE: func(cmd *cobra.Command, args []string) error {
			authz, src, err := a.authorizer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer src.Close()

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tTYPE\tMETHOD\tPATTERN\tROLES")
			for _, r := range authz.Rules().Snapshot().Rules() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Order, r.Type, r.HTTPMethod, r.Pattern, strings.Join(r.RequiredRoles, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Println()
			fmt.Println(authz.Hierarchy().Snapshot().String())
			fmt.Println()
			fmt.Println("allow:", strings.Join(authz.AllowList().Snapshot().Entries(), " "))
			return nil
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.databaseSource(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			applied, err := accesskit.NewMigrationService(src.Service).Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migrations\n", len(applied))
			return nil
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var file, actor string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML rule file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadStatic(cmd.Context(), file)
			if err != nil {
				return err
			}
			src, err := a.databaseSource(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			ctx := accesskit.WithActorID(cmd.Context(), actor)
			if err := src.Service.ImportSource(ctx, doc); err != nil {
				return err
			}
			fmt.Printf("imported %d rules, %d edges, %d addresses\n", len(doc.Rules), len(doc.Hierarchy), len(doc.Addresses))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML rule file")
	cmd.Flags().StringVar(&actor, "actor", "accesskit-cli", "Actor recorded in the audit log")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) publishCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a YAML rule file to Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadStatic(cmd.Context(), file)
			if err != nil {
				return err
			}
			rs, err := accesskit.DialRedis(cmd.Context(), a.cfg.Source.Redis)
			if err != nil {
				return err
			}
			defer rs.Close()

			if err := rs.Publish(cmd.Context(), doc); err != nil {
				return err
			}
			fmt.Printf("published %d rules to %s\n", len(doc.Rules), a.cfg.Source.Redis.Addr)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML rule file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) databaseSource(ctx context.Context) (*accesskit.SourceHandle, error) {
	if a.cfg.Source.Kind != accesskit.SourceDatabase {
		return nil, fmt.Errorf("source.kind must be %q", accesskit.SourceDatabase)
	}
	return accesskit.OpenSource(ctx, a.cfg, a.logger)
}

// loadStatic reads a YAML rule file and validates it completely.
func loadStatic(ctx context.Context, path string) (*accesskit.StaticSource, error) {
	fsrc := accesskit.NewFileSource(path)
	var doc accesskit.StaticSource
	var err error
	if doc.Rules, err = fsrc.LoadRules(ctx); err != nil {
		return nil, err
	}
	if doc.Hierarchy, err = fsrc.LoadHierarchy(ctx); err != nil {
		return nil, err
	}
	if doc.Addresses, err = fsrc.LoadAllowedAddresses(ctx); err != nil {
		return nil, err
	}
	if _, err := accesskit.NewRuleTable(doc.Rules); err != nil {
		return nil, err
	}
	if _, err := accesskit.NewRoleHierarchy(doc.Hierarchy); err != nil {
		return nil, err
	}
	if _, err := accesskit.NewAllowList(doc.Addresses); err != nil {
		return nil, err
	}
	return &doc, nil
}
