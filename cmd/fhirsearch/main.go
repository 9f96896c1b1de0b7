package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirsearch/internal/config"
	"github.com/ehr/fhirsearch/internal/domain/resource"
	"github.com/ehr/fhirsearch/internal/platform/db"
	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/middleware"
	"github.com/ehr/fhirsearch/internal/platform/search"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
	"github.com/ehr/fhirsearch/internal/platform/store"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "fhirsearch",
		Short:        "FHIR search and reference server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(paramsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(out).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// loadRegistry returns the default catalog extended with
// SEARCH_PARAMETERS_FILE, when set.
func loadRegistry(cfg *config.Config) (*searchparam.Registry, error) {
	base := searchparam.Default()
	if cfg.SearchParametersFile == "" {
		return base, nil
	}
	return searchparam.LoadFile(base, cfg.SearchParametersFile)
}

func newEngine(cfg *config.Config, st store.Store, reg *searchparam.Registry, logger zerolog.Logger, registerer prometheus.Registerer) (*search.Engine, error) {
	cache, err := search.NewIndexCache(cfg.IndexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	provider := searchparam.NewProvider(reg, cfg.TenantParametersDir, cfg.RegistryCacheTTL)
	opts := []search.Option{
		search.WithLogger(logger.With().Str("component", "search").Logger()),
		search.WithIndexCache(cache),
	}
	if registerer != nil {
		opts = append(opts, search.WithMetrics(search.NewMetrics(registerer)))
	}
	return search.NewEngine(st, provider, search.Config{
		BaseURL:       cfg.BaseURL,
		DefaultCount:  cfg.DefaultPageSize,
		MaxCount:      cfg.MaxPageSize,
		MaxIncludes:   cfg.MaxIncludes,
		MaxChainDepth: cfg.MaxChainDepth,
	}, opts...), nil
}

// newServer wires the middleware chain and routes. pool may be nil when
// resources live in memory.
func newServer(cfg *config.Config, logger zerolog.Logger, st store.Store, pool *pgxpool.Pool, reg *searchparam.Registry) (*echo.Echo, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := newEngine(cfg, st, reg, logger, registry)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = resource.ErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(middleware.NewHTTPMetrics(registry)))
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Content-Type", "If-Match", "If-None-Match", "Prefer", middleware.RequestIDHeader, middleware.TenantHeader},
		ExposeHeaders: []string{"ETag", "Location", "Last-Modified", "X-FHIR-Handling", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	fhirGroup := e.Group("/fhir",
		middleware.Tenant(cfg.DefaultTenant),
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.BodyLimit(cfg.BodyLimit),
		fhir.PreferMiddleware(),
	)
	svc := resource.NewService(st, engine, cfg.BaseURL)
	resource.NewHandler(svc).RegisterRoutes(fhirGroup)

	return e, nil
}

// openStore connects to PostgreSQL when DATABASE_URL is set and falls back
// to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *pgxpool.Pool, error) {
	if !cfg.UsesDatabase() {
		return store.NewMemory(), nil, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewResourceStore(pool, db.EmbeddedMigrations(), cfg.DefaultTenant), pool, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	reg, err := loadRegistry(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load search parameters")
		return err
	}

	ctx := context.Background()
	st, pool, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, resources are kept in memory")
	}

	e, err := newServer(cfg, logger, st, pool, reg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("base_url", cfg.BaseURL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return db.EmbeddedMigrations()
	}
	return os.DirFS(dir)
}

func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.UsesDatabase() {
		return fmt.Errorf("DATABASE_URL is required")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")
			schema, err := db.SchemaName(tenant)
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := db.NewMigrator(pool, migrationsFS(dir)).Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")
			schema, err := db.SchemaName(tenant)
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("tenant", "default", "Tenant whose schema is inspected")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: tenant_%s\n", name)
				if err := db.CreateTenantSchema(ctx, pool, name, db.EmbeddedMigrations()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// loadBundle stores every entry of a JSON bundle. Entries with an id keep
// it; the others get a server-assigned one.
func loadBundle(ctx context.Context, st store.Store, r io.Reader) (int, error) {
	var bundle struct {
		Entry []struct {
			Resource map[string]interface{} `json:"resource"`
		} `json:"entry"`
	}
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return 0, fmt.Errorf("decode bundle: %w", err)
	}
	n := 0
	for i, e := range bundle.Entry {
		rt := fhir.StringAt(e.Resource, "resourceType")
		if rt == "" {
			return n, fmt.Errorf("entry %d has no resourceType", i)
		}
		var err error
		if id := fhir.StringAt(e.Resource, "id"); id != "" {
			_, err = st.Update(ctx, rt, id, e.Resource, 0)
		} else {
			_, err = st.Create(ctx, rt, e.Resource)
		}
		if err != nil {
			return n, fmt.Errorf("entry %d: %w", i, err)
		}
		n++
	}
	return n, nil
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a search against the resources of a bundle file",
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceType, _ := cmd.Flags().GetString("type")
			query, _ := cmd.Flags().GetString("query")
			data, _ := cmd.Flags().GetString("data")
			strict, _ := cmd.Flags().GetBool("strict")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			st := store.NewMemory()
			ctx := store.WithTenant(context.Background(), cfg.DefaultTenant)
			if data != "" {
				f, err := os.Open(data)
				if err != nil {
					return err
				}
				defer f.Close()
				if _, err := loadBundle(ctx, st, f); err != nil {
					return err
				}
			}

			logger := newLogger(cfg, cmd.ErrOrStderr())
			engine, err := newEngine(cfg, st, reg, logger, nil)
			if err != nil {
				return err
			}
			params, err := search.ParseRawQuery(query)
			if err != nil {
				return err
			}
			handling := fhir.HandlingLenient
			if strict {
				handling = fhir.HandlingStrict
			}
			res, err := engine.Search(ctx, resourceType, params, handling)
			if err != nil {
				return err
			}
			bundle, err := res.Bundle(cfg.BaseURL, resourceType)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(bundle)
		},
	}
	cmd.Flags().String("type", "", "Resource type to search (empty for a system search)")
	cmd.Flags().String("query", "", "Query string, e.g. 'name=smith&_count=5'")
	cmd.Flags().String("data", "", "JSON bundle whose entries are searched")
	cmd.Flags().Bool("strict", false, "Reject unknown parameters instead of warning")
	return cmd
}

func paramsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the search parameters of a resource type as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceType, _ := cmd.Flags().GetString("type")
			tenant, _ := cmd.Flags().GetString("tenant")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			if tenant != "" {
				reg, err = searchparam.NewProvider(reg, cfg.TenantParametersDir, cfg.RegistryCacheTTL).ForTenant(tenant)
				if err != nil {
					return err
				}
			}
			if !reg.IsResourceType(resourceType) {
				return fmt.Errorf("unknown resource type %q", resourceType)
			}
			return searchparam.Encode(cmd.OutOrStdout(), reg.Params(resourceType))
		},
	}
	cmd.Flags().String("type", "", "Resource type")
	cmd.Flags().String("tenant", "", "Include the extensions of this tenant")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
