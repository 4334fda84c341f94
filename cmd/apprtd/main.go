// Command apprtd is the process entrypoint: it resolves configuration and a
// database connection, optionally applies pending migrations eagerly for
// the default tenant, builds the Application, starts it, and waits for
// SIGINT/SIGTERM to shut down gracefully. Grounded on the teacher's own
// cmd/appserver/main.go (flag set, resolveDSN precedence, signal handling,
// timed shutdown), generalized from its Postgres-accounts-domain bootstrap
// to SPEC_FULL.md's infra-only Application.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	app "github.com/meridianhq/apprt/internal/app"
	"github.com/meridianhq/apprt/internal/config"
	"github.com/meridianhq/apprt/internal/platform/database"
	"github.com/meridianhq/apprt/internal/tokenoracle"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config HOST/PORT)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides DATABASE_URL/config)")
	configPath := flag.String("config", "", "APPRT_ENV value selecting config/<env>.env")
	runMigrations := flag.Bool("migrate", true, "apply pending migrations for the default tenant and public namespaces on startup")
	apiTokensFlag := flag.String("api-tokens", "", "comma-separated bearer tokens accepted ahead of the JWT oracle (which still applies when a signing key is configured)")
	flag.Parse()

	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		os.Setenv("APPRT_ENV", trimmed)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if resolved := resolveDSN(*dsn, cfg); resolved != "" {
		cfg.DatabaseURL = resolved
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		host, port := splitAddr(trimmed)
		cfg.Host, cfg.Port = host, port
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	rootCtx := context.Background()

	db, err := database.Open(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()
	configurePool(db, cfg)

	var opts []app.Option
	if tokens := resolveAPITokens(*apiTokensFlag); len(tokens) > 0 {
		static := tokenoracle.NewStaticTokenOracle(tokens, "token")
		if cfg.JWTSigningKey != "" {
			jwtOracle := tokenoracle.NewCached(tokenoracle.NewJWTOracle(cfg.JWTSigningKey, cfg.JWTAudience, "", ""))
			opts = append(opts, app.WithTokenOracle(tokenoracle.CompositeOracle{static, jwtOracle}))
		} else {
			opts = append(opts, app.WithTokenOracle(static))
		}
	}

	application, err := app.New(cfg, db, nil, opts...)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	if *runMigrations {
		for _, namespace := range uniqueNamespaces("public", cfg.DefaultTenant) {
			handle, err := application.Pool.Acquire(rootCtx, namespace)
			if err != nil {
				log.Fatalf("apply migrations for %s: %v", namespace, err)
			}
			if err := application.Pool.Release(handle, nil); err != nil {
				log.Fatalf("release migration handle for %s: %v", namespace, err)
			}
		}
	}

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	log.Printf("apprtd listening on %s", cfg.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// configurePool applies the connection-pool sizing settings from cfg,
// mirroring the teacher's own configurePool (cmd/appserver/main.go).
func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	if cfg.DBConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	}
}

// resolveDSN prefers the command-line flag, then DATABASE_URL, then the
// loaded config's own DatabaseURL, matching the teacher's own precedence
// order in cmd/appserver/main.go's resolveDSN.
func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg != nil {
		return strings.TrimSpace(cfg.DatabaseURL)
	}
	return ""
}

func splitAddr(addr string) (string, int) {
	host, portStr, found := strings.Cut(addr, ":")
	if !found {
		return addr, 0
	}
	port := 0
	for _, r := range portStr {
		if r < '0' || r > '9' {
			return host, 0
		}
		port = port*10 + int(r-'0')
	}
	return host, port
}

func resolveAPITokens(flagTokens string) []string {
	var tokens []string
	tokens = append(tokens, splitTokens(flagTokens)...)
	tokens = append(tokens, splitTokens(os.Getenv("API_TOKENS"))...)
	return tokens
}

func splitTokens(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed
}

func uniqueNamespaces(names ...string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
