package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	"github.com/spf13/pflag"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/wsauthz"
	"github.com/oarkflow/wsauthz/logger"
	"github.com/oarkflow/wsauthz/stores"
)

// exitError carries a process exit code without printing anything.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitError) ExitCode() int { return int(e) }

func main() {
	if err := run(os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return exitError(1)
	}
	switch args[0] {
	case "convert":
		return handleConvert(args[1:])
	case "validate":
		return handleValidate(args[1:])
	case "stats":
		return handleStats(args[1:])
	case "check":
		return handleCheck(args[1:])
	case "apply":
		return handleApply(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Println("wsauthz-config - Configuration tool for workspace authorization")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  wsauthz-config convert <input> <output>   - Convert between formats")
	fmt.Println("  wsauthz-config validate <file>            - Validate statement and roles")
	fmt.Println("  wsauthz-config stats <file>               - Show configuration statistics")
	fmt.Println("  wsauthz-config check <file> [flags]       - Evaluate one check against the config")
	fmt.Println("  wsauthz-config apply <file> --db <path>   - Write grants and workspace roles to SQLite")
	fmt.Println()
	fmt.Println("Supported formats: .authz, .dsl, .yaml, .yml, .json")
	fmt.Println("check exits 0 on allow, 1 on deny, 2 on indeterminate.")
}

func handleConvert(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: wsauthz-config convert <input> <output>")
	}
	cfg, err := loadConfig(args[0])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := saveConfig(cfg, args[1]); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Converted %s -> %s\n", args[0], args[1])
	return nil
}

func handleValidate(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wsauthz-config validate <file>")
	}
	cfg, err := loadConfig(args[0])
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	stmt, roles, err := authz.Bootstrap(cfg)
	if err != nil {
		fmt.Println("Configuration is invalid:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  %s\n", line)
		}
		return exitError(1)
	}
	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:   %d\n", cfg.Version)
	fmt.Printf("  Resources: %d (%d permissions)\n", len(stmt.Resources()), stmt.Len())
	fmt.Printf("  Roles:     %d\n", roles.Len())
	fmt.Printf("  Grants:    %d\n", len(cfg.Grants))
	return nil
}

func handleStats(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wsauthz-config stats <file>")
	}
	cfg, err := loadConfig(args[0])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stat, _ := os.Stat(args[0])

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	pairs := 0
	for _, rc := range cfg.Statement {
		pairs += len(rc.Actions)
	}
	fmt.Println("Components:")
	fmt.Printf("  Resources:       %d\n", len(cfg.Statement))
	fmt.Printf("  Permissions:     %d\n", pairs)
	fmt.Printf("  Roles:           %d\n", len(cfg.Roles))
	fmt.Printf("  Workspace roles: %d\n", len(cfg.WorkspaceRoles))
	fmt.Printf("  Grants:          %d\n", len(cfg.Grants))
	if cfg.Owner != "" {
		fmt.Printf("  Owner role:      %s\n", cfg.Owner)
	}
	fmt.Println()

	if len(cfg.Roles) > 0 {
		total := 0
		for _, r := range cfg.Roles {
			total += r.Permissions.Len()
		}
		fmt.Println("Role Details:")
		for _, r := range cfg.Roles {
			fmt.Printf("  %-16s %d\n", r.Name, r.Permissions.Len())
		}
		fmt.Printf("  Avg per role:    %.1f\n", float64(total)/float64(len(cfg.Roles)))
		fmt.Println()
	}

	workspaces := make(map[string]int)
	for _, g := range cfg.Grants {
		workspaces[g.Workspace]++
	}
	if len(workspaces) > 0 {
		fmt.Printf("Workspaces with grants: %d\n", len(workspaces))
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Grant cache TTL:     %dms\n", cfg.Engine.GrantCacheTTL)
	fmt.Printf("  Audit buffer:        %d\n", cfg.Engine.AuditBuffer)
	fmt.Printf("  Batch worker count:  %d\n", cfg.Engine.BatchWorkerCount)
	fmt.Printf("  Resolve timeout:     %dms\n", cfg.Engine.ResolveTimeout)
	return nil
}

func handleCheck(args []string) error {
	var identity, workspace, resource, action, logLevel, logFormat string
	var explain, asJSON bool

	flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
	flagSet.StringVar(&identity, "identity", "", "identity id")
	flagSet.StringVar(&workspace, "workspace", "", "workspace id")
	flagSet.StringVar(&resource, "resource", "", "resource name")
	flagSet.StringVar(&action, "action", "", "action name")
	flagSet.BoolVar(&explain, "explain", false, "print the evaluation trace")
	flagSet.BoolVar(&asJSON, "json", false, "print the decision as JSON")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or phuslu")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	rest := flagSet.Args()
	if len(rest) != 1 {
		return errors.New("usage: wsauthz-config check <file> --identity <id> --workspace <id> --resource <r> --action <a>")
	}
	cfg, err := loadConfig(rest[0])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(logFormat, logLevel)
	if err != nil {
		return err
	}

	ctx := context.Background()
	grants := stores.NewMemoryGrantStore()
	if err := authz.ApplyGrants(ctx, grants, cfg); err != nil {
		return err
	}
	customRoles := stores.NewMemoryWorkspaceRoleStore()
	engine, err := authz.NewEngineFromConfig(cfg, grants,
		authz.WithLogger(log),
		authz.WithWorkspaceRoles(customRoles),
	)
	if err != nil {
		return err
	}
	defer engine.Close()
	if err := authz.ApplyWorkspaceRoles(ctx, engine, customRoles, cfg); err != nil {
		return err
	}

	var d authz.Decision
	if explain {
		d = engine.Explain(ctx, identity, workspace, authz.Resource(resource), authz.Action(action))
	} else {
		d = engine.Check(ctx, identity, workspace, authz.Resource(resource), authz.Action(action))
	}
	if asJSON {
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		for _, line := range d.Trace {
			fmt.Println(line)
		}
		fmt.Println(d.String())
	}
	switch d.Outcome {
	case authz.Allow:
		return nil
	case authz.Indeterminate:
		return exitError(2)
	default:
		return exitError(1)
	}
}

func handleApply(args []string) error {
	var dbPath string
	flagSet := pflag.NewFlagSet("apply", pflag.ContinueOnError)
	flagSet.StringVar(&dbPath, "db", "", "SQLite database file")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	rest := flagSet.Args()
	if len(rest) != 1 || dbPath == "" {
		return errors.New("usage: wsauthz-config apply <file> --db <path>")
	}
	cfg, err := loadConfig(rest[0])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", dbPath)

	ctx := context.Background()
	if err := stores.Migrate(ctx, db); err != nil {
		return err
	}
	customRoles := stores.NewSQLWorkspaceRoleStore(db)
	grants := stores.NewSQLGrantStore(db)
	engine, err := authz.NewEngineFromConfig(cfg, grants, authz.WithWorkspaceRoles(customRoles))
	if err != nil {
		return err
	}
	defer engine.Close()
	if err := authz.ApplyWorkspaceRoles(ctx, engine, customRoles, cfg); err != nil {
		return err
	}
	if err := authz.ApplyGrants(ctx, grants, cfg); err != nil {
		return err
	}

	fmt.Printf("Configuration applied to %s\n", dbPath)
	fmt.Printf("  Workspace roles: %d\n", len(cfg.WorkspaceRoles))
	fmt.Printf("  Grants:          %d\n", len(cfg.Grants))
	return nil
}

func newLogger(format, level string) (logger.Logger, error) {
	if format == "phuslu" {
		return logger.NewPhusluLogger(), nil
	}
	if format != "text" {
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return logger.NewSLogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))), nil
}

func loadConfig(filename string) (*authz.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".authz", ".dsl":
		parser := authz.NewDSLParser()
		return parser.Parse(data)
	case ".yaml", ".yml":
		loader := authz.NewConfigLoader()
		return loader.LoadYAML(data)
	case ".json":
		loader := authz.NewConfigLoader()
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *authz.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".authz", ".dsl":
		data, err = authz.NewDSLEncoder().Encode(cfg)
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
