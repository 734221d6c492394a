package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/a-marczewski/aifred/internal/config"
	"github.com/a-marczewski/aifred/internal/storage"
)

// Diagnostics holds diagnostic information
type Diagnostics struct {
	Checks []CheckResult `json:"checks"`
	Issues []string      `json:"issues"`
	Status string        `json:"status"`
}

// CheckResult represents the result of a single check
type CheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "fail", "warn"
	Message  string `json:"message"`
	Severity string `json:"severity"` // "info", "warning", "error"
}

// ModelLister is a transport whose model listing doubles as a reachability
// check.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Runner runs diagnostic checks
type Runner struct {
	config     *config.Config
	db         *storage.DB
	transports map[string]ModelLister
}

// NewRunner creates a new diagnostic runner. transports maps route names to
// the providers serving them; nil skips the transport checks.
func NewRunner(cfg *config.Config, db *storage.DB, transports map[string]ModelLister) *Runner {
	return &Runner{
		config:     cfg,
		db:         db,
		transports: transports,
	}
}

// RunAll runs all diagnostic checks
func (d *Runner) RunAll(ctx context.Context) *Diagnostics {
	var results []CheckResult
	var issues []string

	results = append(results, d.checkDatabaseConnectivity()...)
	results = append(results, d.checkFileSystemPermissions()...)
	results = append(results, d.checkConfiguration()...)
	results = append(results, d.checkStorageHealth(ctx)...)
	results = append(results, d.checkTransports(ctx)...)

	for _, result := range results {
		if result.Status == "fail" {
			issues = append(issues, result.Message)
		}
	}

	status := "healthy"
	if len(issues) > 0 {
		status = "issues_found"
	}

	return &Diagnostics{
		Checks: results,
		Issues: issues,
		Status: status,
	}
}

func pass(name, msg string) CheckResult {
	return CheckResult{Name: name, Status: "pass", Message: msg, Severity: "info"}
}

func fail(name, msg string) CheckResult {
	return CheckResult{Name: name, Status: "fail", Message: msg, Severity: "error"}
}

func warn(name, msg string) CheckResult {
	return CheckResult{Name: name, Status: "warn", Message: msg, Severity: "warning"}
}

func (d *Runner) checkDatabaseConnectivity() []CheckResult {
	if d.db == nil {
		return []CheckResult{fail("database_connectivity", "Database is not open")}
	}
	if err := d.db.Ping(); err != nil {
		return []CheckResult{fail("database_connectivity", fmt.Sprintf("Cannot connect to database: %v", err))}
	}
	results := []CheckResult{pass("database_connectivity", "Database connection successful")}

	version, err := d.db.Version()
	switch {
	case err != nil:
		results = append(results, fail("database_schema", fmt.Sprintf("Cannot read schema version: %v", err)))
	case version != storage.SchemaVersion:
		results = append(results, fail("database_schema",
			fmt.Sprintf("Schema version %d, expected %d", version, storage.SchemaVersion)))
	default:
		results = append(results, pass("database_schema", fmt.Sprintf("Schema version %d", version)))
	}
	return results
}

// checkFileSystemPermissions checks filesystem permissions for the .aifred directory
func (d *Runner) checkFileSystemPermissions() []CheckResult {
	var results []CheckResult

	dir := d.config.AifredDir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []CheckResult{fail("aifred_directory_exists", fmt.Sprintf(".aifred directory does not exist: %s", dir))}
	} else if err != nil {
		return []CheckResult{fail("aifred_directory_access", fmt.Sprintf("Cannot access .aifred directory: %v", err))}
	}

	if err := testDirectoryPermissions(dir); err != nil {
		results = append(results, fail("aifred_directory_permissions",
			fmt.Sprintf("Insufficient permissions for .aifred directory: %v", err)))
	} else {
		results = append(results, pass("aifred_directory_permissions", "Sufficient permissions for .aifred directory"))
	}

	subdirs := []string{
		filepath.Join(dir, "logs"),
		filepath.Join(dir, "run"),
		filepath.Join(dir, "store"),
	}
	for _, subdir := range subdirs {
		name := filepath.Base(subdir)
		if _, err := os.Stat(subdir); os.IsNotExist(err) {
			results = append(results, warn(name+"_exists", fmt.Sprintf("Subdirectory does not exist: %s", subdir)))
		} else if err != nil {
			results = append(results, fail(name+"_access", fmt.Sprintf("Cannot access subdirectory: %v", err)))
		} else {
			results = append(results, pass(name+"_access", fmt.Sprintf("Accessible subdirectory: %s", subdir)))
		}
	}

	return results
}

// testDirectoryPermissions tests if we can read and write to a directory
func testDirectoryPermissions(dir string) error {
	testFile := filepath.Join(dir, ".permission_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return err
	}
	os.Remove(testFile)
	return nil
}

func (d *Runner) checkConfiguration() []CheckResult {
	var results []CheckResult
	if err := d.config.Validate(); err != nil {
		results = append(results, fail("configuration_validation", fmt.Sprintf("Configuration validation failed: %v", err)))
	} else {
		results = append(results, pass("configuration_validation", "Configuration is valid"))
	}

	switch {
	case d.config.HasCloudKey():
		results = append(results, pass("cloud_key", "Cloud API key configured"))
	case d.config.LegacyMode:
		results = append(results, warn("cloud_key", "No cloud API key, turns use the legacy transport"))
	case d.config.LocalMode:
		results = append(results, warn("cloud_key", "No cloud API key, turns need the local transport"))
	default:
		results = append(results, fail("cloud_key", "No cloud API key and legacy mode disabled, no route is available"))
	}
	if d.config.AllowCloudPrivate {
		results = append(results, warn("privacy_guard", "Private requests may be sent to the cloud transport"))
	}
	return results
}

func (d *Runner) checkStorageHealth(ctx context.Context) []CheckResult {
	var results []CheckResult

	if _, err := os.Stat(d.config.DBPath); os.IsNotExist(err) {
		results = append(results, fail("database_file_exists", fmt.Sprintf("Database file does not exist: %s", d.config.DBPath)))
	} else if err != nil {
		results = append(results, fail("database_file_access", fmt.Sprintf("Cannot access database file: %v", err)))
	} else {
		results = append(results, pass("database_file_access", "Database file is accessible"))
	}

	if d.db == nil {
		return results
	}
	verdict, err := d.db.IntegrityCheck(ctx)
	switch {
	case err != nil:
		results = append(results, fail("database_integrity", fmt.Sprintf("Database integrity check failed: %v", err)))
	case verdict != "ok":
		results = append(results, fail("database_integrity", fmt.Sprintf("Database integrity check reported: %s", verdict)))
	default:
		results = append(results, pass("database_integrity", "Database integrity check passed"))
	}
	return results
}

// checkTransports lists models on every configured route. An unreachable
// transport is a warning since routing falls back across them.
func (d *Runner) checkTransports(ctx context.Context) []CheckResult {
	routes := make([]string, 0, len(d.transports))
	for route := range d.transports {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	var results []CheckResult
	for _, route := range routes {
		name := "transport_" + route
		models, err := d.transports[route].ListModels(ctx)
		if err != nil {
			results = append(results, warn(name, fmt.Sprintf("%s transport unavailable: %v", route, err)))
			continue
		}
		results = append(results, pass(name, fmt.Sprintf("%s transport lists %d models", route, len(models))))
	}
	return results
}

// PrintReport writes a formatted diagnostic report
func (d *Diagnostics) PrintReport(w io.Writer) {
	fmt.Fprintf(w, "=== AIFRED Diagnostic Report ===\n")
	fmt.Fprintf(w, "Status: %s\n\n", d.Status)

	if len(d.Issues) > 0 {
		fmt.Fprintf(w, "Issues Found:\n")
		for i, issue := range d.Issues {
			fmt.Fprintf(w, "  %d. %s\n", i+1, issue)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Detailed Checks:\n")
	for _, check := range d.Checks {
		statusSymbol := "✓"
		if check.Status == "fail" {
			statusSymbol = "✗"
		} else if check.Status == "warn" {
			statusSymbol = "!"
		}
		fmt.Fprintf(w, "  %s %s: %s\n", statusSymbol, check.Name, check.Message)
	}

	fmt.Fprintln(w, "\nRecommendations:")
	if len(d.Issues) == 0 {
		fmt.Fprintln(w, "  ✓ System is operating normally")
	} else {
		fmt.Fprintln(w, "  • Check the .aifred directory permissions")
		fmt.Fprintln(w, "  • Verify database file is not corrupted")
		fmt.Fprintln(w, "  • Review configuration settings")
	}
}
