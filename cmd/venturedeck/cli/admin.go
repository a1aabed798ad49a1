// Package cli implements the operational RBAC commands used by venturedeckctl.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/venturedeck/venturedeck/internal/permaudit"
	"github.com/venturedeck/venturedeck/internal/rbac"
)

// Exit codes returned by the command helpers.
const (
	ExitOK    = 0
	ExitError = 1
	// ExitDrift signals a successful audit that found drift while --fail-on-drift was set.
	ExitDrift = 10
)

// ReportGenerator produces permission audit reports.
type ReportGenerator interface {
	GenerateReport(ctx context.Context) (permaudit.Report, error)
}

// AdminCLI offers the seed, audit and promotion helpers.
type AdminCLI struct {
	seeder  *rbac.Seeder
	reports ReportGenerator
}

// NewAdminCLI constructs the helper.
func NewAdminCLI(seeder *rbac.Seeder, reports ReportGenerator) (*AdminCLI, error) {
	if seeder == nil {
		return nil, errors.New("cli: seeder is required")
	}
	if reports == nil {
		return nil, errors.New("cli: report generator is required")
	}
	return &AdminCLI{seeder: seeder, reports: reports}, nil
}

// SeedOptions defines the flags of the seed command.
type SeedOptions struct {
	AdminEmail string
	Stdout     io.Writer
	Stderr     io.Writer
}

// SeedCommand upserts the catalog and prints the result as JSON.
func (c *AdminCLI) SeedCommand(ctx context.Context, opts SeedOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	result, err := c.seeder.Seed(ctx, opts.AdminEmail)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: %v\n", err)
		return ExitError
	}
	if err := writeJSON(stdout, result); err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: encode json: %v\n", err)
		return ExitError
	}
	if result.AdminSkip != "" {
		_, _ = fmt.Fprintf(stderr, "seed: bootstrap admin skipped: %s\n", result.AdminSkip)
	}
	return ExitOK
}

// AuditOptions defines the flags of the audit command.
type AuditOptions struct {
	FailOnDrift bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// AuditCommand prints the permission audit report as JSON. With FailOnDrift it
// returns ExitDrift when any user or role drifted.
func (c *AdminCLI) AuditCommand(ctx context.Context, opts AuditOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	report, err := c.reports.GenerateReport(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit: permission audit failed: %v\n", err)
		return ExitError
	}
	if err := writeJSON(stdout, report); err != nil {
		_, _ = fmt.Fprintf(stderr, "audit: encode json: %v\n", err)
		return ExitError
	}
	if opts.FailOnDrift && report.Summary.HasDrift() {
		_, _ = fmt.Fprintf(stderr, "audit: drift detected (%d users, %d roles)\n",
			report.Summary.UsersWithDrift, report.Summary.RolesWithDrift)
		return ExitDrift
	}
	return ExitOK
}

// MakeAdminOptions defines the flags of the make-admin command.
type MakeAdminOptions struct {
	Email  string
	Role   string
	Stdout io.Writer
	Stderr io.Writer
}

// MakeAdminCommand grants a role, admin by default, to the user with Email.
func (c *AdminCLI) MakeAdminCommand(ctx context.Context, opts MakeAdminOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	if opts.Email == "" {
		_, _ = fmt.Fprintln(stderr, "make-admin: email is required")
		return ExitError
	}
	role := opts.Role
	if role == "" {
		role = rbac.RoleAdmin
	}
	user, err := c.seeder.PromoteByEmail(ctx, opts.Email, role, "")
	switch {
	case errors.Is(err, rbac.ErrRoleNotFound):
		_, _ = fmt.Fprintf(stderr, "make-admin: role %s not found, run seed first\n", role)
		return ExitError
	case err != nil:
		_, _ = fmt.Fprintf(stderr, "make-admin: %v\n", err)
		return ExitError
	}
	_, _ = fmt.Fprintf(stdout, "Promoted %s to %s\n", user.Email, role)
	return ExitOK
}

func streams(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
