// Package command runs scheduler command-line tools and captures their output.
package command

import (
	"context"
	"fmt"
	"strings"
)

// Command describes a single external invocation.
type Command struct {
	Name  string   // Binary name, resolved against the runner's bin dir or PATH
	Args  []string // Arguments, passed without shell interpretation
	Dir   string   // Working directory (empty = inherit)
	Umask *int     // File-creation mask for the spawned process only (nil = inherit)
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands synchronously.
//
// Run returns an error only when the command could not be launched or was
// killed (missing binary, timeout, cancelled context). A command that ran and
// exited non-zero is reported through Result.ExitCode with a nil error.
// On error the returned Result may still carry partial output.
type Runner interface {
	Run(ctx context.Context, cmd *Command) (*Result, error)
}

// Resolver reports whether a binary can be found.
type Resolver interface {
	Resolve(name string) (string, error)
}

// Umask returns a pointer to mask, for Command.Umask.
func Umask(mask int) *int {
	return &mask
}

// String renders the command line for logs.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			parts = append(parts, fmt.Sprintf("%q", a))
			continue
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Binaries is a readiness check that every named binary resolves.
type Binaries struct {
	Resolver Resolver
	Names    []string
}

// Ready returns the first resolution failure.
func (b Binaries) Ready(_ context.Context) error {
	for _, name := range b.Names {
		if _, err := b.Resolver.Resolve(name); err != nil {
			return fmt.Errorf("%s not found: %w", name, err)
		}
	}
	return nil
}
