// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the aav3 CLI.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette - restrained slate and signal colors for a batch CLI.
var (
	ColorAccent  = lipgloss.Color("#5FAFD7")
	ColorSuccess = lipgloss.Color("#5FD787")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6C7A89")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Banner  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Box     lipgloss.Style
}{
	Banner:  lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 2),
}

// Banner prints a phase banner in the deliberation transcript.
//
//	══════════════════════════════════════
//	PHASE 3: IMPLEMENTATION
//	══════════════════════════════════════
func Banner(title string) {
	rule := Styles.Muted.Render(strings.Repeat("═", 54))
	fmt.Fprintf(os.Stdout, "\n%s\n%s\n%s\n", rule, Styles.Banner.Render(title), rule)
}

// Pass prints a ✓ status line.
func Pass(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "  %s %s\n", Styles.Success.Render("✓"), fmt.Sprintf(format, args...))
}

// Fail prints a ✗ status line.
func Fail(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "  %s %s\n", Styles.Error.Render("✗"), fmt.Sprintf(format, args...))
}

// Skip prints a ⊘ status line for skipped checks.
func Skip(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "  %s %s\n", Styles.Muted.Render("⊘"), fmt.Sprintf(format, args...))
}

// Warn prints a ⚠ status line.
func Warn(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "  %s %s\n", Styles.Warning.Render("⚠"), fmt.Sprintf(format, args...))
}

// Info prints an unadorned transcript line.
func Info(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s\n", fmt.Sprintf(format, args...))
}

// VerdictBox renders the final session verdict.
func VerdictBox(approved bool, approvalRate float64, rounds int) string {
	status := Styles.Error.Render("NOT APPROVED ✗")
	if approved {
		status = Styles.Success.Render("APPROVED ✓")
	}
	body := fmt.Sprintf("%s\nApproval: %.0f%%  Rounds: %d", status, approvalRate*100, rounds)
	return Styles.Box.Render(body)
}
