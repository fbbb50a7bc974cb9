// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodire/aav3/pkg/logging"
	"github.com/custodire/aav3/services/deliberation/agents"
	"github.com/custodire/aav3/services/deliberation/config"
	"github.com/custodire/aav3/services/deliberation/envprobe"
	"github.com/custodire/aav3/services/deliberation/ledger"
	"github.com/custodire/aav3/services/deliberation/llm"
	"github.com/custodire/aav3/services/deliberation/orchestrator"
	"github.com/custodire/aav3/services/deliberation/subproc"
)

// rootFlags holds the CLI flag values before resolution.
type rootFlags struct {
	task               string
	sessionID          string
	configPath         string
	maxRounds          int
	consensusThreshold float64
	model              string
	llmBackend         string
	artifactsRoot      string
	logLevel           string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "aav3",
		Short:         "Autonomous multi-agent deliberation over a software task",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.task, "task", "", "task text, or path to a task file (required)")
	cmd.Flags().StringVar(&flags.sessionID, "session-id", "", "session id (auto-generated if empty)")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "yaml config file")
	cmd.Flags().IntVar(&flags.maxRounds, "max-rounds", 0, "upper bound on test/fix rounds")
	cmd.Flags().Float64Var(&flags.consensusThreshold, "consensus-threshold", 0, "approval share required for approved=true")
	cmd.Flags().StringVar(&flags.model, "model", "", "LLM model identifier")
	cmd.Flags().StringVar(&flags.llmBackend, "llm-backend", "", "auto|openai|anthropic")
	cmd.Flags().StringVar(&flags.artifactsRoot, "artifacts-root", "", "parent directory for session directories")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "debug|info|warn|error")
	cmd.MarkFlagRequired("task")

	cmd.AddCommand(newSessionsCmd(&flags))
	return cmd
}

// overridesFromFlags converts only the flags the user actually set.
func overridesFromFlags(cmd *cobra.Command, flags rootFlags) config.Overrides {
	var over config.Overrides
	if cmd.Flags().Changed("max-rounds") {
		over.MaxRounds = &flags.maxRounds
	}
	if cmd.Flags().Changed("consensus-threshold") {
		over.ConsensusThreshold = &flags.consensusThreshold
	}
	if cmd.Flags().Changed("model") {
		over.Model = &flags.model
	}
	if cmd.Flags().Changed("llm-backend") {
		over.LLMBackend = &flags.llmBackend
	}
	if cmd.Flags().Changed("artifacts-root") {
		over.ArtifactsRoot = &flags.artifactsRoot
	}
	if cmd.Flags().Changed("log-level") {
		over.LogLevel = &flags.logLevel
	}
	return over
}

// readTask loads the task brief: a path if one exists, otherwise the
// argument verbatim.
func readTask(arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("read task file %s: %w", arg, err)
		}
		return string(data), nil
	}
	return arg, nil
}

func runSession(cmd *cobra.Command, flags rootFlags) error {
	cfg, err := config.Resolve(flags.configPath, overridesFromFlags(cmd, flags))
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Service: "aav3"})
	if err != nil {
		return err
	}
	defer logger.Close()

	task, err := readTask(flags.task)
	if err != nil {
		return err
	}

	client, err := llm.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	// The ledger is best-effort; a broken database never blocks a session.
	var ldb *ledger.DB
	if mkErr := os.MkdirAll(cfg.ArtifactsRoot, 0o755); mkErr == nil {
		if db, openErr := ledger.Open(cfg.ArtifactsRoot); openErr == nil {
			ldb = db
			defer ldb.Close()
		} else {
			logger.Warn("ledger unavailable", "error", openErr)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Agents: agents.New(client, cfg.LLMTimeout(), logger.Logger),
		Prober: envprobe.New(subproc.ExecRunner{}, cfg.ProbeTimeout()),
		Ledger: ldb,
		Logger: logger.Logger,
	})

	verdict, err := orch.Run(ctx, task, flags.sessionID)
	if err != nil {
		return err
	}
	logger.Info("verdict", "status", verdict.Status, "approved", verdict.Approved,
		"approval_rate", verdict.ApprovalRate, "rounds_used", verdict.RoundsUsed)
	return nil
}
