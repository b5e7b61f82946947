// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kodiak starts the intent-aware RAG orchestrator.
//
// # Usage
//
//	# Start with defaults (local Ollama, in-memory stores)
//	kodiak serve
//
//	# Start with a config file
//	kodiak serve --config /etc/kodiak/config.yaml
//
// Secrets never live in the config file; they are resolved from the
// environment variables the file names (llm.api_key_env, influx.token_env).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/pkg/logging"
	"github.com/AleutianAI/kodiak/services/orchestrator/config"
	"github.com/AleutianAI/kodiak/services/orchestrator/server"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	configPath string
	logJSON    bool
	logDebug   bool

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "Intent-aware RAG orchestrator",
		Long: `Kodiak answers questions over a private document index. It classifies
intent, retrieves with multi-query hybrid search, judges every answer for
groundedness, and blocks hallucinated responses before they reach the user.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator HTTP server",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	serveCmd.Flags().BoolVar(&logJSON, "log-json", true, "emit logs as JSON")
	serveCmd.Flags().BoolVar(&logDebug, "log-debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if logDebug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "orchestrator",
		JSON:    logJSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("starting kodiak",
		"version", Version,
		"port", cfg.Server.Port,
		"llm_backend", cfg.LLM.Backend,
		"weaviate_url", cfg.Weaviate.URL,
	)

	// Enterprise builds pass custom ServiceOptions here.
	svc, err := server.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("assemble orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
