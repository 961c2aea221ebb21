// Command batchrun executes a batch of workflow cases described by a JSON
// configuration file against an execution server, saving every output and a
// per-run metadata record.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"comfybatch/internal/artifact"
	"comfybatch/internal/comfy"
	"comfybatch/internal/config"
	"comfybatch/internal/runner"
	"comfybatch/internal/runstore"
)

type repeatedFlag []string

func (f *repeatedFlag) String() string { return strings.Join(*f, ",") }

func (f *repeatedFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var workflows repeatedFlag
	configPath := flag.String("config", "workflow_test_config.json", "path to the batch configuration JSON file")
	server := flag.String("server", "", "override the execution server base URL")
	outputDir := flag.String("output-dir", "", "override the directory used for saving outputs")
	flag.Var(&workflows, "workflow", "only run workflows matching this name (repeatable)")
	flag.Parse()

	appCfg, err := config.Load()
	if err != nil {
		log.Printf("load environment: %v", err)
		return 2
	}

	if _, err := os.Stat(*configPath); err != nil {
		log.Printf("configuration file not found: %s", *configPath)
		return 2
	}
	cfg, err := runner.LoadConfig(*configPath, workflows)
	if err != nil {
		log.Printf("failed to load configuration: %v", err)
		return 2
	}
	if *server != "" {
		cfg.Server = *server
	}
	if *outputDir != "" {
		cfg.OutputRoot = *outputDir
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = appCfg.OutputRoot
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := comfy.New(cfg.Server, appCfg.Timeout)
	r := runner.New(client, cfg.OutputRoot)

	store := runstore.NewFromEnv(appCfg.RunStorePath)
	store.EnsureLoaded()
	r.WithRecorder(runstore.Recorder{Store: store})

	if appCfg.Artifact.Enabled {
		mirror, err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:  appCfg.Artifact.Endpoint,
			Region:    appCfg.Artifact.Region,
			AccessKey: appCfg.Artifact.AccessKey,
			SecretKey: appCfg.Artifact.SecretKey,
			Bucket:    appCfg.Artifact.Bucket,
			UseSSL:    appCfg.Artifact.UseSSL,
		})
		if err != nil {
			log.Printf("artifact mirror disabled: %v", err)
		} else {
			r.WithMirror(mirror)
		}
	}

	if err := r.RunAll(ctx, cfg.Cases); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("batch aborted: %v", err)
	}

	succeeded, failed, failedNames := r.Summary()
	log.Printf("run complete: %d succeeded, %d failed", succeeded, failed)
	if failed > 0 {
		log.Printf("failed workflows: %s", strings.Join(failedNames, ", "))
		return 1
	}
	if err := ctx.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "interrupted")
		return 1
	}
	return 0
}
