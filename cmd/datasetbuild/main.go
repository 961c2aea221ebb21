// Command datasetbuild runs one workflow over lists of media assets and
// fills an indexed control/target dataset with the results.
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

	"comfybatch/internal/catalog"
	"comfybatch/internal/comfy"
	"comfybatch/internal/config"
	"comfybatch/internal/dataset"
	"comfybatch/internal/jobs"
	"comfybatch/internal/runner"
)

// inputFlag collects repeated "placeholder=path" assignments into
// per-placeholder asset lists.
type inputFlag map[string][]string

func (f inputFlag) String() string {
	parts := make([]string, 0, len(f))
	for key, values := range f {
		parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(values, ",")))
	}
	return strings.Join(parts, " ")
}

func (f inputFlag) Set(value string) error {
	key, path, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(path) == "" {
		return fmt.Errorf("input must be placeholder=path, got %q", value)
	}
	f[strings.TrimSpace(key)] = append(f[strings.TrimSpace(key)], strings.TrimSpace(path))
	return nil
}

// overrideFlag collects repeated "nodeId.field=value" prompt overrides.
type overrideFlag []dataset.PromptOverride

func (f *overrideFlag) String() string {
	parts := make([]string, 0, len(*f))
	for _, o := range *f {
		parts = append(parts, fmt.Sprintf("%s.%s=%s", o.NodeID, o.Field, o.Value))
	}
	return strings.Join(parts, " ")
}

func (f *overrideFlag) Set(value string) error {
	target, text, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("override must be nodeId.field=value, got %q", value)
	}
	nodeID, field, ok := strings.Cut(target, ".")
	if !ok || nodeID == "" || field == "" {
		return fmt.Errorf("override must be nodeId.field=value, got %q", value)
	}
	*f = append(*f, dataset.PromptOverride{NodeID: nodeID, Field: field, Value: text})
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	inputs := inputFlag{}
	var overrides overrideFlag
	name := flag.String("dataset", "", "dataset name to create or append to")
	workflowID := flag.String("workflow", "", "workflow id relative to the workflow root")
	appendRun := flag.Bool("append", false, "append to an existing dataset")
	convertJPG := flag.Bool("convert-jpg", false, "re-encode image controls and lossless targets to JPEG")
	prompt := flag.String("prompt", "", "annotation text written next to every target")
	server := flag.String("server", "", "override the execution server base URL")
	flag.Var(inputs, "input", "placeholder asset as placeholder=path, repeatable")
	flag.Var(&overrides, "override", "pinned node input as nodeId.field=value, repeatable")
	flag.Parse()

	if *name == "" || *workflowID == "" || len(inputs) == 0 {
		log.Printf("usage: datasetbuild -dataset NAME -workflow ID -input placeholder=path [...]")
		return 2
	}

	appCfg, err := config.Load()
	if err != nil {
		log.Printf("load environment: %v", err)
		return 2
	}
	serverURL := appCfg.ServerURL
	if *server != "" {
		serverURL = *server
	}

	store, err := catalog.New(appCfg.WorkflowRoot)
	if err != nil {
		log.Printf("scan workflow root: %v", err)
		return 2
	}
	manager, err := dataset.NewManager(appCfg.DatasetRoot)
	if err != nil {
		log.Printf("open dataset root: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := comfy.New(serverURL, appCfg.Timeout)
	if err := client.Ping(ctx); err != nil {
		log.Printf("execution server check failed: %v", err)
		return 1
	}

	builder := dataset.NewBuilder(manager, store, client, appCfg.MediaRoot)

	tracker := jobs.NewManager()
	job := tracker.Create(jobs.KindDataset, *name)
	tracker.MarkRunning(job.ID, 0)

	summary, err := builder.Generate(ctx, dataset.Request{
		DatasetName:        *name,
		WorkflowID:         *workflowID,
		Placeholders:       inputs,
		ConvertImagesToJPG: *convertJPG,
		Append:             *appendRun,
		PromptOverrides:    overrides,
		DatasetPrompt:      *prompt,
	}, jobs.Progress{Manager: tracker, JobID: job.ID})
	if err != nil {
		tracker.MarkFailed(job.ID, err.Error())
		var vErr *runner.ValidationError
		if errors.As(err, &vErr) {
			log.Printf("invalid request: %v", err)
			return 2
		}
		log.Printf("dataset generation failed: %v", err)
		return 1
	}
	tracker.MarkFinished(job.ID, summary)

	final, _ := tracker.Get(job.ID)
	for _, line := range final.Logs {
		log.Printf("job %s: %s", job.ID, line)
	}
	log.Printf("dataset %s: %d new runs, %d total", summary.Dataset, summary.TotalRuns, summary.TotalCount)
	return 0
}
