package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/conveyor"
	"github.com/deepnoodle-ai/conveyor/executors"
)

// CLI configuration
type Config struct {
	WorkflowFile string
	Input        map[string]interface{}
	LogsDir      string
	Timeout      time.Duration
	Verbose      bool
	JSON         bool
	ListTypes    bool
	ShowOutput   bool
}

func main() {
	config := parseFlags()

	registry := executors.DefaultRegistry()

	if config.ListTypes {
		color.Blue("Registered node types:")
		for _, nodeType := range registry.Types() {
			fmt.Printf("  %s\n", nodeType)
		}
		return
	}

	// Validate required arguments
	if config.WorkflowFile == "" {
		color.Red("Error: workflow file is required")
		flag.Usage()
		os.Exit(1)
	}

	if _, err := os.Stat(config.WorkflowFile); os.IsNotExist(err) {
		color.Red("Error: workflow file '%s' not found", config.WorkflowFile)
		os.Exit(1)
	}

	logger := setupLogger(config.Verbose)

	// Load workflow from YAML file
	color.Blue("Loading workflow from: %s", config.WorkflowFile)
	wf, err := conveyor.LoadFile(config.WorkflowFile)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}

	color.Cyan("Workflow: %s", wf.Name())
	if wf.Description() != "" {
		color.White("Description: %s", wf.Description())
	}

	// Set up node logging
	var nodeLogger conveyor.NodeLogger
	if config.LogsDir != "" {
		nodeLogger = conveyor.NewFileNodeLogger(config.LogsDir)
		color.Blue("Node logs: %s", config.LogsDir)
	} else {
		nodeLogger = conveyor.NewNullNodeLogger()
	}

	var callbacks conveyor.RunCallbacks
	if config.Verbose {
		callbacks = &conveyor.FormatterCallbacks{Formatter: &colorFormatter{}}
	}

	coordinator, err := conveyor.NewCoordinator(conveyor.CoordinatorOptions{
		Workflow:   wf,
		Registry:   registry,
		Input:      config.Input,
		Logger:     logger,
		NodeLogger: nodeLogger,
		Callbacks:  callbacks,
	})
	if err != nil {
		log.Fatalf("Failed to create run: %v", err)
	}

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	color.Green("Starting run (ID: %s)...\n", coordinator.RunID())

	startTime := time.Now()
	result, err := coordinator.Run(ctx)
	duration := time.Since(startTime)

	showRunResult(result, err, duration, config)
}

func parseFlags() *Config {
	config := &Config{
		Input: make(map[string]interface{}),
	}

	flag.StringVar(&config.WorkflowFile, "file", "", "Path to the YAML workflow definition file (required)")
	flag.StringVar(&config.WorkflowFile, "f", "", "Path to the YAML workflow definition file (shorthand)")

	var inputFlags stringSlice
	flag.Var(&inputFlags, "input", "Run input in format key=value (can be used multiple times)")
	flag.Var(&inputFlags, "i", "Run input in format key=value (shorthand, can be used multiple times)")

	flag.StringVar(&config.LogsDir, "logs", "", "Directory to store node logs (optional)")
	flag.StringVar(&config.LogsDir, "l", "", "Directory to store node logs (shorthand)")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Run timeout (e.g., 30s, 5m, 1h)")
	flag.DurationVar(&config.Timeout, "t", 0, "Run timeout (shorthand)")

	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging and per-node progress")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")

	flag.BoolVar(&config.JSON, "json", false, "Output results in JSON format")
	flag.BoolVar(&config.ListTypes, "list-types", false, "List registered node types and exit")
	flag.BoolVar(&config.ShowOutput, "show-output", true, "Show the run output after execution (default: true)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Conveyor CLI - Execute YAML-defined workflows

Usage: %s [options] -file <workflow.yaml>

Examples:
  # Execute a simple workflow
  %s -file example.yaml

  # Execute with input and node logging
  %s -file workflow.yaml -input name=John -input count=5 -logs ./logs

  # Execute with a timeout
  %s -file workflow.yaml -timeout 30s

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()

		fmt.Fprintf(os.Stderr, `
Built-in Node Types:
  trigger - Starts a run and emits the run input
  http    - Make HTTP requests
  script  - Evaluate Risor scripts
  if      - Route down the true or false branch
  set     - Shape and rename data fields
  merge   - Merge the outputs of upstream nodes
  delay   - Wait before continuing
  log     - Log a message and pass input through

Input Format:
  Use -input key=value for each input field.
  Values are parsed as JSON if possible, otherwise as strings.

`)
	}

	flag.Parse()

	for _, input := range inputFlags {
		parts := strings.SplitN(input, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: invalid input format '%s'. Use key=value\n", input)
			os.Exit(1)
		}

		key, value := parts[0], parts[1]

		// Try to parse as JSON, fallback to string
		var parsedValue interface{}
		if err := json.Unmarshal([]byte(value), &parsedValue); err != nil {
			parsedValue = value
		}

		config.Input[key] = parsedValue
	}

	return config
}

// Custom flag type for handling multiple input values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// colorFormatter prints per-node progress in color.
type colorFormatter struct{}

func (f *colorFormatter) PrintNodeStart(nodeID string, nodeType string) {
	color.Cyan("-> %s (%s)", nodeID, nodeType)
}

func (f *colorFormatter) PrintNodeOutput(nodeID string, output any) {
	data, err := json.Marshal(output)
	if err != nil {
		color.White("   %s: %v", nodeID, output)
		return
	}
	color.White("   %s: %s", nodeID, string(data))
}

func (f *colorFormatter) PrintNodeError(nodeID string, err error) {
	color.Red("   %s: %v", nodeID, err)
}

func showRunResult(result *conveyor.RunResult, err error, duration time.Duration, config *Config) {
	color.White("Run completed in %v", duration)

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	if result.Success {
		color.Green("Run successful!")
	} else {
		color.Red("Run failed: %s", result.Error)
	}

	if config.ShowOutput && result.Output != nil {
		fmt.Printf("\n")
		color.Magenta("Output:")
		if config.JSON {
			outputBytes, err := json.MarshalIndent(result.Output, "", "  ")
			if err != nil {
				fmt.Printf("Error formatting output: %v\n", err)
			} else {
				fmt.Println(string(outputBytes))
			}
		} else {
			if outputBytes, err := json.Marshal(result.Output); err == nil {
				fmt.Println(string(outputBytes))
			} else {
				fmt.Printf("%v\n", result.Output)
			}
		}
	}

	if !result.Success {
		os.Exit(1)
	}
}
