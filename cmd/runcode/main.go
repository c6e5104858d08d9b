package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/logger"
	"github.com/isdmx/coderun/sandbox"
)

// Exit statuses.
const (
	exitSuccess  = 0
	exitUserCode = 1
	exitFailure  = 2
)

var extensions = map[string]string{
	".py":   sandbox.LanguagePython,
	".java": sandbox.LanguageJava,
	".cpp":  sandbox.LanguageCPP,
	".cc":   sandbox.LanguageCPP,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("runcode", flag.ContinueOnError)
	flags.SetOutput(stderr)
	lang := flags.String("lang", "", "language id (default: inferred from -file extension)")
	file := flags.String("file", "", "source file to run")
	stdinPath := flags.String("stdin", "", "file fed to the program on stdin")
	configPath := flags.String("config", "", "config file (default: ./config.yaml or ./config/config.yaml)")
	verbose := flags.Bool("v", false, "log engine activity to stderr")
	if err := flags.Parse(args); err != nil {
		return exitFailure
	}

	failf := color.New(color.FgRed, color.Bold).FprintfFunc()
	if *file == "" {
		failf(stderr, "-file is required\n")
		flags.Usage()
		return exitFailure
	}

	req, err := buildRequest(*lang, *file, *stdinPath)
	if err != nil {
		failf(stderr, "%v\n", err)
		return exitFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		failf(stderr, "%v\n", err)
		return exitFailure
	}

	log := zap.NewNop()
	if *verbose {
		if log, err = logger.New("development", "debug"); err != nil {
			failf(stderr, "%v\n", err)
			return exitFailure
		}
		defer func() { _ = log.Sync() }()
	}

	runtime, err := sandbox.NewRuntime(log, cfg)
	if err != nil {
		failf(stderr, "%v\n", err)
		return exitFailure
	}
	engine := sandbox.NewEngine(log, sandbox.NewRegistryFromConfig(cfg), sandbox.NewProvisionerFromConfig(log, cfg), runtime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := engine.Run(ctx, req)
	if err != nil {
		failf(stderr, "%v\n", err)
		return exitFailure
	}

	_, _ = io.WriteString(stdout, result.Output)
	if result.Output != "" && !strings.HasSuffix(result.Output, "\n") {
		_, _ = io.WriteString(stdout, "\n")
	}
	return report(stderr, result.Outcome)
}

func buildRequest(lang, file, stdinPath string) (sandbox.ExecutionRequest, error) {
	if lang == "" {
		inferred, ok := extensions[strings.ToLower(filepath.Ext(file))]
		if !ok {
			return sandbox.ExecutionRequest{}, fmt.Errorf("cannot infer language of %s, use -lang", file)
		}
		lang = inferred
	}

	code, err := os.ReadFile(file)
	if err != nil {
		return sandbox.ExecutionRequest{}, fmt.Errorf("failed to read source: %w", err)
	}

	var stdin []byte
	if stdinPath != "" {
		if stdin, err = os.ReadFile(stdinPath); err != nil {
			return sandbox.ExecutionRequest{}, fmt.Errorf("failed to read stdin file: %w", err)
		}
	}

	return sandbox.ExecutionRequest{Language: lang, Code: string(code), Stdin: string(stdin)}, nil
}

func report(w io.Writer, outcome sandbox.Outcome) int {
	switch outcome {
	case sandbox.Success:
		color.New(color.FgGreen).Fprintln(w, "✔ success")
		return exitSuccess
	case sandbox.UserCodeFailure:
		color.New(color.FgYellow).Fprintln(w, "✘ program failed")
		return exitUserCode
	default:
		color.New(color.FgRed, color.Bold).Fprintf(w, "✘ %s\n", strings.ReplaceAll(string(outcome), "_", " "))
		return exitFailure
	}
}
