package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"colonictransit/pkg/config"
	"colonictransit/pkg/logging"
	"colonictransit/pkg/store"
	"colonictransit/pkg/study"
)

// command is one sub command of the tool
type command struct {
	name  string
	usage string
	run   func(env *env, args []string) error

	// standalone commands run without loading the study
	standalone bool
}

// env carries what every command needs
type env struct {
	configPath string

	ctx   context.Context
	cfg   *config.Config
	log   *logrus.Logger
	store *store.Store
	study *study.Study
}

var commands = []command{
	{"init-config", "write a default configuration file", runInitConfig, true},
	{"import", "import DICOM series into the workspace", runImport, false},
	{"fix", "fix SPECT spacing/orientation and display settings", runFix, false},
	{"threshold", "calculate or apply SPECT thresholds", runThreshold, false},
	{"labels", "create the label volume of a timepoint", runLabels, false},
	{"paint", "assign a colon region with a spherical brush", runPaint, false},
	{"stats", "compute region statistics and export CSV", runStats, false},
	{"preview", "export slice previews of a volume", runPreview, false},
	{"status", "list the volumes of each timepoint", runStatus, false},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-config file] [-workspace dir] <command> [flags]\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "colonictransit.yaml", "Configuration file")
	workspace := flag.String("workspace", "", "Workspace directory (overrides the configuration)")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}
	name, args := flag.Arg(0), flag.Args()[1:]

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		flag.Usage()
		os.Exit(1)
	}

	if cmd.standalone {
		if err := cmd.run(&env{configPath: *configPath}, args); err != nil {
			logrus.Fatalf("%s failed: %v", cmd.name, err)
		}
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *workspace != "" {
		cfg.Study.Workspace = *workspace
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := store.Open(cfg.Study.Workspace, log)
	if err != nil {
		log.Fatalf("Failed to open workspace: %v", err)
	}
	s := study.New(cfg, log)
	if err := s.Load(ctx, st); err != nil {
		log.Fatalf("Failed to load study: %v", err)
	}

	startTime := time.Now()
	e := &env{configPath: *configPath, ctx: ctx, cfg: cfg, log: log, store: st, study: s}
	if err := cmd.run(e, args); err != nil {
		log.Fatalf("%s failed: %v", cmd.name, err)
	}
	log.WithField("elapsed", time.Since(startTime).Round(time.Millisecond)).Debugf("%s finished", cmd.name)
}

func runInitConfig(e *env, args []string) error {
	if err := config.CreateDefaultConfigFile(e.configPath); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", e.configPath)
	return nil
}
