package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/database"
	"github.com/icodeforyou/solarplant-dispatch/logging"
	"github.com/icodeforyou/solarplant-dispatch/milp"
	"github.com/icodeforyou/solarplant-dispatch/optimize"
	"github.com/icodeforyou/solarplant-dispatch/publish"
	"github.com/icodeforyou/solarplant-dispatch/task"
	"github.com/icodeforyou/solarplant-dispatch/www"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

var Version = "?.?.?"

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		} else {
			slog.Default().Info("application is shutting down...")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	planOnStart := flag.Bool("plan", false, "run the planner once at startup")
	flag.Parse()

	// Secrets like MQTT_PASSWORD may live in a .env file next to the binary
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Sprintf("failed to load .env file: %v", err))
	}

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnfg.Logging.GetConsoleLevel(),
		TimeFormat: time.RFC3339,
	})
	slog.New(consoleHandler).Debug("solarplant dispatch is starting...", slog.String("version", Version))

	db, err := database.New(ctx, cnfg.Database.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to database: %v", err))
	}
	defer db.Close()

	logger := slog.New(logging.NewMultiHandler(
		consoleHandler,
		logging.NewSQLiteHandler(db, cnfg.Logging.GetDbLevel(), cnfg.Logging.GetDbAttrsFormat())))
	slog.SetDefault(logger)

	// Now we can use the logger to log database operations into the database itself
	db.SetLogger(logger.With("module", "database"))

	opts, err := optimize.OptionsFromConfig(cnfg.Optimizer)
	if err != nil {
		panic(fmt.Sprintf("invalid optimizer config: %v", err))
	}
	solver := milp.NewSimplexSolver(logger.With("module", "milp"), milp.Options{MaxNodes: cnfg.Optimizer.GetMaxNodes()})
	optimizer := optimize.New(logger.With("module", "optimize"), solver, opts)
	planner := task.NewPlanner(logger.With("module", "planner"), db, cnfg, optimizer)

	if cnfg.Mqtt.Enabled() {
		publisher := publish.New(cnfg.Mqtt)
		if err := publisher.Connect(); err != nil {
			panic(fmt.Sprintf("mqtt connection error: %v", err))
		}
		defer publisher.Disconnect()

		planner.OnRun(func(res task.RunResult) {
			if res.Run.Status != task.StatusOk {
				return
			}
			if err := publisher.Publish(publish.NewMessage(res.Run.ID, res.Run.CreatedAt, res.Schedule)); err != nil {
				logger.Error("failed to publish schedule", slog.String("run", res.Run.ID), slog.Any("error", err))
			}
		})
	} else {
		logger.Info("mqtt host not set, schedules will not be published")
	}

	tasks := task.NewTasks(db, planner, cnfg)
	if err := tasks.Run(); err != nil {
		panic(fmt.Sprintf("failed to schedule tasks: %v", err))
	}
	defer tasks.Stop()

	replan := task.NewPlanningTask(logger.With("task", "watch"), planner, task.TriggerWatch, cnfg.Optimizer.GetSolveTimeout()+time.Minute)
	if cnfg.Files.Watch {
		if err := task.WatchFile(ctx, logger.With("module", "watcher"), cnfg.Files.GetProfiles(), task.DefaultDebounce, replan); err != nil {
			logger.Error("unable to watch profiles, changes will not trigger planning", slog.Any("error", err))
		}
	}

	if *planOnStart {
		go task.NewPlanningTask(logger.With("task", "startup"), planner, task.TriggerStartup, cnfg.Optimizer.GetSolveTimeout()+time.Minute)()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("main context done")
		case sig := <-sigCh:
			logger.Info("received signal", slog.Any("signal", sig))
			cancel()
		}
	}()

	server := www.StartServer(db, planner, cnfg, Version)
	if err := server.Run(ctx); err != nil {
		exitWithError(logger, err)
	}
}

func exitWithError(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("application shutting down with error", slog.Any("error", err))
	}
	if syncer, ok := logger.Handler().(interface{ Sync() error }); ok {
		if syncErr := syncer.Sync(); syncErr != nil {
			logger.Error("failed to flush logger", slog.Any("error", syncErr))
		}
	}

	time.Sleep(2 * time.Second)
	os.Exit(1)
}
