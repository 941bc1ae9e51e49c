package main

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/lancer-kit/taskvisor"
	"github.com/lancer-kit/taskvisor/examples/fibonacci"
	"github.com/lancer-kit/taskvisor/libs/clicheck"
	"github.com/lancer-kit/taskvisor/libs/zerologhook"
	"github.com/lancer-kit/taskvisor/presets/api"
	"github.com/lancer-kit/taskvisor/task"
)

const (
	bootstrap = "taskvisor/index"
	tasksDir  = "taskvisor/tasks"
)

var (
	version = "dev"
	build   = "local"
)

func main() {
	app := cli.NewApp()
	app.Name = "taskvisor"
	app.Usage = "runs tasks inside supervised execution contexts"
	app.Version = version

	info := taskvisor.AppInfo{Name: app.Name, Version: version, Build: build}

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "starts the supervisor with the admin api and the service socket",
			Flags:  runFlags(),
			Action: func(c *cli.Context) error { return run(c, info) },
		},
		clicheck.CliCheckCommand(info, func(c *cli.Context) []string {
			return c.Args()
		}),
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("taskvisor failed")
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "host", Value: "0.0.0.0", EnvVar: "TASKVISOR_HOST"},
		cli.IntFlag{Name: "port", Value: 2490, EnvVar: "TASKVISOR_PORT"},
		cli.BoolFlag{Name: "cors", EnvVar: "TASKVISOR_CORS"},
		cli.BoolFlag{Name: "allow-control", EnvVar: "TASKVISOR_ALLOW_CONTROL"},
		cli.StringFlag{Name: "store-id", Value: taskvisor.DefaultStoreID, EnvVar: "TASKVISOR_STORE_ID"},
		cli.StringFlag{Name: "store-dir", EnvVar: "TASKVISOR_STORE_DIR"},
		cli.BoolFlag{Name: "persist", EnvVar: "TASKVISOR_PERSIST"},
		cli.DurationFlag{Name: "create-timeout", Value: taskvisor.DefaultCreateTimeout, EnvVar: "TASKVISOR_CREATE_TIMEOUT"},
		cli.DurationFlag{Name: "tick", Value: time.Second, Usage: "delay of the demo tasks", EnvVar: "TASKVISOR_TICK"},
		cli.StringFlag{Name: "log-level", Value: "info", EnvVar: "TASKVISOR_LOG_LEVEL"},
		cli.StringFlag{Name: "log-format", Value: "logrus", Usage: "logrus or zerolog", EnvVar: "TASKVISOR_LOG_FORMAT"},
		cli.StringSliceFlag{Name: "start", Usage: "task file to create and execute on startup", EnvVar: "TASKVISOR_START"},
	}
}

func run(c *cli.Context, info taskvisor.AppInfo) error {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	entry := logrus.NewEntry(logger)

	catalog := task.NewCatalog()
	fibonacci.Register(catalog, tasksDir, c.Duration("tick"), c.Duration("tick"))

	registry := prometheus.NewRegistry()
	opts := []taskvisor.Option{
		taskvisor.WithLogger(entry),
		taskvisor.WithAppInfo(info),
		taskvisor.WithCatalog(catalog),
		taskvisor.WithMetrics(taskvisor.NewMetrics(registry)),
	}
	if strings.EqualFold(c.String("log-format"), "zerolog") {
		zl := zerolog.New(os.Stderr).With().Timestamp().Str("app", info.Name).Logger()
		opts = append(opts, taskvisor.WithEventHandler(zerologhook.EventHandler(zl)))
	}

	cfg := taskvisor.Config{
		StoreID:       c.String("store-id"),
		StoreDir:      c.String("store-dir"),
		Persist:       c.Bool("persist"),
		CreateTimeout: c.Duration("create-timeout"),
	}
	supervisor := taskvisor.NewSupervisor(cfg, opts...)

	host, cancel := taskvisor.SignalHost(context.Background())
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	host.OnClose(stop)

	if err := supervisor.Init(bootstrap, host); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer supervisor.Shutdown()

	admin := taskvisor.AdminConfig{
		API: api.Config{
			Host:              c.String("host"),
			Port:              c.Int("port"),
			EnableCORS:        c.Bool("cors"),
			APIRequestTimeout: 60,
		},
		AllowControl: c.Bool("allow-control"),
		Metrics:      true,
	}

	errs := make(chan error, 2)
	wg := sync.WaitGroup{}
	for _, serve := range []func(context.Context) error{
		func(ctx context.Context) error { return supervisor.ServeAdmin(ctx, admin, registry) },
		supervisor.ServeSocket,
	} {
		wg.Add(1)
		go func(serve func(context.Context) error) {
			defer wg.Done()
			if err := serve(ctx); err != nil {
				errs <- err
				stop()
			}
		}(serve)
	}

	startTasks(ctx, supervisor, c.StringSlice("start"), entry)

	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func startTasks(ctx context.Context, s *taskvisor.Supervisor, files []string, logger *logrus.Entry) {
	if len(files) == 0 {
		return
	}
	requester, err := s.NewRequester()
	if err != nil {
		logger.WithError(err).Error("unable to create requester")
		return
	}
	defer requester.Close()

	for _, file := range files {
		w, err := requester.CreateWorker(ctx, file, false)
		if err != nil {
			logger.WithError(err).WithField("task_file", file).Error("unable to create worker")
			continue
		}
		w.OnUpdate(func(payload interface{}) {
			logger.WithField("worker_id", w.ID()).WithField("payload", payload).Info("update")
		})
		w.OnEnd(func(payload interface{}) {
			logger.WithField("worker_id", w.ID()).WithField("payload", payload).Info("end")
		})
		if err := w.Execute(nil); err != nil {
			logger.WithError(err).WithField("worker_id", w.ID()).Error("unable to execute worker")
		}
	}
}
