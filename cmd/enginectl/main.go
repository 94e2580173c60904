package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enginectl/enginectl/internal/activetable"
	"github.com/enginectl/enginectl/internal/config"
	"github.com/enginectl/enginectl/internal/launcher"
	"github.com/enginectl/enginectl/internal/logging"
	"github.com/enginectl/enginectl/internal/observability"
	"github.com/enginectl/enginectl/internal/session"
	"github.com/enginectl/enginectl/internal/transport"
)

func main() {
	logging.ConfigureRuntime()

	var (
		configPath  = flag.String("config", "", "manager TOML config path")
		profilePath = flag.String("profile", "", "connect request TOML profile path")
	)
	flag.Parse()

	if err := run(*configPath, *profilePath); err != nil {
		fmt.Fprintf(os.Stderr, "enginectl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, profilePath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	req := request{
		Version:      cfg.Session.Version,
		Port:         cfg.Transport.Port,
		NonGraphical: cfg.Launch.NonGraphical,
	}
	if profilePath != "" {
		loaded, err := loadRequest(profilePath, req)
		if err != nil {
			return err
		}
		req = loaded
	}

	table := activetable.NewProbeTable()
	registry := session.NewRegistry()

	startMode, err := session.SelectStartMode(session.ModeEnv{
		EmbeddedConsole: cfg.Session.EmbeddedConsole,
		GOOS:            runtime.GOOS,
		RemoteSession:   cfg.Session.RemoteSession,
		ReattachPID:     req.PID,
		ForceNew:        req.ForceNew,
		Version:         req.Version,
		PIDProbe:        table.PIDLive,
	})
	if err != nil {
		return err
	}

	certDir := transport.CertDirFromEnv(cfg.Transport.CertDir)
	tmode, err := transport.SelectMode(transport.Settings{
		Secure:      cfg.Transport.Secure,
		LocalLaunch: !cfg.Scheduler.Enabled,
		CertDir:     certDir,
	})
	if err != nil {
		return err
	}

	deps := session.Deps{
		Table:    table,
		Registry: registry,
		Process: &launcher.Process{
			Table:       table,
			Allowed:     cfg.Launch.AllowedExecutables,
			LicenseHost: cfg.Launch.LicenseHost,
		},
		Scheduler: &launcher.Scheduler{Runner: schedulerRunner(cfg.Scheduler)},
		LaunchSpec: launcher.LaunchSpec{
			Path:             cfg.Launch.EnginePath,
			Host:             cfg.Transport.Host,
			WaitForLicense:   cfg.Launch.WaitForLicense,
			LogfilePath:      cfg.Launch.LogfilePath,
			Env:              cfg.Launch.Env,
			ReadinessTimeout: cfg.Launch.Timeout(),
			PollInterval:     cfg.Launch.PollInterval(),
		},
		SchedulerSpec: launcher.SchedulerSpec{
			EnginePath:        cfg.Launch.EnginePath,
			Cores:             cfg.Scheduler.Cores,
			Resource:          cfg.Scheduler.Resource,
			Queue:             cfg.Scheduler.Queue,
			Custom:            cfg.Scheduler.Custom,
			WaitForLicense:    cfg.Launch.WaitForLicense,
			LogfilePath:       cfg.Launch.LogfilePath,
			MaxStderrLines:    cfg.Scheduler.MaxStderrLines,
			AllocationTimeout: cfg.Scheduler.AllocationTimeout(),
			StartupTimeout:    cfg.Scheduler.StartupTimeout(),
		},
		NewConnector: func(target string, mode transport.Mode) (session.Connector, error) {
			creds, err := transport.Credentials(mode, certDir, cfg.Transport.Host)
			if err != nil {
				return nil, err
			}
			return &session.RpcConnector{Target: target, Creds: creds, PingTimeout: 5 * time.Second}, nil
		},
		CloseTimeout: cfg.Session.CloseTimeout(),
	}

	ctx := context.Background()
	sel := session.Selector{
		Version:      req.Version,
		Port:         req.Port,
		PID:          req.PID,
		ForceNew:     req.ForceNew,
		MultiSession: cfg.Session.MultiSession,
	}
	sess, existing, err := registry.Acquire(ctx, sel, func(ctx context.Context) (*session.Session, error) {
		return session.Open(ctx, openOptions(cfg, req, startMode, tmode), deps)
	})
	if err != nil {
		return err
	}
	log.Info().Int("pid", sess.PID).Str("version", sess.Version).
		Bool("reused", existing).Msg("session acquired")

	var status *observability.StatusServer
	if cfg.Status.Addr != "" {
		status = &observability.StatusServer{
			Addr:        cfg.Status.Addr,
			CorsOrigins: cfg.Status.CorsOrigins,
			Source:      func() any { return registry.Snapshot() },
		}
		go func() {
			if err := status.Run(); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// The registry is lock-free; stop the status handlers that read it
	// before teardown starts mutating it.
	if status != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := status.Shutdown(stopCtx); err != nil {
			log.Warn().Err(err).Msg("status server shutdown")
		}
		cancel()
	}

	shutdown := &session.Shutdown{Session: sess, Registry: registry}
	shutdown.ReleaseAndClose(ctx, req.CloseProjects, req.CloseApp)
	registry.CloseAll(ctx)
	return nil
}

func openOptions(cfg config.Config, req request, startMode session.StartMode, tmode transport.Mode) session.OpenOptions {
	return session.OpenOptions{
		Mode:      startMode,
		Transport: tmode,
		ListenFlags: transport.ListenFlags{
			LocalOnly:           cfg.Transport.LocalOnly,
			ListenAllInterfaces: cfg.Transport.ListenAllInterfaces,
		},
		Host:         cfg.Transport.Host,
		Port:         req.Port,
		Version:      req.Version,
		Student:      cfg.Session.Student,
		NonGraphical: req.NonGraphical,
		UseScheduler: cfg.Scheduler.Enabled,
	}
}

func schedulerRunner(cfg config.SchedulerConfig) launcher.Runner {
	if cfg.SSH.Host == "" {
		return launcher.LocalRunner{}
	}
	return launcher.SSHRunner{
		Host:                        cfg.SSH.Host,
		Port:                        cfg.SSH.Port,
		User:                        cfg.SSH.User,
		KeyPath:                     cfg.SSH.KeyPath,
		KnownHostsPath:              cfg.SSH.KnownHostsPath,
		InsecureSkipHostKeyChecking: cfg.SSH.InsecureSkipHostKeyChecking,
	}
}
