package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nettoclaudio/adb-qr-pair/internal/adb"
	"github.com/nettoclaudio/adb-qr-pair/internal/config"
	"github.com/nettoclaudio/adb-qr-pair/internal/pairing"
	"github.com/nettoclaudio/adb-qr-pair/internal/qr"
	"github.com/nettoclaudio/adb-qr-pair/internal/sd"
	"github.com/nettoclaudio/adb-qr-pair/internal/status"
)

var cfg struct {
	ConfigFile    string
	AdbPath       string
	Name          string
	Password      string
	Interface     string
	IPv4Only      bool
	StatusAddress string
	Debug         bool
}

func init() {
	registerFlags(flag.CommandLine)
}

func registerFlags(fs *flag.FlagSet) {
	defaults := config.Default()

	fs.StringVar(&cfg.ConfigFile, "config", "", "YAML configuration file, reloaded when it changes")
	fs.StringVar(&cfg.AdbPath, "adb", defaults.AdbPath, "Path to the adb executable")
	fs.StringVar(&cfg.Name, "name", defaults.Name, "Network name encoded in the pairing QR code")
	fs.StringVar(&cfg.Password, "password", defaults.Password, "Pairing code encoded in the QR code")
	fs.StringVar(&cfg.Interface, "interface", defaults.Interface, "Network interface used for mDNS discovery (default: all)")
	fs.BoolVar(&cfg.IPv4Only, "ipv4-only", defaults.IPv4Only, "Whether should only use IPv4 addresses of discovered devices")
	fs.StringVar(&cfg.StatusAddress, "status-address", defaults.StatusAddress, "Address of the gRPC health status server (disabled when empty)")
	fs.BoolVar(&cfg.Debug, "debug", false, "Whether should run in debug mode")
}

func main() {
	flag.Parse()

	logger := zap.Must(zap.NewProduction())
	if cfg.Debug {
		logger = zap.Must(zap.NewDevelopment())
	}

	code := run(logger)
	_ = logger.Sync()
	os.Exit(code)
}

func run(logger *zap.Logger) int {
	current, err := loadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	executor := &adb.Executor{
		Path:   current.AdbPath,
		Logger: logger.With(zap.String("component", "adb")),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-stop:
			logger.Info("Received a termination signal...")
			cancel()
		case <-ctx.Done():
		}
	}()

	version, err := executor.Check(ctx)
	if err != nil {
		logger.Error("adb is not usable", zap.String("path", current.AdbPath), zap.Error(err))
		return 1
	}

	logger.Debug("Found adb", zap.String("version", version))

	s := &session{
		Logger:     logger,
		Store:      config.NewStore(current),
		ConfigFile: cfg.ConfigFile,
		Presenter:  &qr.Presenter{Out: os.Stdout},
		Discoverer: &sd.MDNSServiceDiscovery{
			Interface: current.Interface,
			IPv4Only:  current.IPv4Only,
			Logger:    logger,
		},
		Executor: executor,
		Verify:   func(address string) { verify(logger, executor, address) },
	}

	return s.Run(ctx)
}

// session is a single pairing attempt: show the QR code, discover the device, pair and
// connect it once.
type session struct {
	Logger     *zap.Logger
	Store      *config.Store
	ConfigFile string
	Presenter  *qr.Presenter
	Discoverer sd.ServiceDiscoverer
	Executor   pairing.Executor

	// Verify is called with the connect address after pairing succeeded. Optional.
	Verify func(address string)
}

// Run returns the process exit code. Cancelling ctx ends the session without running any
// command and is not a failure.
func (s *session) Run(ctx context.Context) int {
	logger := s.Logger

	if err := s.Presenter.Present(s.Store.Credential()); err != nil {
		logger.Error("Failed to show pairing QR code", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	correlator := &pairing.Correlator{
		Resolver:    s.Discoverer,
		Executor:    s.Executor,
		Credentials: s.Store,
		Logger:      logger.With(zap.String("component", "correlator")),
	}

	eg, egctx := errgroup.WithContext(ctx)

	if address := s.Store.Get().StatusAddress; address != "" {
		statusServer := status.NewServer(address, logger)
		correlator.OnStateChange = statusServer.SetState

		eg.Go(func() error { return statusServer.Serve(egctx) })
	}

	if s.ConfigFile != "" {
		watcher := &config.Watcher{
			Filename: s.ConfigFile,
			Store:    s.Store,
			Logger:   logger,
			Load:     loadConfig,
			OnChange: func(c config.Config) {
				if err := s.Presenter.Present(c.Credential()); err != nil {
					logger.Error("Failed to show pairing QR code", zap.Error(err))
				}
			},
		}

		eg.Go(func() error { return watcher.Watch(egctx) })
	}

	eg.Go(func() error { return s.Discoverer.Discover(egctx) })

	eg.Go(func() error {
		// Pairing is a one-shot action: once it ran, the whole session ends.
		defer cancel()
		return correlator.Run(egctx, s.Discoverer.Events())
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Wireless pairing failed", zap.Error(err))
		return 1
	}

	if correlator.State() != pairing.StateDone {
		logger.Info("Cancelled")
		return 0
	}

	if err := correlator.Outcome().Err(); err != nil {
		logger.Error("Wireless pairing failed", zap.Error(err))
		return 1
	}

	if s.Verify != nil {
		s.Verify(correlator.Outcome().ConnectAddress)
	}

	logger.Info("Done!")
	return 0
}

// loadConfig builds the effective configuration: defaults, then the config file, then the
// flags set on the command line.
func loadConfig() (config.Config, error) {
	return loadConfigFrom(flag.CommandLine)
}

func loadConfigFrom(fs *flag.FlagSet) (config.Config, error) {
	c := config.Default()

	if cfg.ConfigFile != "" {
		var err error
		if c, err = config.Load(cfg.ConfigFile, c); err != nil {
			return config.Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "adb":
			c.AdbPath = cfg.AdbPath
		case "name":
			c.Name = cfg.Name
		case "password":
			c.Password = cfg.Password
		case "interface":
			c.Interface = cfg.Interface
		case "ipv4-only":
			c.IPv4Only = cfg.IPv4Only
		case "status-address":
			c.StatusAddress = cfg.StatusAddress
		}
	})

	return c, c.Validate()
}

func verify(logger *zap.Logger, executor *adb.Executor, address string) {
	devices, err := executor.Devices(context.Background())
	if err != nil {
		logger.Warn("Failed to list devices", zap.Error(err))
		return
	}

	device, found := adb.Find(devices, address)
	if !found {
		logger.Warn("Device is not listed by adb", zap.String("address", address))
		return
	}

	if device.State != adb.StateDevice {
		logger.Warn("Device is connected but not ready", zap.String("address", address), zap.String("state", device.State))
		return
	}

	logger.Info("Device connected", zap.String("address", address))
}
