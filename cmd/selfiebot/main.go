package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jameshope87/selfiebot/internal/archive"
	"github.com/jameshope87/selfiebot/internal/config"
	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/hw/button"
	"github.com/jameshope87/selfiebot/internal/hw/camera"
	"github.com/jameshope87/selfiebot/internal/hw/gpio"
	"github.com/jameshope87/selfiebot/internal/imaging"
	"github.com/jameshope87/selfiebot/internal/logic/capture"
	"github.com/jameshope87/selfiebot/internal/logic/session"
	"github.com/jameshope87/selfiebot/internal/overlay"
	"github.com/jameshope87/selfiebot/internal/printer"
	"github.com/jameshope87/selfiebot/internal/store"
	"github.com/jameshope87/selfiebot/internal/web"
)

const defaultWebPort = 8080

// Overlay asset file names inside paths.assets_dir.
const (
	assetIntro    = "intro.png"
	assetIntroTop = "intro_blink.png"
	assetGetReady = "get_ready.png"
)

var (
	cfgPath    string
	debugLevel int
	mockHW     bool
	webPort    = &webPortFlag{defaultPort: defaultWebPort}

	sessionsLimit int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "selfiebot",
		Short:         "Push-button photo booth",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runBoothCmd,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join("configs", "booth.yaml"), "path to config file (.yaml or .toml); empty for built-in defaults")
	rootCmd.PersistentFlags().IntVar(&debugLevel, "debug", -1, "debug level 0-4, overrides defaults.debug_level")
	rootCmd.Flags().BoolVar(&mockHW, "mock", false, "use mock GPIO and camera")
	rootCmd.Flags().Var(webPort, "web", "serve the kiosk display on port; --web for 8080, --web=8980 for custom port")
	rootCmd.Flags().Lookup("web").NoOptDefVal = strconv.Itoa(defaultWebPort)

	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newSessionsCmd())

	return rootCmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and overlay assets",
		Args:  cobra.NoArgs,
		RunE:  runCheckCmd,
	}
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions from the ledger",
		Args:  cobra.NoArgs,
		RunE:  runSessionsCmd,
	}
	cmd.Flags().IntVar(&sessionsLimit, "last", 20, "number of sessions to list")
	return cmd
}

// loadConfig reads the config file, or returns defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, err
	}
	return config.Load(path)
}

// applyFlags applies command line overrides to cfg.
func applyFlags(cfg *config.Config, mock bool, level int) {
	if mock {
		cfg.Defaults.MockGPIO = true
		cfg.Camera.Type = "mock"
	}
	if level >= 0 {
		cfg.Defaults.DebugLevel = level
	}
}

func runBoothCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, mockHW, debugLevel)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return runBooth(ctx, cfg, webPort.port())
}

// runBooth wires the hardware, display and session and runs until ctx is
// cancelled or a fatal fault occurs.
func runBooth(ctx context.Context, cfg *config.Config, port int) error {
	debug.Step(1, "Preparing directories")
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	layout := archive.Layout{WorkingDir: cfg.Paths.WorkingDir, ArchiveDir: cfg.Paths.ArchiveDir}
	debug.PrintStruct("Paths", cfg.Paths)

	assets := assetsFromConfig(cfg)
	if err := assets.Check(); err != nil {
		return err
	}

	debug.Step(2, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO failed: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			debug.Error(fmt.Errorf("closing GPIO driver failed: %w", err))
		}
	}()

	latch := button.NewLatch()
	src, err := button.NewSource(gpioDriver, button.Config{
		Pin:        cfg.Button.Pin,
		ActiveHigh: cfg.Button.ActiveHigh,
		Debounce:   cfg.Debounce(),
		Poll:       cfg.ButtonPoll(),
	}, latch)
	if err != nil {
		return err
	}
	debug.PrintStruct("Button config", cfg.Button)

	var lamp *button.Lamp
	if cfg.Button.LampPin != 0 {
		if lamp, err = button.NewLamp(gpioDriver, cfg.Button.LampPin); err != nil {
			return fmt.Errorf("init button lamp failed: %w", err)
		}
		defer func() {
			if err := lamp.Set(false); err != nil {
				debug.Error(err)
			}
		}()
	}

	debug.Step(3, "Initializing camera")
	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			debug.Error(fmt.Errorf("closing camera failed: %w", err))
		}
	}()
	debug.Value("Camera type", cfg.Camera.Type)
	if err := cam.StartPreview(ctx); err != nil {
		// The booth still works without a live preview.
		debug.Error(err)
	}

	debug.Step(4, "Initializing display")
	var (
		surface     overlay.Surface
		broadcaster *web.StatusBroadcaster
		display     *web.Display
	)
	if port > 0 {
		broadcaster = web.NewStatusBroadcaster()
		display = web.NewDisplay(broadcaster, cfg.Display.Width, cfg.Display.Height)
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		surface = display
	} else {
		surface = overlay.NewRecorder()
	}
	overlays := overlay.NewManager(surface, cfg.Display.Width)

	spooler, err := printer.New(cfg.Print.Command)
	if err != nil {
		return err
	}
	debug.Value("Printing", spooler.Enabled())

	var ledger session.Ledger
	var lister web.SessionLister
	db, err := store.Open(cfg.Paths.LedgerPath)
	if err != nil {
		debug.Error(fmt.Errorf("session ledger disabled: %w", err))
	} else {
		defer db.Close()
		ledger, lister = db, db
	}

	seq := capture.NewSequencer(cam, overlays, layout, imaging.Enhance, capture.Params{
		Countdown: cfg.Session.Countdown,
		Tick:      cfg.TimeUnit(),
		Total:     cfg.Session.PhotoCount,
	})

	var sess *session.Session
	deps := session.Deps{
		Overlays: overlays,
		Shooter:  seq,
		Trigger:  latch,
		Printer:  spooler,
		Layout:   layout,
		Ledger:   ledger,
		Assets:   assets,
	}
	deps.OnTransition = transitionHook(lamp, broadcaster, func() session.Snapshot { return sess.Snapshot() })
	sess = session.New(deps, sessionParams(cfg))

	debug.Section("Starting booth")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return src.Run(ctx) })
	g.Go(func() error {
		// A finished session loop ends the process, fatal or not.
		defer cancel()
		return sess.Run(ctx)
	})
	if display != nil {
		h := web.NewHandlers(broadcaster, display, src.Simulate, sess.Snapshot, lister, cfg, nil)
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), h)
		if err != nil {
			cancel()
			g.Wait()
			return err
		}
		g.Go(func() error { return srv.Run(ctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	debug.Verbose("Waiting for print jobs")
	spooler.Wait()
	debug.Section("Shutdown")
	return err
}

// transitionHook lights the button lamp while idle and publishes every
// state change to the kiosk. lamp and b may be nil.
func transitionHook(lamp *button.Lamp, b *web.StatusBroadcaster, snapshot func() session.Snapshot) func(from, to session.State) {
	return func(_, to session.State) {
		if lamp != nil {
			if err := lamp.Set(to == session.Idle); err != nil {
				debug.Error(fmt.Errorf("button lamp: %w", err))
			}
		}
		if b != nil {
			b.Publish(web.KindState, snapshot())
		}
	}
}

// sessionParams maps the configuration onto session timing.
func sessionParams(cfg *config.Config) session.Params {
	return session.Params{
		PhotoCount:    cfg.Session.PhotoCount,
		PrepDelay:     cfg.PrepDelay(),
		PlaybackDwell: cfg.PlaybackDwell(),
		BlinkInterval: cfg.BlinkInterval(),
		PollInterval:  cfg.PollInterval(),
		WarmUp:        cfg.WarmUp(),
	}
}

func assetsFromConfig(cfg *config.Config) session.Assets {
	return session.Assets{
		Intro:    filepath.Join(cfg.Paths.AssetsDir, assetIntro),
		IntroTop: filepath.Join(cfg.Paths.AssetsDir, assetIntroTop),
		GetReady: filepath.Join(cfg.Paths.AssetsDir, assetGetReady),
	}
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "rpicam":
		return camera.NewRpicam(camera.RpicamConfig{
			PreviewCommand: cfg.Camera.PreviewCommand,
			StillCommand:   cfg.Camera.StillCommand,
			HFlip:          cfg.Camera.HFlip,
			Rotation:       cfg.Camera.Rotation,
		})
	case "mock":
		return camera.NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

func runCheckCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := checkConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "config OK: %d photos, camera %s, display %dx%d\n",
		cfg.Session.PhotoCount, cfg.Camera.Type, cfg.Display.Width, cfg.Display.Height)
	fmt.Fprintf(out, "working: %s\narchive: %s\nledger:  %s\n",
		cfg.Paths.WorkingDir, cfg.Paths.ArchiveDir, cfg.Paths.LedgerPath)
	return nil
}

// checkConfig verifies everything runBooth would reject at startup without
// touching hardware.
func checkConfig(cfg *config.Config) error {
	if err := assetsFromConfig(cfg).Check(); err != nil {
		return err
	}
	if _, err := printer.New(cfg.Print.Command); err != nil {
		return err
	}
	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		return err
	}
	return cam.Close()
}

func runSessionsCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Paths.LedgerPath)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.Recent(cmd.Context(), sessionsLimit)
	if err != nil {
		return err
	}
	printSessions(cmd.OutOrStdout(), sessions)
	return nil
}

func printSessions(w io.Writer, sessions []store.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions recorded")
		return
	}
	for _, s := range sessions {
		line := fmt.Sprintf("%s  %-8s  %d shots  %s",
			s.StartedAt.Local().Format(archive.TimestampLayout), s.Status, len(s.Shots), s.ID)
		if s.Error != "" {
			line += "  (" + s.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// webPortFlag implements pflag.Value for --web: 0 = disabled, --web → 8080, --web=8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) Type() string { return "port" }

func (w *webPortFlag) port() int { return w.val }
