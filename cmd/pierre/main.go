// Pierre is an AirPlay 2 audio receiver that drives a synchronized
// light show from the incoming stream.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/wisslanding/pierre/internal/anchor"
	"github.com/wisslanding/pierre/internal/config"
	"github.com/wisslanding/pierre/internal/dmx"
	"github.com/wisslanding/pierre/internal/fairplay"
	"github.com/wisslanding/pierre/internal/mdns"
	"github.com/wisslanding/pierre/internal/plog"
	"github.com/wisslanding/pierre/internal/ptp"
	"github.com/wisslanding/pierre/internal/rtsp"
	"github.com/wisslanding/pierre/internal/session"
	"github.com/wisslanding/pierre/internal/stats"
)

// daemonizedEnvVar flags a re-exec'd child so it doesn't fork again.
const daemonizedEnvVar = "PIERRE_DAEMONIZED"

var log = plog.With("main")

func main() {
	cfgFile := pflag.String("cfg-file", "", "path to the TOML configuration file")
	pidFile := pflag.String("pid-file", "", "override pierre.pid_file from the config file")
	daemon := pflag.Bool("daemon", false, "fork into the background")
	help := pflag.Bool("help", false, "display help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pierre - AirPlay 2 receiver with synchronized light show.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pierre [options]\n\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pierre: %s\n", err)
		os.Exit(1)
	}
	if *pidFile != "" {
		cfg.Pierre.PIDFile = *pidFile
	}

	plog.SetLevel(cfg.Pierre.LogLevel)

	if *daemon && os.Getenv(daemonizedEnvVar) == "" {
		daemonize()
		return
	}

	if err := writePIDFile(cfg.Pierre.PIDFile); err != nil {
		log.Error("failed to write pid file", "err", err)
		os.Exit(1)
	}
	defer os.Remove(cfg.Pierre.PIDFile)

	if err := run(cfg); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run wires every component together and blocks until a termination
// signal arrives; SIGTERM/SIGINT trigger graceful teardown and a clean
// exit.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := stats.New()

	clock := anchor.NewClockPeer()
	poller := ptp.NewPoller(ptp.NullSource{}, clock, 20*time.Millisecond)
	go poller.Run(ctx)

	dmxLink := dmx.New(cfg.DMX.Host, cfg.DMX.Port, reg)
	go dmxLink.Run(ctx)

	if cfg.Metrics.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:    net.JoinHostPort("", strconv.Itoa(cfg.Metrics.Port)),
			Handler: mux,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics listener failed", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	oracleFactory := func() fairplay.Oracle { return &fairplay.Fake{} }
	mgr := session.New(cfg, reg, clock, dmxLink, oracleFactory)

	rtspLn, err := listenReusable(ctx, cfg.RTSP.Port)
	if err != nil {
		return fmt.Errorf("rtsp listen: %w", err)
	}

	adv, err := mdns.Advertise(ctx, mdns.Config{
		ServiceName: cfg.MDNS.ServiceName,
		Port:        cfg.RTSP.Port,
		DeviceID:    "AA:BB:CC:DD:EE:FF",
		Model:       "Pierre1,1",
	})
	if err != nil {
		return fmt.Errorf("mdns advertise: %w", err)
	}
	defer adv.Shutdown()

	rtsp.IdleTimeout = time.Duration(cfg.RTSP.IdleTimeout) * time.Second

	log.Info("pierre ready", "rtsp_port", cfg.RTSP.Port, "service", cfg.MDNS.ServiceName)

	serveErr := make(chan error, 1)
	go func() { serveErr <- mgr.Serve(ctx, rtspLn) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		mgr.Shutdown()
		return nil
	case err := <-serveErr:
		return err
	}
}

// listenReusable opens the RTSP listen socket with SO_REUSEADDR, so a
// restart doesn't wait out TIME_WAIT on the previous instance's socket.
func listenReusable(ctx context.Context, port int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(port)))
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// daemonize re-execs the current process detached from its controlling
// terminal, in its own session, then exits the parent. Go cannot safely
// fork a multi-threaded runtime, so re-exec with setsid is the closest
// equivalent of a classic daemon() call.
func daemonize() {
	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pierre: daemonize: %s\n", err)
		os.Exit(1)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pierre: daemonize: %s\n", err)
		os.Exit(1)
	}
	defer devNull.Close()

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnvVar+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "pierre: daemonize: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("pierre: daemonized as pid %d\n", cmd.Process.Pid)
}
