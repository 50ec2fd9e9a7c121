// Package main provides the Bluetooth audio relay daemon.
//
// The daemon connects to the system D-Bus, acquires BlueZ media
// transport sockets on demand and relays audio between those sockets
// and local PCM FIFOs, one IO goroutine per stream.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay"
	"github.com/opd-ai/bluerelay/bluez"
	"github.com/opd-ai/bluerelay/config"
)

// cliConfig holds the parsed command-line configuration.
type cliConfig struct {
	logLevel            string
	keepAlive           time.Duration
	volumePassthrough   bool
	monoDownmix         bool
	disablePayloadCheck bool
	sbcQuality          uint
	aacAfterburner      bool
	aacVBRMode          uint
	ldacQuality         int
	disableABR          bool
	dumpIncoming        bool
	help                bool
}

func parseCLIFlags() *cliConfig {
	cfg := &cliConfig{}

	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&cfg.keepAlive, "keep-alive", 0, "Keep the A2DP stream open this long after the PCM client detaches")
	flag.BoolVar(&cfg.volumePassthrough, "volume-passthrough", false, "Defer volume control to the remote device")
	flag.BoolVar(&cfg.monoDownmix, "mono-downmix", false, "Fold stereo sink streams into mono")
	flag.BoolVar(&cfg.disablePayloadCheck, "disable-payload-check", false, "Skip RTP payload type validation on sink transports")
	flag.UintVar(&cfg.sbcQuality, "sbc-quality", 0, "Cap the SBC encoder bitpool (0 keeps the negotiated value)")
	flag.BoolVar(&cfg.aacAfterburner, "aac-afterburner", false, "Enable the AAC encoder afterburner")
	flag.UintVar(&cfg.aacVBRMode, "aac-vbr-mode", 4, "AAC VBR quality level")
	flag.IntVar(&cfg.ldacQuality, "ldac-quality", 1, "Initial LDAC encode quality mode")
	flag.BoolVar(&cfg.disableABR, "disable-abr", false, "Disable LDAC adaptive bitrate")
	flag.BoolVar(&cfg.dumpIncoming, "dump-incoming", false, "Capture undecodable sink streams to /tmp")
	flag.BoolVar(&cfg.help, "help", false, "Show help message")

	flag.Parse()
	return cfg
}

func printUsage() {
	fmt.Println("Bluetooth audio relay daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

// setupLogging configures logrus from the command line.
func setupLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// buildConfig maps the command line onto the runtime configuration.
func buildConfig(cli *cliConfig) *config.Config {
	cfg := config.Default()
	cfg.SetKeepAlive(cli.keepAlive)
	cfg.SetVolumePassthrough(cli.volumePassthrough)
	cfg.SetMonoDownmix(cli.monoDownmix)
	cfg.SetPayloadCheck(!cli.disablePayloadCheck)
	cfg.SetSBCQuality(uint8(cli.sbcQuality))
	cfg.SetAACAfterburner(cli.aacAfterburner)
	cfg.SetAACVBRMode(uint8(cli.aacVBRMode))
	cfg.SetLDACEQMID(cli.ldacQuality)
	cfg.SetLDACABR(!cli.disableABR)
	cfg.SetDumpIncoming(cli.dumpIncoming)
	return cfg
}

func run() error {
	cli := parseCLIFlags()
	if cli.help {
		printUsage()
		return nil
	}
	if err := setupLogging(cli.logLevel); err != nil {
		return err
	}

	client, err := bluez.NewClient()
	if err != nil {
		return err
	}
	defer client.Close()

	manager := bluerelay.NewManager(nil, buildConfig(cli))
	defer manager.Close()

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"pid":      os.Getpid(),
	}).Info("Relay daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"signal":   sig.String(),
	}).Info("Shutting down")
	return nil
}

func main() {
	if err := run(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Daemon failed")
	}
}
