// Command gpibscan enumerates the listeners on a GPIB board and queries
// each one, by default with *IDN?.
//
// Without flags it scans board 0 through the installed linux-gpib library
// (build with -tags linuxgpib). -prologix drives a Prologix GPIB-USB
// adapter instead, and -sim runs against a built-in simulated bus for
// smoke-testing without hardware. A YAML config can pin the addresses to
// visit instead of scanning.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	gpib "github.com/jsalort/linux-gpib-go"
	"gopkg.in/yaml.v3"
)

// scanConfig is the optional YAML configuration:
//
//	addresses:
//	  - GPIB0::5::INSTR
//	  - GPIB0::9::INSTR
//	query: "*IDN?"
type scanConfig struct {
	Addresses []string `yaml:"addresses"`
	Query     string   `yaml:"query"`
}

func loadConfig(path string) (scanConfig, error) {
	var cfg scanConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	board := flag.Int("board", 0, "board index to scan")
	timeout := flag.Duration("timeout", 3*time.Second, "per-device I/O timeout")
	poll := flag.Duration("poll", 10*time.Millisecond, "async status poll interval")
	simBus := flag.Bool("sim", false, "scan a built-in simulated bus")
	prologixDev := flag.String("prologix", "", "serial device of a Prologix GPIB-USB adapter")
	configPath := flag.String("config", "", "YAML config with addresses and query")
	query := flag.String("query", "", "query to send to each device (default *IDN?)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*board, *timeout, *poll, *simBus, *prologixDev, *configPath, *query); err != nil {
		slog.Error("scan failed", "err", err)
		os.Exit(1)
	}
}

func run(board int, timeout, poll time.Duration, simBus bool, prologixDev, configPath, query string) error {
	var cfg scanConfig
	if configPath != "" {
		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return err
		}
	}
	if query != "" {
		cfg.Query = query
	}
	if cfg.Query == "" {
		cfg.Query = "*IDN?"
	}

	drv, closeDrv, err := pickDriver(simBus, prologixDev)
	if err != nil {
		return err
	}
	defer closeDrv()

	addrs := cfg.Addresses
	if len(addrs) == 0 {
		found, err := gpib.NewBoard(drv, board).FindListeners()
		if err != nil {
			return fmt.Errorf("scan board %d: %w", board, err)
		}
		slog.Debug("listeners found", "board", board, "count", len(found))
		for _, a := range found {
			addrs = append(addrs, a.String())
		}
	}
	if len(addrs) == 0 {
		slog.Info("no listeners", "board", board)
		return nil
	}

	devCfg := gpib.Config{Timeout: timeout, PollInterval: poll}
	for _, addr := range addrs {
		reply, err := queryOne(drv, addr, devCfg, cfg.Query, timeout)
		if err != nil {
			slog.Warn("query failed", "address", addr, "err", err)
			continue
		}
		fmt.Printf("%-24s %s\n", addr, strings.TrimRight(reply, "\r\n"))
	}
	return nil
}

func queryOne(drv gpib.Driver, addr string, cfg gpib.Config, query string, timeout time.Duration) (string, error) {
	dev, err := gpib.Open(drv, addr, cfg)
	if err != nil {
		return "", err
	}
	defer dev.Close()

	// Leave headroom over the bus timeout so the device side, not the
	// context, decides the usual timeout outcome.
	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout+time.Second)
	defer cancel()
	return dev.QueryContext(ctx, query)
}

// simDriver builds a demonstration bus with two instruments that answer
// identification queries and echo everything else.
func simDriver() gpib.Driver {
	ident := func(name string) gpib.Instrument {
		return gpib.InstrumentFunc(func(req []byte) []byte {
			if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(string(req))), "*IDN?") {
				return []byte(name + "\n")
			}
			return append([]byte(nil), req...)
		})
	}
	sim := gpib.NewSimulator()
	sim.Attach(5, ident("linux-gpib-go,SIM-DMM,0,1.0"))
	sim.Attach(9, ident("linux-gpib-go,SIM-SCOPE,0,1.0"))
	return sim
}

func pickDriver(simBus bool, prologixDev string) (gpib.Driver, func() error, error) {
	if simBus {
		return simDriver(), func() error { return nil }, nil
	}
	if prologixDev != "" {
		return openPrologix(prologixDev)
	}
	return openSystem()
}
