package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/blockprice/blockprice/api"
	"github.com/blockprice/blockprice/db/bolt"
	"github.com/blockprice/blockprice/noderpc"
	"github.com/blockprice/blockprice/oracle"
)

const usage = `
blockprice [-c CONFIGFILE] [-d DATADIR] COMMAND [-h | -help] [args...]

Commands:
	start    (start the price discovery app)
	stop     (terminate the app)
	version  (show app version)
	status   (show application status)
	price    (show the latest recent-blocks price estimate)
	priceat  (run price discovery for a past UTC date)
	history  (show stored price estimates)
	progress (show the status of the run in progress)
	pause    (pause periodic runs)
	unpause  (resume periodic runs after pausing)
	setdebug (turn on/off debug-level logging)
	metrics  (show app metrics)
	config   (show app config settings)

`

const version = "0.1.0"

func main() {
	var (
		configFile, dataDir string
	)
	flag.CommandLine.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		flag.CommandLine.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	flag.StringVar(&configFile, "c", "",
		fmt.Sprintf("Path to config file (alternatively, use %s env var).", configFileEnv))
	flag.StringVar(&dataDir, "d", "",
		fmt.Sprintf("Path to data directory (alternatively, use %s env var).", dataDirEnv))
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.CommandLine.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatal(err)
	}

	apiclient := api.NewClient(api.Config{
		Host: cfg.AppRPC.Host,
		Port: cfg.AppRPC.Port,
		// priceat blocks until the dated run completes
		Timeout: 900,
	})

	switch args[0] {
	case "start":
		runBlockPrice(args, cfg)
	case "version":
		fmt.Println(version)
	case "stop":
		stop(args, apiclient)
	case "status":
		status(args, apiclient)
	case "price":
		price(args, apiclient)
	case "priceat":
		priceAt(args, apiclient)
	case "history":
		history(args, apiclient)
	case "progress":
		progress(args, apiclient)
	case "pause":
		pause(args, apiclient)
	case "unpause":
		unpause(args, apiclient)
	case "setdebug":
		setDebug(args, apiclient)
	case "metrics":
		appMetrics(args, apiclient)
	case "config":
		appConfig(args, apiclient)
	default:
		log.Fatalf("Invalid command '%s'", args[0])
	}
}

func runBlockPrice(args []string, cfg config) {
	const usage = `
blockprice start

Start the program. The program periodically derives a USD price for bitcoin
from the transaction amounts in the most recent day of blocks, fetched from a
trusted node over JSON-RPC. No exchange or price feed is consulted.

Use blockprice status to check connectivity, blockprice price for the latest
estimate, and blockprice priceat for past dates.
`
	f := flag.NewFlagSet(args[0], flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, usage)
		f.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err := f.Parse(args[1:]); err != nil {
		log.Fatal(err)
	}

	rdb, err := loadResultDB(cfg)
	if err != nil {
		log.Fatal(fmt.Errorf("loadResultDB: %v", err))
	}

	source := loadSource(cfg)

	// Setup the logger
	var dLog *DebugLog
	logFileMode := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if f, err := os.OpenFile(cfg.LogFile, logFileMode, 0666); err != nil {
		log.Fatal(fmt.Errorf("opening logfile: %v", err))
	} else {
		dLog = NewDebugLog(f, "", log.LstdFlags)
	}

	blockpriceConfig := BlockPriceConfig{
		RunPeriod: cfg.RunPeriod,
		source:    source,
		logger:    dLog.Logger,
	}
	blockprice := NewBlockPrice(rdb, blockpriceConfig)
	service := &Service{BlockPrice: blockprice, DLog: dLog, Cfg: cfg}

	os.Stdout.Close()
	os.Stderr.Close()
	os.Stdin.Close()

	errc := make(chan error)
	go func() { errc <- blockprice.Run() }()
	go func() { errc <- service.ListenAndServe() }()

	// Signal handling
	sigc := make(chan os.Signal, 3)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigc
		blockprice.Stop()
	}()

	err = <-errc
	// Blocks until it is safely shutdown. It is idempotent, so no harm if
	// blockprice is already stopped.
	blockprice.Stop()
	if err != nil {
		dLog.Logger.Fatal(err)
	}
}

func loadResultDB(cfg config) (ResultDB, error) {
	const dbFileName = "results.db"
	dbfile := filepath.Join(cfg.DataDir, dbFileName)
	return bolt.LoadResultDB(dbfile)
}

// loadSource wraps the node RPC source with a timer on the raw block fetch,
// the dominant cost of a run.
func loadSource(cfg config) oracle.Source {
	fetchTimer := metrics.NewCustomTimer(metrics.NewHistogram(
		metrics.NewExpDecaySample(oracle.RecentBlocks, 0.015)), metrics.NewMeter())
	metrics.Register("rawblockfetch", fetchTimer)
	return timedSource{
		Source: noderpc.NewSource(cfg.NodeRPC),
		timer:  fetchTimer,
	}
}

type timedSource struct {
	oracle.Source
	timer metrics.Timer
}

func (s timedSource) RawBlockBytes(hash oracle.Hash) ([]byte, error) {
	start := time.Now()
	defer s.timer.UpdateSince(start)
	return s.Source.RawBlockBytes(hash)
}
