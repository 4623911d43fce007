package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/blockprice/blockprice/api"
	"github.com/blockprice/blockprice/oracle"
)

func stop(args []string, c *api.Client) {
	const usage = `
blockprice stop

Stop the program.
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
	if err := c.Stop(); err != nil {
		log.Fatal(err)
	}
}

func status(args []string, c *api.Client) {
	const usage = `
blockprice status

Show application status:

	result  : Whether or not a price estimate is available.
	source  : Whether or not the block source node is reachable.
	progress: Status of the run in progress, if any.

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

	result, err := c.Status()
	if err != nil {
		log.Fatal(err)
	}

	for _, k := range []string{"result", "source", "progress"} {
		fmt.Printf("%-8s: %s\n", k, result[k])
	}
}

func price(args []string, c *api.Client) {
	const usage = `
blockprice price

Show the latest recent-blocks price estimate (USD per BTC), along with the
block range it was derived from, the number of qualifying outputs, and the
deviation ratio (lower is tighter consensus).

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

	result, err := c.Price()
	if err != nil {
		log.Fatal(err)
	}
	printResult(result)
}

func priceAt(args []string, c *api.Client) {
	const usage = `
blockprice priceat DATE

Run price discovery over the blocks of one past UTC calendar day, given as
YYYY-MM-DD. This fetches a full day of blocks from the node and can take
several minutes.

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

	date := f.Arg(0)
	if date == "" {
		f.Usage()
		os.Exit(1)
	}

	result, err := c.PriceAt(date)
	if err != nil {
		log.Fatal(err)
	}
	printResult(result)
}

func history(args []string, c *api.Client) {
	const usage = `
blockprice history [START [END]]

Show stored price estimates with end height in [START, END]. If END is
omitted, show everything from START; with no arguments, show all.

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

	var start, end int64
	for i, p := range []*int64{&start, &end} {
		if s := f.Arg(i); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				log.Fatal(err)
			}
			*p = v
		}
	}

	results, err := c.History(start, end)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range results {
		fmt.Printf("%-13s %9d-%-9d $%-8d %6d outputs  dev %.4f\n",
			r.Label, r.StartHeight, r.EndHeight, r.Price, r.Samples, r.DeviationRatio)
	}
}

func progress(args []string, c *api.Client) {
	const usage = `
blockprice progress

Show the status of the run in progress, e.g. how many blocks have been
fetched so far.

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

	msg, err := c.Progress()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(msg)
}

func pause(args []string, c *api.Client) {
	const usage = `
blockprice pause

Pause the periodic recent-blocks runs. Dated runs (priceat) still work while
paused.
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
	if err := c.Pause(); err != nil {
		log.Fatal(err)
	}
}

func unpause(args []string, c *api.Client) {
	const usage = `
blockprice unpause

Resume the periodic recent-blocks runs after pausing.
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
	if err := c.Unpause(); err != nil {
		log.Fatal(err)
	}
}

func setDebug(args []string, c *api.Client) {
	const usage = `
blockprice setdebug BOOL

Turn on/off debug-level logging. BOOL is 1/0, true/false, etc.

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

	d, err := strconv.ParseBool(f.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if err := c.SetDebug(d); err != nil {
		log.Fatal(err)
	}
}

func appConfig(args []string, c *api.Client) {
	const usage = `
blockprice config

Show the app configuration settings.
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

	result, err := c.Config()
	if err != nil {
		log.Fatal(err)
	}

	b, err := json.MarshalIndent(result, "", "\t")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(b))
}

func appMetrics(args []string, c *api.Client) {
	const usage = `
blockprice metrics

Show the app metrics (run and block fetch timers).
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

	result, err := c.Metrics()
	if err != nil {
		log.Fatal(err)
	}

	b, err := json.MarshalIndent(result, "", "\t")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(b))
}

func printResult(r *oracle.Result) {
	fmt.Printf("price   : $%d/BTC\n", r.Price)
	fmt.Printf("range   : %s (blocks %d-%d)\n", r.Label, r.StartHeight, r.EndHeight)
	fmt.Printf("outputs : %d\n", r.Samples)
	fmt.Printf("dev     : %.4f\n", r.DeviationRatio)
}
