package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/client"
	"github.com/mnohosten/bridgepay/pkg/config"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

const banner = `
╔══════════════════════════════════════╗
║           BridgePay Client           ║
║   Cross-bank transfers over 2PC      ║
╚══════════════════════════════════════╝

Type 'help' for available commands
Type 'exit' or 'quit' to exit

`

type cli struct {
	client  *client.Client
	queue   *client.Queue
	worker  *client.Worker
	scanner *bufio.Scanner
}

func main() {
	configPath := flag.String("config", "", "Path to a .properties configuration file")
	registryAddr := flag.String("registry", "", "Registry base URL (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *registryAddr != "" {
		cfg.RegistryAddr = *registryAddr
	}

	c := client.New(cfg.RegistryAddr, nil)
	queue := client.NewQueue()
	worker := client.NewWorker(c, queue, cfg.OfflinePoll, zap.NewNop())

	app := &cli{
		client:  c,
		queue:   queue,
		worker:  worker,
		scanner: bufio.NewScanner(os.Stdin),
	}

	// Optional: bank user password as positional arguments.
	if args := flag.Args(); len(args) == 3 {
		if err := app.login(args[0], args[1], args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Login failed: %v\n", err)
			os.Exit(1)
		}
	}

	worker.Start()
	defer worker.Stop()
	go app.printOutcomes()

	if err := app.run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) run() error {
	fmt.Print(banner)
	for {
		bank, user := c.client.Identity()
		if user != "" {
			fmt.Printf("%s@%s> ", user, bank)
		} else {
			fmt.Print("bridgepay> ")
		}

		if !c.scanner.Scan() {
			return c.scanner.Err()
		}
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}
		if err := c.execute(line); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func (c *cli) execute(line string) error {
	parts := strings.Fields(line)
	switch parts[0] {
	case "help":
		c.printHelp()
		return nil
	case "login":
		if len(parts) != 4 {
			return fmt.Errorf("usage: login <bank> <user> <password>")
		}
		return c.login(parts[1], parts[2], parts[3])
	case "transfer":
		if len(parts) != 4 {
			return fmt.Errorf("usage: transfer <dst_bank> <dst_user> <amount>")
		}
		return c.transfer(parts[1], parts[2], parts[3])
	case "balance":
		return c.balance()
	case "history":
		return c.history()
	case "queue":
		c.printQueue()
		return nil
	case "ping":
		return c.ping()
	default:
		return fmt.Errorf("unknown command %q, type 'help'", parts[0])
	}
}

func (c *cli) printHelp() {
	fmt.Print(`Commands:
  login <bank> <user> <password>      Authenticate and obtain a token
  transfer <dst_bank> <dst_user> <n>  Send n units to the destination account
  balance                             Show your balance
  history                             Show your committed transfers
  queue                               Show transfers waiting for the coordinator
  ping                                Check coordinator reachability
  exit                                Leave
`)
}

func (c *cli) login(bank, user, password string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.Login(ctx, bank, user, password); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s/%s\n", bank, user)
	// Queued transfers held back by an expired token can flow again.
	if c.worker.Paused() {
		c.worker.Resume()
	}
	return nil
}

func (c *cli) transfer(dstBank, dstUser, amountArg string) error {
	if !c.client.LoggedIn() {
		return fmt.Errorf("login first")
	}
	amount, err := strconv.ParseInt(amountArg, 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("amount must be a positive integer")
	}

	req := c.client.NewTransfer(dstBank, dstUser, amount)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := c.worker.Submit(ctx, req)
	if err != nil {
		return err
	}
	switch result.Status {
	case wire.StatusCommitted:
		fmt.Printf("Committed (txid %s)\n", result.TxID)
	case wire.StatusAborted:
		fmt.Printf("Aborted: %s (txid %s)\n", result.Reason, result.TxID)
	case wire.StatusQueued:
		fmt.Printf("Coordinator unreachable, queued (txid %s)\n", result.TxID)
	default:
		fmt.Printf("%s (txid %s)\n", result.Status, result.TxID)
	}
	return nil
}

func (c *cli) balance() error {
	if !c.client.LoggedIn() {
		return fmt.Errorf("login first")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := c.client.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Balance: %d\n", resp.Balance)
	return nil
}

func (c *cli) history() error {
	if !c.client.LoggedIn() {
		return fmt.Errorf("login first")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := c.client.History(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No transfers yet.")
		return nil
	}
	for _, rec := range records {
		verb := "to"
		if rec.Direction == wire.DirectionReceived {
			verb = "from"
		}
		fmt.Printf("  %s  %-8s %6d %s %s/%s\n",
			rec.Timestamp.Format(time.RFC3339), rec.Direction, rec.Amount,
			verb, rec.CounterpartyBank, rec.CounterpartyUser)
	}
	return nil
}

func (c *cli) printQueue() {
	items := c.queue.Items()
	if len(items) == 0 {
		fmt.Println("Queue is empty.")
		return
	}
	for i, p := range items {
		fmt.Printf("  %d. txid %s  %d -> %s/%s  attempts=%d\n",
			i+1, p.Req.TxID, p.Req.Amount, p.Req.DstBank, p.Req.DstUser, p.Attempts)
	}
	if c.worker.Paused() {
		fmt.Println("Draining paused: re-login required.")
	}
}

func (c *cli) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx); err != nil {
		return err
	}
	fmt.Println("Coordinator reachable.")
	return nil
}

// printOutcomes reports the fate of queued transfers as they drain.
func (c *cli) printOutcomes() {
	for o := range c.worker.Outcomes() {
		switch {
		case o.Err != nil:
			fmt.Printf("\n[queued txid %s rejected: %v]\n", o.Req.TxID, o.Err)
		case o.Result.Committed():
			fmt.Printf("\n[queued txid %s committed]\n", o.Req.TxID)
		default:
			fmt.Printf("\n[queued txid %s %s: %s]\n", o.Req.TxID, o.Result.Status, o.Result.Reason)
		}
	}
}
