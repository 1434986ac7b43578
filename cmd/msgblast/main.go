// msgblast is the command-line front end for the MsgBlast bulk-messaging
// API.
//
// Usage:
//
//	msgblast login -email <email> -password <password>
//	msgblast create-instance -id <instance-id>
//	msgblast link [-instance <id>]         Pair a device via QR and watch the link
//	msgblast status [-instance <id>]       One-shot link status
//	msgblast send -numbers <list> [flags]  Dispatch a personalized batch
//	msgblast subscription [-instance <id>] Show usage stats, -watch to refresh
//	msgblast sample-csv [-o <file>]        Download the recipient template
//	msgblast logout
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/msgblast/msgblast-go/internal/api"
	"github.com/msgblast/msgblast-go/internal/client"
	"github.com/msgblast/msgblast-go/internal/compose"
	"github.com/msgblast/msgblast-go/internal/config"
	"github.com/msgblast/msgblast-go/internal/connection"
	"github.com/msgblast/msgblast-go/internal/device"
	"github.com/msgblast/msgblast-go/internal/dispatch"
	"github.com/msgblast/msgblast-go/internal/poller"
	"github.com/msgblast/msgblast-go/internal/session"
	"github.com/msgblast/msgblast-go/internal/store"
)

type app struct {
	cfg     *config.Config
	store   store.Store
	client  *client.Client
	session *session.Manager
	logger  *zap.Logger
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			_ = syncErr
		}
	}()

	configPath := os.Getenv("MSGBLAST_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open state store", zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close state store", zap.Error(err))
		}
	}()

	identity := device.NewIdentity(st)
	apiClient := client.New(&cfg.API, st, identity, logger)
	mgr := session.NewManager(&cfg.Session, st, apiClient, logger)
	mgr.OnLogout(func(message string) {
		if message != "" {
			fmt.Fprintln(os.Stderr, message)
		}
		fmt.Fprintln(os.Stderr, "Logged out. Run `msgblast login` to start a new session.")
	})

	a := &app{cfg: cfg, store: st, client: apiClient, session: mgr, logger: logger}

	cmd, args := os.Args[1], os.Args[2:]
	if err := a.run(cmd, args); err != nil {
		logger.Error("Command failed", zap.String("command", cmd), zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return store.NewRedis(cfg.Storage.Redis.RedisAddr(), cfg.Storage.Redis.Password,
			cfg.Storage.Redis.DB, cfg.Storage.Redis.HashKey)
	case "memory":
		return store.NewMemory(), nil
	default:
		return store.NewBolt(cfg.Storage.Path)
	}
}

func (a *app) run(cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.cmdLogin(args)
	case "create-instance":
		return a.cmdCreateInstance(args)
	case "link":
		return a.cmdLink(args)
	case "status":
		return a.cmdStatus(args)
	case "send":
		return a.cmdSend(args)
	case "subscription":
		return a.cmdSubscription(args)
	case "sample-csv":
		return a.cmdSampleCSV(args)
	case "logout":
		return a.session.Logout("", false)
	case "help", "--help", "-h":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) cmdLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := a.session.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if result.HasInstance {
		fmt.Printf("Logged in as %s. Instance %s ready; run `msgblast link` to pair.\n",
			result.Email, result.InstanceID)
	} else {
		fmt.Printf("Logged in as %s. No instance yet; run `msgblast create-instance`.\n",
			result.Email)
	}
	return nil
}

func (a *app) cmdCreateInstance(args []string) error {
	fs := flag.NewFlagSet("create-instance", flag.ExitOnError)
	id := fs.String("id", "", "instance id (min 4 characters)")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.session.CreateInstance(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("Instance %s created; run `msgblast link` to pair.\n", *id)
	return nil
}

// cmdLink runs the QR pairing flow: show a code, watch the link until
// connected or interrupted. The session guard runs alongside so a forced
// logout ends the watch.
func (a *app) cmdLink(args []string) error {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	instanceFlag := fs.String("instance", "", "instance id (defaults to the current one)")
	_ = fs.Parse(args)

	instanceID, err := connection.ResolveInstance(a.store, *instanceFlag)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.session.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.session.Stop(); err != nil {
			a.logger.Error("Failed to stop session guard", zap.Error(err))
		}
	}()

	watcher := connection.NewWatcher(&a.cfg.Link, a.store, a.client, a.logger, instanceID)
	connected := make(chan struct{}, 1)
	watcher.OnConnected(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	watcher.OnLoggedOut(func() { cancel() })
	a.session.OnLogout(func(message string) {
		if message != "" {
			fmt.Fprintln(os.Stderr, message)
		}
		cancel()
	})

	qr, err := watcher.FetchQR(ctx)
	if err != nil {
		return err
	}
	if qr != "" {
		fmt.Println("Scan this code with the messaging app on your phone:")
		fmt.Println(qr)
	}

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			a.logger.Error("Failed to stop link watcher", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-connected:
		fmt.Println("Device connected successfully.")
		return nil
	case <-quit:
		// Best-effort logout notification on the way out.
		a.session.Beacon(2 * time.Second)
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (a *app) cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	instanceFlag := fs.String("instance", "", "instance id (defaults to the current one)")
	_ = fs.Parse(args)

	instanceID, err := connection.ResolveInstance(a.store, *instanceFlag)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := a.client.Status(ctx, instanceID)
	if err != nil {
		return err
	}
	fmt.Printf("instance %s: %s\n", instanceID, resp.Status)
	return nil
}

func (a *app) cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	instanceFlag := fs.String("instance", "", "instance id (defaults to the current one)")
	numbers := fs.String("numbers", "", "comma-separated phone numbers")
	message := fs.String("message", "", "message text, {{field}} placeholders allowed")
	caption := fs.String("caption", "", "media caption, {{field}} placeholders allowed")
	recipientsFile := fs.String("recipients", "", "recipient table (.csv/.xls/.xlsx)")
	mediaFile := fs.String("media", "", "media attachment to stage")
	schedule := fs.String("schedule", "", "schedule time (backend format)")
	_ = fs.Parse(args)

	instanceID, err := connection.ResolveInstance(a.store, *instanceFlag)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Refuse to dispatch against a dead link; mirror the messaging
	// screen's redirect by leaving the reconnecting marker.
	status, err := a.client.Status(ctx, instanceID)
	if err != nil {
		return err
	}
	if status.Status == api.StateDisconnected || status.Status == api.StateClosed {
		if err := connection.MarkReconnecting(a.store, instanceID); err != nil {
			return err
		}
		return fmt.Errorf("device link is %s; run `msgblast link` to reconnect", status.Status)
	}

	dispatcher := dispatch.NewDispatcher(&a.cfg.Dispatch, a.client, a.logger)
	composer := compose.NewComposer()
	composer.Message().SetText(*message)
	composer.Caption().SetText(*caption)

	batch := dispatch.Batch{Numbers: *numbers, ScheduleTime: *schedule}

	if *recipientsFile != "" {
		table, loadedNumbers, err := dispatcher.UploadRecipients(ctx, instanceID, *recipientsFile)
		if err != nil {
			return err
		}
		batch.Table = table
		if batch.Numbers == "" {
			batch.Numbers = loadedNumbers
		}
	}
	if *mediaFile != "" {
		filePath, err := dispatcher.UploadMedia(ctx, instanceID, *mediaFile)
		if err != nil {
			return err
		}
		batch.FilePath = filePath
	}

	resp, err := dispatcher.Send(ctx, instanceID, composer, batch)
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

func (a *app) cmdSubscription(args []string) error {
	fs := flag.NewFlagSet("subscription", flag.ExitOnError)
	instanceFlag := fs.String("instance", "", "instance id (defaults to the current one)")
	watch := fs.Bool("watch", false, "refresh the stats on the configured interval until interrupted")
	_ = fs.Parse(args)

	instanceID, err := connection.ResolveInstance(a.store, *instanceFlag)
	if err != nil {
		return err
	}

	if !*watch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.printSubscription(ctx, instanceID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refresh := poller.New(a.logger, "subscription", a.cfg.Link.SubscriptionInterval(),
		func(ctx context.Context) error {
			return a.printSubscription(ctx, instanceID)
		})
	if err := refresh.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := refresh.Stop(); err != nil {
			a.logger.Error("Failed to stop subscription refresh", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	return nil
}

func (a *app) printSubscription(ctx context.Context, instanceID string) error {
	resp, err := a.client.Subscription(ctx, instanceID)
	if err != nil {
		return err
	}
	cur := resp.Data.Current
	fmt.Printf("Package: %s (expires %s)\n", cur.Package, cur.DateExpiry)
	fmt.Printf("Messages: %d sent, %d remaining of %d\n",
		cur.MessagesSent, cur.MessagesRemaining, cur.TotalMessages)
	fmt.Printf("All time: %d sent, %d successful, %d failed\n",
		resp.Data.AllTime.MessagesSent, resp.Data.AllTime.SuccessfulMessages,
		resp.Data.AllTime.FailedMessages)
	return nil
}

func (a *app) cmdSampleCSV(args []string) error {
	fs := flag.NewFlagSet("sample-csv", flag.ExitOnError)
	out := fs.String("o", "sample.csv", "output file, - for stdout")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := a.client.SampleCSV(ctx)
	if err != nil {
		return err
	}
	if *out == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sample file: %w", err)
	}
	fmt.Printf("Wrote %s\n", *out)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `msgblast: MsgBlast bulk messaging client

Commands:
  login -email <email> -password <password>
  create-instance -id <instance-id>
  link [-instance <id>]
  status [-instance <id>]
  send -numbers <list> [-message <text>] [-caption <text>] [-recipients <file>] [-media <file>] [-schedule <time>]
  subscription [-instance <id>] [-watch]
  sample-csv [-o <file>]
  logout`)
}
