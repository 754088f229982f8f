// monetad is the local daemon: it owns the durable store, drains the
// sync queue against the remote, pulls bank data through the
// configured providers and serves the client-facing HTTP API. The
// subcommands run one-shot versions of the same flows for scripting.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/moneta-app/moneta/internal/advisor"
	"github.com/moneta-app/moneta/internal/aggregator"
	"github.com/moneta-app/moneta/internal/api"
	"github.com/moneta-app/moneta/internal/backup"
	"github.com/moneta-app/moneta/internal/config"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/logger"
	"github.com/moneta-app/moneta/internal/metrics"
	"github.com/moneta-app/moneta/internal/mirror"
	"github.com/moneta-app/moneta/internal/provider"
	"github.com/moneta-app/moneta/internal/remote"
	bq "github.com/moneta-app/moneta/internal/remote/bigquery"
	"github.com/moneta-app/moneta/internal/store"
	"github.com/moneta-app/moneta/internal/syncer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "monetad",
	Short:         "Offline-first personal finance daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the TOML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(suggestCmd)

	mirrorCmd.Flags().Bool("dry-run", false, "Report what would change without writing to Notion")
	syncCmd.Flags().String("from", "", "Fetch window start (RFC 3339 or YYYY-MM-DD, default incremental)")
	syncCmd.Flags().String("to", "", "Fetch window end (RFC 3339 or YYYY-MM-DD, default now)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the wired composition root shared by the subcommands.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      *store.Store
	remote     remote.Store
	ledger     *ledger.Service
	syncer     *syncer.Syncer
	registry   *provider.Registry
	aggregator *aggregator.Service
	metrics    *metrics.Set

	closers []func() error
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogLevel)

	st, err := store.Open(cfg.StorePath, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: st}
	a.closers = append(a.closers, st.Close)

	var rs remote.Store = remote.Unreachable{}
	online := false
	if cfg.RemoteConfigured() {
		var opts []option.ClientOption
		if cfg.Remote.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Remote.CredentialsFile))
		}
		adapter, err := bq.New(ctx, cfg.Remote.ProjectID, cfg.Remote.Dataset, log, opts...)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, adapter.Close)
		rs = adapter
		online = true
	} else {
		log.Warn().Msg("No remote store configured, mutations will stay queued locally")
	}
	a.remote = rs

	a.metrics = metrics.New()
	a.syncer = syncer.New(st, rs, a.metrics, log,
		syncer.WithInterval(time.Duration(cfg.Sync.IntervalSeconds)*time.Second),
		syncer.WithMaxAttempts(cfg.Sync.MaxAttempts),
	)
	a.syncer.SetOnline(online)

	a.ledger = ledger.New(st, rs, a.syncer.Online, log)
	a.registry = provider.NewRegistry(
		provider.NewMono(cfg.Providers.Mono.BaseURL, log),
		provider.NewGoCardless(cfg.Providers.GoCardless.BaseURL, cfg.Providers.GoCardless.SecretID, cfg.Providers.GoCardless.SecretKey, log),
		provider.NewPlaid(cfg.Providers.Plaid.BaseURL, cfg.Providers.Plaid.ClientID, cfg.Providers.Plaid.Secret, log),
	)
	a.aggregator = aggregator.New(a.ledger, a.registry, a.metrics, log)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error().Err(err).Msg("Failed to close resource")
		}
	}
}

// ── serve ───────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon with the HTTP API and background sync loop",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	go a.syncer.Run(ctx)

	srv := api.New(a.cfg.OwnerID, a.ledger, a.syncer, a.aggregator, a.registry, a.metrics, a.log)
	server := &http.Server{
		Addr:         a.cfg.API.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		a.log.Info().
			Str("addr", a.cfg.API.ListenAddr).
			Str("owner_id", a.cfg.OwnerID).
			Interface("providers", a.registry.Available()).
			Msg("Starting daemon")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.log.Info().Msg("Daemon exited")
	return nil
}

// ── sync ────────────────────────────────────────────────────────────

var syncCmd = &cobra.Command{
	Use:   "sync [connection-id]",
	Short: "Pull bank data for one connection, or all of the owner's",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	from, err := parseWindowFlag(cmd, "from")
	if err != nil {
		return err
	}
	to, err := parseWindowFlag(cmd, "to")
	if err != nil {
		return err
	}

	var results []*aggregator.SyncResult
	if len(args) == 1 {
		res, err := a.aggregator.SyncConnectionWindow(ctx, args[0], from, to)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		if !from.IsZero() || !to.IsZero() {
			return fmt.Errorf("window flags need an explicit connection id")
		}
		results, err = a.aggregator.SyncOwner(ctx, a.cfg.OwnerID)
		if err != nil {
			return err
		}
	}

	for _, res := range results {
		fmt.Printf("accounts=%d transactions=%d new=%d success=%v\n",
			res.AccountsSynced, res.TransactionsSynced, res.NewTransactions, res.Success)
		for _, e := range res.Errors {
			fmt.Println("  error:", e)
		}
	}
	return nil
}

// parseWindowFlag reads an optional time flag; empty means unset.
func parseWindowFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected RFC 3339 or YYYY-MM-DD, got %q", name, v)
	}
	return t, nil
}

// ── drain ───────────────────────────────────────────────────────────

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay the pending mutation queue against the remote store once",
	RunE:  runDrain,
}

func runDrain(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.syncer.Drain(ctx)
	if err != nil {
		return err
	}
	if res.Offline {
		fmt.Println("Remote unreachable, nothing drained.")
		return nil
	}
	fmt.Printf("synced=%d failed=%d dead=%d remaining=%d in %s\n",
		res.Synced, res.Failed, res.Dead, res.Remaining, res.Duration.Round(time.Millisecond))
	return nil
}

// ── backup / restore ────────────────────────────────────────────────

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a snapshot of the owner's data to the backup bucket",
	RunE:  runBackup,
}

func runBackup(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Backup.Bucket == "" {
		return fmt.Errorf("backup.bucket is not configured")
	}

	svc := backup.New(a.store, backup.NewGCSStorageService(), a.cfg.Backup.Bucket, a.log)
	uri, err := svc.Run(ctx, a.cfg.OwnerID)
	if err != nil {
		return err
	}
	fmt.Println("Snapshot uploaded to", uri)
	return nil
}

var restoreCmd = &cobra.Command{
	Use:   "restore SNAPSHOT_URI",
	Short: "Restore a snapshot from the backup bucket into the local store",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	svc := backup.New(a.store, backup.NewGCSStorageService(), a.cfg.Backup.Bucket, a.log)
	snap, err := svc.Restore(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Restored snapshot of %s from %s: %d transactions, %d accounts\n",
		snap.OwnerID, snap.CreatedAt.Format(time.RFC3339), len(snap.Transactions), len(snap.Accounts))
	return nil
}

// ── mirror ──────────────────────────────────────────────────────────

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Reconcile the owner's data into the Notion reporting databases",
	RunE:  runMirror,
}

func runMirror(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	n := a.cfg.Notion
	if n.Token == "" || n.TransactionsDB == "" || n.AccountsDB == "" {
		return fmt.Errorf("notion token and database ids are not configured")
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	svc := mirror.New(a.store, mirror.NewNotionClient(n.Token), n.TransactionsDB, n.AccountsDB, a.log)

	txStats, err := svc.SyncTransactions(ctx, a.cfg.OwnerID, dryRun)
	if err != nil {
		return err
	}
	accStats, err := svc.SyncAccounts(ctx, a.cfg.OwnerID, dryRun)
	if err != nil {
		return err
	}
	fmt.Printf("transactions: created=%d deleted=%d skipped=%d\n", txStats.Created, txStats.Deleted, txStats.Skipped)
	fmt.Printf("accounts:     created=%d deleted=%d skipped=%d\n", accStats.Created, accStats.Deleted, accStats.Skipped)
	if dryRun {
		fmt.Println("Dry run, nothing was written.")
	}
	return nil
}

// ── suggest ─────────────────────────────────────────────────────────

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Ask the model for categorization rules covering uncategorized transactions",
	RunE:  runSuggest,
}

func runSuggest(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	svc := advisor.New(a.store, &advisor.GenAIGenerator{Model: a.cfg.Advisor.Model}, a.log)
	suggestions, err := svc.SuggestRules(ctx, a.cfg.OwnerID)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Println("Nothing to suggest, every transaction is categorized.")
		return nil
	}
	for _, s := range suggestions {
		fmt.Printf("%-30s -> %s\n", s.Keyword, s.Category)
	}
	return nil
}
