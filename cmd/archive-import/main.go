// Package main implements archive-import, a command that indexes WARC and HAR
// files in place into a single collection and reports upload progress.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonno85/warc-ingest/internal/catalog"
	"github.com/jonno85/warc-ingest/internal/config"
	"github.com/jonno85/warc-ingest/internal/importer"
	"github.com/jonno85/warc-ingest/internal/index"
	"github.com/jonno85/warc-ingest/internal/pages"
	"github.com/jonno85/warc-ingest/internal/parser"
	"github.com/jonno85/warc-ingest/internal/progress"
)

var (
	userName string
	uploadID string
	collName string
)

var rootCmd = &cobra.Command{
	Use:   "archive-import",
	Short: "Index local web archives into a collection",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if userName == "" {
			return fmt.Errorf("%w: --user", config.ErrMissingRequired)
		}
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load [files...]",
	Short: "Index WARC and HAR files without copying them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(cmd.Context(), args)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <upload-id>",
	Short: "Print the progress of an upload as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), args[0])
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota <bytes>",
	Short: "Set the storage quota of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxSize, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || maxSize < 0 {
			return fmt.Errorf("invalid quota %q", args[0])
		}
		return runQuota(cmd.Context(), maxSize)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userName, "user", "", "owner of the imported collection")
	loadCmd.Flags().StringVar(&uploadID, "upload-id", "", "upload id to report progress under (generated when empty)")
	loadCmd.Flags().StringVar(&collName, "coll", "", "collection name (defaults to UPLOAD_COLL_ID)")
	rootCmd.AddCommand(loadCmd, statusCmd, quotaCmd)
}

func runLoad(ctx context.Context, paths []string) error {
	cfg, clients, err := setup(ctx)
	if err != nil {
		return err
	}
	defer clients.Close()

	p, err := parser.NewWithArchives(cfg.RemoteArchivesFile)
	if err != nil {
		return fmt.Errorf("load remote archives: %w", err)
	}
	if collName == "" {
		collName = cfg.UploadCollID
	}

	users := catalog.NewStore(clients.Redis, cfg.DefaultUserQuota)
	idx := index.NewRedisIndex(clients.Redis, cfg.CDXJKeyTemplate)
	strategy, err := importer.NewLocalStrategy(ctx, users.User(userName), index.NewIndexer(clients.Redis, idx), uploadID, collName, cfg.UploadCollection())
	if err != nil {
		return err
	}

	orch := importer.New(strategy, users, p, pages.NewDetector(idx), progress.NewStore(clients.Redis, cfg.StatusReadExpire), importer.Options{
		SpoolDir:         cfg.SpoolDir,
		UploadExpire:     cfg.UploadStatusExpire,
		MaxDetectPages:   cfg.MaxDetectPages,
		UploadCollection: cfg.UploadCollection(),
		RetainSpool:      true,
	})
	res, err := orch.IngestMany(ctx, userName, paths)
	if err != nil {
		return err
	}
	orch.Wait()
	slog.Info("Import finished", "user", res.User, "upload_id", res.UploadID, "coll", strategy.Collection().Name(), "files", len(paths))
	return printJSON(res)
}

func runStatus(ctx context.Context, id string) error {
	cfg, clients, err := setup(ctx)
	if err != nil {
		return err
	}
	defer clients.Close()

	p, err := progress.NewStore(clients.Redis, cfg.StatusReadExpire).Status(ctx, userName, id)
	if err != nil {
		return err
	}
	return printJSON(p)
}

func runQuota(ctx context.Context, maxSize int64) error {
	cfg, clients, err := setup(ctx)
	if err != nil {
		return err
	}
	defer clients.Close()

	users := catalog.NewStore(clients.Redis, cfg.DefaultUserQuota)
	if err := users.SetQuota(ctx, userName, maxSize); err != nil {
		return err
	}
	remaining, err := users.User(userName).RemainingSpace(ctx)
	if err != nil {
		return err
	}
	slog.Info("Quota updated", "user", userName, "max_size", maxSize, "remaining", remaining)
	return nil
}

func setup(ctx context.Context) (*config.Config, *config.AppClients, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	config.SetupLogging(cfg.LogLevel)
	clients, err := config.NewAppClients(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, clients, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "err", err)
		stop()
		os.Exit(1)
	}
}
