package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tinybase/tinybase/internal/pkg/logging"
	"github.com/tinybase/tinybase/internal/tinybase"
)

func main() {
	var (
		dbPath     = flag.String("db", "tinybase.db", "database file")
		indexName  = flag.String("index", "primary", "index name")
		loadPath   = flag.String("load", "", "file of whitespace-separated int64 keys to insert")
		removePath = flag.String("remove", "", "file of whitespace-separated int64 keys to remove")
		dump       = flag.Bool("dump", false, "print every key/row id in order")
		logLevel   = flag.String("log-level", "info", "zap log level")
		poolSize   = flag.Int("pool-size", 64, "buffer pool frames")
	)
	flag.Parse()

	logger, err := logging.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*dbPath, *indexName, *loadPath, *removePath, *dump, *poolSize, logger); err != nil {
		logger.Sugar().With("error", err).Fatal("tinybase failed")
	}
}

func run(dbPath, indexName, loadPath, removePath string, dump bool, poolSize int, logger *zap.Logger) error {
	ctx := context.Background()

	dbFile, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open db file: %w", err)
	}

	pool, err := tinybase.NewBufferPool[int64](dbFile, logger, tinybase.WithPoolSize(poolSize))
	if err != nil {
		dbFile.Close()
		return err
	}
	defer pool.Close(ctx)

	index, err := tinybase.NewBTree[int64](ctx, indexName, pool, logger)
	if err != nil {
		return err
	}

	if loadPath != "" {
		if err := index.InsertFromFile(ctx, loadPath); err != nil {
			return err
		}
	}
	if removePath != "" {
		if err := index.RemoveFromFile(ctx, removePath); err != nil {
			return err
		}
	}

	if dump {
		it, err := index.Begin(ctx)
		if err != nil {
			return err
		}
		defer it.Close()
		for !it.IsEnd() {
			fmt.Printf("%d\t%d\n", it.Key(), it.RowID())
			if err := it.Next(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
