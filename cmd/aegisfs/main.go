// AegisFS client - encrypted FUSE filesystem over an S3-compatible
// object store.
//
// Files are split into fixed-size chunks, each encrypted independently
// with AES-256-GCM before upload. The bucket only ever sees ciphertext
// and opaque key names.
//
// Sub-commands:
//
//	aegisfs mount [flags]    Mount the filesystem (default)
//	aegisfs genkey [flags]   Generate a new master key file
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/SmitBdangar/AegisFS/internal/chunkcache"
	"github.com/SmitBdangar/AegisFS/internal/config"
	"github.com/SmitBdangar/AegisFS/internal/crypto"
	"github.com/SmitBdangar/AegisFS/internal/engine"
	"github.com/SmitBdangar/AegisFS/internal/fusefs"
	"github.com/SmitBdangar/AegisFS/internal/keymap"
	"github.com/SmitBdangar/AegisFS/internal/logging"
	"github.com/SmitBdangar/AegisFS/internal/metrics"
	"github.com/SmitBdangar/AegisFS/internal/retry"
	"github.com/SmitBdangar/AegisFS/internal/store/s3"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "genkey":
			cmdGenkey(os.Args[2:])
			return
		case "mount":
			// Strip "mount" and fall through to normal parsing.
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	cmdMount()
}

func cmdGenkey(args []string) {
	fset := flag.NewFlagSet("genkey", flag.ExitOnError)
	out := fset.String("out", "aegisfs.key", "Path for the generated key file")
	fset.Parse(args)

	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists, refusing to overwrite\n", *out)
		os.Exit(1)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: generate key: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.WriteKeyFile(*out, key); err != nil {
		fmt.Fprintf(os.Stderr, "Error: write key file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Master key written to %s\n", *out)
	fmt.Println("Keep this file safe: without it the bucket contents are unrecoverable.")
}

func cmdMount() {
	mountPoint := flag.String("mount", "", "Mount point for the filesystem (required)")
	debug := flag.Bool("debug", false, "Enable FUSE debug output")
	flag.Parse()

	if *mountPoint == "" {
		fmt.Fprintf(os.Stderr, "Error: -mount is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	key, err := crypto.LoadKey(cfg.KeyFile)
	if err != nil {
		logging.Fatal("load master key", zap.String("file", cfg.KeyFile), zap.Error(err))
	}
	codec, err := crypto.NewCodec(key)
	if err != nil {
		logging.Fatal("build codec", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := s3.New(ctx, s3.Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
	})
	if err != nil {
		logging.Fatal("create s3 client", zap.Error(err))
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.MaxRetries

	keys := keymap.New(cfg.Prefix)
	cache := chunkcache.New(client, codec, keys, cfg.CacheBudget(), retryCfg)
	eng := engine.New(cache, keys, cfg.ChunkSize)

	logging.Info("building namespace from bucket",
		zap.String("bucket", cfg.S3Bucket),
		zap.String("prefix", cfg.Prefix))
	if err := eng.Bootstrap(ctx); err != nil {
		logging.Fatal("bootstrap", zap.Error(err))
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logging.Info("metrics listener started", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logging.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	server, err := fusefs.Mount(eng, *mountPoint, *debug)
	if err != nil {
		logging.Fatal("mount", zap.Error(err))
	}
	logging.Info("filesystem mounted",
		zap.String("mountpoint", *mountPoint),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Int64("cache_budget", cfg.CacheBudget()))

	go func() {
		<-ctx.Done()
		logging.Info("shutting down, flushing dirty chunks")
		if err := eng.Close(context.Background()); err != nil {
			logging.Error("final flush failed", zap.Error(err))
		}
		if err := server.Unmount(); err != nil {
			logging.Error("unmount failed", zap.Error(err))
		}
	}()

	server.Wait()
	logging.Info("filesystem unmounted")
}
