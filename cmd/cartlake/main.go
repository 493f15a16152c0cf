package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kk-code-lab/cartlake/internal/app"
	"github.com/kk-code-lab/cartlake/internal/cartridge"
	"github.com/kk-code-lab/cartlake/internal/engine"
	"github.com/kk-code-lab/cartlake/internal/gateway"
	"github.com/kk-code-lab/cartlake/internal/ledger"
	"github.com/kk-code-lab/cartlake/internal/ledger/badgerstore"
	"github.com/kk-code-lab/cartlake/internal/ledger/sqlitestore"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	addr := flag.String("addr", ":9100", "HTTP listen address")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	backend := flag.String("backend", "sqlite", "Ledger backend: sqlite|badger")
	profileName := flag.String("profile", "default", "Deployment profile: default|micro")
	mode := flag.String("mode", "server", "Mode: server|status")
	globalRate := flag.Float64("rate", 0, "Global rate limit (requests/second, 0 disables)")
	globalBurst := flag.Int("burst", 0, "Global burst size")
	perIPRate := flag.Float64("ip-rate", 0, "Per-IP rate limit (requests/second, 0 disables)")
	perIPBurst := flag.Int("ip-burst", 0, "Per-IP burst size")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cartlake %s (commit %s)\n", app.Version, app.BuildCommit)
		return
	}
	if flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "unknown arguments:", flag.Args())
		os.Exit(2)
	}

	profile, err := cartridge.ProfileByName(*profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "profile error: %v\n", err)
		os.Exit(2)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "data dir error: %v\n", err)
		os.Exit(1)
	}

	store, err := openStore(*backend, *dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger open error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	eng, err := engine.New(engine.Options{Store: store, Profile: profile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine init error: %v\n", err)
		os.Exit(1)
	}

	if *mode == "status" {
		if err := printStatus(eng); err != nil {
			fmt.Fprintf(os.Stderr, "status error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if *mode != "server" {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}

	limiter := gateway.NewRateLimiter(gateway.RateLimitConfig{
		GlobalRate:  *globalRate,
		GlobalBurst: *globalBurst,
		PerIPRate:   *perIPRate,
		PerIPBurst:  *perIPBurst,
	})
	if limiter != nil {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				limiter.Cleanup()
			}
		}()
	}

	handler := gateway.LoggingMiddleware(&gateway.Handler{
		Engine:  eng,
		Limiter: limiter,
	})
	server := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	fmt.Printf("cartlake %s (commit %s) profile=%s backend=%s addr=%s\n",
		app.Version, app.BuildCommit, profile.Name, *backend, *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "listen error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(backend, dataDir string) (ledger.Store, error) {
	switch backend {
	case "sqlite":
		return sqlitestore.Open(filepath.Join(dataDir, "ledger.db"))
	case "badger":
		return badgerstore.Open(filepath.Join(dataDir, "ledger"))
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

func printStatus(eng *engine.Engine) error {
	ctx := context.Background()
	root, err := eng.CatalogRoot(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("owner=%s total_finalized=%d page_count=%d active_page=%d\n",
		root.Owner, root.TotalFinalized, root.PageCount, root.ActivePage)
	for i := uint32(0); i < root.PageCount; i++ {
		page, err := eng.CatalogPage(ctx, i)
		if err != nil {
			return err
		}
		fmt.Printf("page=%d entries=%d/%d\n", i, page.EntryCount, len(page.Entries))
	}
	return nil
}
