package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // opt-in profiling endpoint
	"os"
	"slices"
	"time"

	units "github.com/docker/go-units"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/charafile"
	"github.com/meigma/assetcache/internal/metrics"
)

func runCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	metricsAddr := fs.String("metrics-addr", "", "metrics listen address (overrides config)")
	pprofAddr := fs.String("pprof-addr", "", "pprof listen address (e.g. :6060)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	addr := *metricsAddr
	if addr == "" {
		addr = svc.Config().Snapshot().MetricsAddr
	}
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			e.logger.Info("metrics listening", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	if *pprofAddr != "" {
		go func() {
			e.logger.Info("pprof listening", slog.String("addr", *pprofAddr))
			//nolint:gosec // opt-in pprof server without timeouts
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				e.logger.Error("pprof server", slog.Any("error", err))
			}
		}()
	}

	return svc.Run(ctx)
}

func scanCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Scanner().RunPass(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "files=%d validated=%d removed=%d added=%d secondary=%d failed=%d elapsed=%s\n",
		res.TotalFiles, res.Validated, res.Removed, res.Added, res.Secondary, res.Failed,
		res.Duration.Round(time.Millisecond))
	return nil
}

func importCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("import: no files given")
	}

	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	for _, path := range fs.Args() {
		entry, err := svc.ImportFile(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "%s %s %s\n", entry.Hash, units.BytesSize(float64(entry.Size)), path)
	}
	return nil
}

func saveCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	manifest := fs.String("manifest", "", "JSON character data manifest")
	out := fs.String("out", "", "archive to write")
	description := fs.String("description", "", "description (overrides the manifest)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *manifest == "" || *out == "" {
		return errors.New("save: -manifest and -out are required")
	}

	raw, err := os.ReadFile(*manifest)
	if err != nil {
		return err
	}
	var data charafile.CharacterData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if *description != "" {
		data.Description = *description
	}

	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Archives().Save(ctx, *out, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s %s files=%d %s\n", res.Path, units.BytesSize(float64(res.Size)), res.Files, res.Digest)
	for _, hash := range res.Skipped {
		fmt.Fprintf(e.stdout, "skipped %s\n", hash)
	}
	return nil
}

func inspectCmd(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("inspect: exactly one archive expected")
	}
	path := fs.Arg(0)

	header, err := archive.ReadHeader(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	dgst, err := digest.SHA256.FromReader(f)
	f.Close()
	if err != nil {
		return err
	}

	w := e.stdout
	fmt.Fprintf(w, "archive:     %s\n", path)
	fmt.Fprintf(w, "digest:      %s\n", dgst)
	fmt.Fprintf(w, "version:     %d\n", header.Version)
	fmt.Fprintf(w, "description: %s\n", header.Description)
	fmt.Fprintf(w, "payload:     %s in %d files\n", units.BytesSize(float64(header.PayloadLength())), len(header.Files))
	for _, file := range header.Files {
		paths := slices.Clone(file.GamePaths)
		slices.Sort(paths)
		fmt.Fprintf(w, "  %s %10s %v\n", file.Hash, units.BytesSize(float64(file.Length)), paths)
	}
	for _, sw := range header.FileSwaps {
		fmt.Fprintf(w, "  swap %v => %s\n", sw.GamePaths, sw.Target)
	}
	return nil
}

func extractCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	target := fs.String("target", "target", "name used for scratch files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("extract: exactly one archive expected")
	}

	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	loaded, err := svc.Archives().Load(fs.Arg(0))
	if err != nil {
		return err
	}
	app, err := svc.Archives().Apply(ctx, *target, loaded)
	if err != nil {
		return err
	}

	gamePaths := make([]string, 0, len(app.Paths))
	for gp := range app.Paths {
		gamePaths = append(gamePaths, gp)
	}
	slices.Sort(gamePaths)
	for _, gp := range gamePaths {
		fmt.Fprintf(e.stdout, "%s => %s\n", gp, app.Paths[gp])
	}
	return nil
}

func cleanCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	removed, err := svc.Archives().CleanScratch()
	if err != nil {
		return err
	}
	res, err := svc.Cache().Evict(svc.Cache().Limit())
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "scratch=%d evicted=%d freed=%s size=%s\n",
		removed, len(res.Deleted), units.BytesSize(float64(res.Freed)), units.BytesSize(float64(res.After)))
	return nil
}
