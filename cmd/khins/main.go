package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Khin-96/KhinsLLM/common/version"
	"github.com/Khin-96/KhinsLLM/internal/khins/app"
	"github.com/Khin-96/KhinsLLM/internal/khins/config"
	"github.com/Khin-96/KhinsLLM/internal/khins/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("KHINS_CONFIG"), "path to the YAML config file (env KHINS_CONFIG)")
	console := flag.Bool("console", false, "chat on stdin/stdout instead of waiting for HTTP or Matrix turns")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	fmt.Printf("KhinsGPT\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *console {
		// Keep the chat readable: only HTTP/Matrix deployments want a listener.
		cfg.HTTP.Addr = ""
	}

	logger := observability.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	khins, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize KhinsGPT: %v\n", err)
		os.Exit(1)
	}
	defer khins.Stop()

	if *console {
		err = khins.RunConsole(ctx, os.Stdin, os.Stdout)
	} else {
		err = khins.Run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running KhinsGPT: %v\n", err)
		khins.Stop()
		os.Exit(1)
	}
}
