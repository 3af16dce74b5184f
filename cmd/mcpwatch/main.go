// mcpwatch passively reconstructs HTTP/SSE/MCP transactions from captured
// TCP traffic and prints them as colored blocks to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/google/gopacket/pcap"

	"mcpwatch/internal/capture"
	"mcpwatch/internal/config"
	"mcpwatch/internal/render"
)

const (
	exitOK                   = 0
	exitUsage                = 2
	exitCaptureOpen          = 3
	exitUnsupportedLinkLayer = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	logger := log.New(os.Stderr, "mcpwatch: ", log.LstdFlags)

	switch args[0] {
	case "file":
		return runFile(args[1:], logger)
	case "live":
		return runLive(args[1:], logger)
	case "list":
		return runList(logger)
	case "-h", "-help", "--help", "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "mcpwatch: unknown subcommand %q\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mcpwatch <file|live|list> [flags]")
	fmt.Fprintln(os.Stderr, "  file -p <path>")
	fmt.Fprintln(os.Stderr, "  live -i <iface> [-f <bpf>]")
	fmt.Fprintln(os.Stderr, "  list")
}

func loadConfig(configPath string, logger *log.Logger) config.Config {
	cfg := config.Default()
	if configPath == "" {
		return cfg
	}
	merged, err := config.LoadFile(configPath, cfg)
	if err != nil {
		logger.Printf("config: %v, using defaults", err)
		return cfg
	}
	return merged
}

func runFile(args []string, logger *log.Logger) int {
	fs := flag.NewFlagSet("file", flag.ContinueOnError)
	path := fs.String("p", "", "path to a capture file")
	configPath := fs.String("config", "", "optional YAML config overriding tunables")
	colorFlag := fs.String("color", "auto", "auto|always|never")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "mcpwatch file: -p <path> is required")
		return exitUsage
	}

	handle, err := capture.OpenFile(*path)
	if err != nil {
		return reportOpenError(err, logger)
	}
	defer handle.Close()

	return runCapture(handle, *configPath, *colorFlag, logger)
}

func runLive(args []string, logger *log.Logger) int {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	iface := fs.String("i", "", "interface to capture from")
	bpf := fs.String("f", "", "BPF filter")
	configPath := fs.String("config", "", "optional YAML config overriding tunables")
	colorFlag := fs.String("color", "auto", "auto|always|never")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *iface == "" {
		fmt.Fprintln(os.Stderr, "mcpwatch live: -i <iface> is required")
		return exitUsage
	}

	handle, err := capture.OpenLive(*iface, *bpf)
	if err != nil {
		return reportOpenError(err, logger)
	}
	defer handle.Close()

	return runCapture(handle, *configPath, *colorFlag, logger)
}

func runList(logger *log.Logger) int {
	names, err := capture.ListDevices()
	if err != nil {
		logger.Println(err)
		return exitCaptureOpen
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return exitOK
}

func runCapture(handle *pcap.Handle, configPath, colorFlag string, logger *log.Logger) int {
	cfg := loadConfig(configPath, logger)

	colorOverride := -1
	switch colorFlag {
	case "always":
		colorOverride = 1
	case "never":
		colorOverride = 0
	}
	writer := render.New(os.Stdout, colorOverride)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := capture.Run(ctx, handle, capture.Options{Config: cfg, Logger: logger}, writer)
	if err != nil {
		var openErr *capture.OpenError
		if errors.As(err, &openErr) {
			return reportOpenError(openErr, logger)
		}
		logger.Println(err)
		return exitCaptureOpen
	}
	return exitOK
}

func reportOpenError(err error, logger *log.Logger) int {
	var openErr *capture.OpenError
	if errors.As(err, &openErr) {
		logger.Println(openErr.Error())
		if openErr.Kind == capture.ErrUnsupportedLinkLayer {
			return exitUnsupportedLinkLayer
		}
		return exitCaptureOpen
	}
	logger.Println(err)
	return exitCaptureOpen
}
