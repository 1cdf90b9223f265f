// Package main provides a standalone NATS server with JetStream for local
// cluster runs.
//
// The examples/cluster nodes and any manual multi-process experiment need a
// JetStream-enabled server; this one binds a random free port, stores
// JetStream data in a temporary directory, and prints the connection URL to
// stdout so a wrapper script can export it as NATS_URL.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

func main() {
	// Obtain a free port by binding and releasing it
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal("Failed to get available port:", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		log.Fatal("Failed to get TCP address from listener")
	}
	port := tcpAddr.Port

	// The server binds the same port right after; the window is acceptable
	// for a dev tool.
	_ = listener.Close()

	// Temporary directory for JetStream storage
	tempDir := filepath.Join(os.TempDir(), fmt.Sprintf("relax-nats-%d", os.Getpid()))
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		log.Fatal("Failed to create temp directory:", err)
	}
	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       port,
		JetStream:  true,
		StoreDir:   tempDir,
		MaxPayload: 8 * 1024 * 1024, // Scatter chunks for large grids exceed the 1MB default
		NoLog:      true,
		NoSigs:     true, // We handle signals ourselves
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to create NATS server: %v\n", err)
		os.Exit(1)
	}

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		_, _ = fmt.Fprintln(os.Stderr, "NATS server not ready within timeout")
		os.Exit(1)
	}

	// Connection info on stdout, diagnostics on stderr
	fmt.Printf("NATS_URL=nats://%s:%d\n", opts.Host, opts.Port)
	_, _ = fmt.Fprintf(os.Stderr, "NATS server started on port %d (PID: %d)\n", port, os.Getpid())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	_, _ = fmt.Fprintln(os.Stderr, "Shutting down NATS server...")
	srv.Shutdown()
	srv.WaitForShutdown()
	_, _ = fmt.Fprintln(os.Stderr, "NATS server stopped")
}
