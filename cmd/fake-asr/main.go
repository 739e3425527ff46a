// ABOUTME: Minimal fake ASR engine for local runs and end-to-end checks
// ABOUTME: Usage: fake-asr [--addr localhost:7000] [--every 8000] [--full-after 32000] [--tls-cert c.pem --tls-key k.pem]

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	listenAddr string
	partEvery  int
	fullAfter  int
	tlsCert    string
	tlsKey     string
	words      string
)

var rootCmd = &cobra.Command{
	Use:          "fake-asr",
	Short:        "Serve a fake streaming recognizer on /ws/streamraw/<rate>",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "addr", "localhost:7000", "listen address")
	rootCmd.Flags().IntVar(&partEvery, "every", 8000, "emit a partial result after this many audio bytes")
	rootCmd.Flags().IntVar(&fullAfter, "full-after", 0, "emit a full result and start a new utterance after this many bytes (0 waits for the end marker)")
	rootCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "certificate file; serves wss when set with --tls-key")
	rootCmd.Flags().StringVar(&tlsKey, "tls-key", "", "private key file")
	rootCmd.Flags().StringVar(&words, "words", "hello world", "space separated words cycled through results")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	eng := &engine{every: partEvery, full: fullAfter, words: strings.Fields(words), logger: logger}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           eng.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		scheme := "ws"
		var err error
		if tlsCert != "" && tlsKey != "" {
			scheme = "wss"
			logger.Info("fake asr listening", "url", scheme+"://"+listenAddr+"/ws/streamraw/16000")
			err = srv.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			logger.Info("fake asr listening", "url", scheme+"://"+listenAddr+"/ws/streamraw/16000")
			err = srv.ListenAndServe()
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
