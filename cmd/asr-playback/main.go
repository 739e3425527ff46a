// ABOUTME: Plays a raw PCM file through a running gateway as one client session
// ABOUTME: Usage: asr-playback --file audio.raw --text "hello" [--url ws://localhost:8008/]

package main

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/asr-gateway/internal/link"
)

var opts options

var rootCmd = &cobra.Command{
	Use:          "asr-playback",
	Short:        "Stream a PCM file through the gateway and print the results",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), opts)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.url, "url", "ws://localhost:8008/", "gateway websocket URL")
	f.StringVarP(&opts.file, "file", "f", "", "raw little-endian PCM file")
	f.StringVarP(&opts.text, "text", "t", "", "expected text declared for the sequence")
	f.IntVar(&opts.sequence, "sequence", 1, "sequence id to declare")
	f.IntVar(&opts.sampleRate, "sample-rate", 16000, "samples per second of the file")
	f.IntVar(&opts.bytesPerSample, "bytes-per-sample", 2, "bytes per sample of the file")
	f.DurationVar(&opts.frame, "frame", 100*time.Millisecond, "audio duration sent per frame")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "give up waiting for a full result after this long")
	f.StringVar(&opts.user, "user", "", "username for basic auth")
	f.StringVar(&opts.password, "password", "", "password for basic auth")
	f.StringVar(&opts.token, "token", "", "bearer token")
	f.BoolVar(&opts.insecure, "insecure", false, "skip TLS verification for wss URLs")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	_ = rootCmd.MarkFlagRequired("file")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o options) header() http.Header {
	h := http.Header{}
	switch {
	case o.token != "":
		h.Set("Authorization", "Bearer "+o.token)
	case o.user != "":
		cred := base64.StdEncoding.EncodeToString([]byte(o.user + ":" + o.password))
		h.Set("Authorization", "Basic "+cred)
	}
	return h
}

func run(ctx context.Context, o options) error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	audio, err := os.ReadFile(o.file)
	if err != nil {
		return fmt.Errorf("reading audio: %w", err)
	}

	l := link.New(o.url,
		link.WithHeader(o.header()),
		link.WithTLSConfig(&tls.Config{InsecureSkipVerify: o.insecure}),
		link.WithLogger(logger.With("component", "link")),
	)
	p := newPlayer(l, o, os.Stdout)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := l.Open(ctx); err != nil {
		return err
	}
	defer l.Disconnect()

	return p.play(ctx, audio)
}
