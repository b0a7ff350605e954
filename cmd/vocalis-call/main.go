package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vocalis-ai/vocalis/internal/dotenv"
	"github.com/vocalis-ai/vocalis/pkg/voice"
)

type callOptions struct {
	gatewayURL  string
	callerName  string
	callerEmail string
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (callOptions, error) {
	fs := flag.NewFlagSet("vocalis-call", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := callOptions{}
	fs.StringVar(&opts.gatewayURL, "gateway", envOr("VOCALIS_GATEWAY_URL", "http://localhost:8080"),
		"gateway base URL")
	fs.StringVar(&opts.callerName, "caller-name", os.Getenv("VOCALIS_CALLER_NAME"),
		"caller name forwarded when minting credentials")
	fs.StringVar(&opts.callerEmail, "caller-email", os.Getenv("VOCALIS_CALLER_EMAIL"),
		"caller email forwarded when minting credentials")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return callOptions{}, err
	}
	opts.gatewayURL = strings.TrimRight(opts.gatewayURL, "/")
	return opts, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func runCall(ctx context.Context, opts callOptions, stdout, stderr io.Writer) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	sess, err := voice.NewSession(voice.Config{
		TokenURL:     opts.gatewayURL + "/v1/realtime/token",
		SignalingURL: envOr("VOCALIS_SIGNALING_URL", opts.gatewayURL+"/v1/realtime/calls"),
		PersistURL:   opts.gatewayURL + "/v1/conversations",
		ToolBaseURL:  opts.gatewayURL,
		Caller:       voice.CallerIdentity{Name: opts.callerName, Email: opts.callerEmail},
		AudioSource:  os.Stdin,
		AudioSink:    io.Discard,
		Logger:       logger,
		OnStateChange: func(st voice.ConnState) {
			fmt.Fprintf(stdout, "[%s]\n", st)
		},
		OnWarning: func(msg string) {
			fmt.Fprintf(stdout, "warning: %s\n", msg)
		},
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer sess.Close()

	if err := sess.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Fprintf(stdout, "session %s started, press Ctrl-C to hang up\n", sess.ID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
	}

	fmt.Fprintln(stdout, "hanging up")
	sess.Disconnect()

	for _, m := range sess.Messages() {
		fmt.Fprintf(stdout, "%s: %s\n", m.Role, m.Text)
	}
	for _, a := range sess.Activities() {
		fmt.Fprintf(stdout, "tool %s: %s %s\n", a.Tool, a.Status, a.Detail)
	}
	return nil
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "vocalis-call: %v\n", err)
		os.Exit(1)
	}
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if err := runCall(context.Background(), opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "vocalis-call: %v\n", err)
		os.Exit(1)
	}
}
