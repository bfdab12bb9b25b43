// Command varlinkctl calls one method on a varlink service and prints the replies.
//
//	varlinkctl -address 127.0.0.1:9000 -method org.example.ftl.Jump -params '{"x":1}'
//	varlinkctl -config client.toml -method org.example.ftl.Monitor -more
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mini-varlink/client"
	"mini-varlink/config"
	"mini-varlink/logging"
	"mini-varlink/message"

	"github.com/pkg/errors"
)

type options struct {
	configPath string
	address    string
	method     string
	params     string
	more       bool
	oneway     bool
}

// Exit codes.
const (
	exitOK         = 0
	exitErrorReply = 1
	exitFailure    = 2
)

func main() {
	opts := parseFlags()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "TOML config file")
	flag.StringVar(&opts.address, "address", "", "service address, overrides transport.address")
	flag.StringVar(&opts.method, "method", "", "fully-qualified method: interface.method")
	flag.StringVar(&opts.params, "params", "{}", "call parameters as a JSON object")
	flag.BoolVar(&opts.more, "more", false, "ask for a stream of replies")
	flag.BoolVar(&opts.oneway, "oneway", false, "send without waiting for a reply")
	flag.Parse()
	return opts
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) int {
	if opts.more && opts.oneway {
		fmt.Fprintln(stderr, "varlinkctl: -more and -oneway are mutually exclusive")
		return exitFailure
	}
	iface, method, err := splitMethod(opts.method)
	if err != nil {
		fmt.Fprintf(stderr, "varlinkctl: %v\n", err)
		return exitFailure
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(opts.params), &params); err != nil {
		fmt.Fprintf(stderr, "varlinkctl: -params must be a JSON object: %v\n", err)
		return exitFailure
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "varlinkctl: %v\n", err)
		return exitFailure
	}
	logger := logging.NewWriter(stderr, "varlinkctl", cfg.Log)

	cli, err := client.NewFromConfig(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "varlinkctl: %v\n", err)
		return exitFailure
	}
	defer cli.Close()

	var replyErr *message.ErrorReply
	switch {
	case opts.oneway:
		err = client.Oneway(ctx, cli, iface, method, params)
	case opts.more:
		replyErr, err = client.Stream[json.RawMessage, message.ErrorReply](ctx, cli, iface, method, params,
			func(r *message.Reply[json.RawMessage]) error {
				_, err := fmt.Fprintln(stdout, string(r.Parameters))
				return err
			})
	default:
		var reply *message.Reply[json.RawMessage]
		reply, replyErr, err = client.Call[json.RawMessage, message.ErrorReply](ctx, cli, iface, method, params)
		if reply != nil {
			fmt.Fprintln(stdout, string(reply.Parameters))
		}
	}

	if err != nil {
		logger.Error().Err(err).Str("method", opts.method).Msg("call failed")
		return exitFailure
	}
	if replyErr != nil {
		fmt.Fprintf(stderr, "error reply: %v\n", replyErr)
		return exitErrorReply
	}
	return exitOK
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if opts.address != "" {
		cfg.Transport.Address = opts.address
	}
	return cfg, cfg.Validate()
}

// splitMethod splits "org.example.ftl.Jump" into "org.example.ftl" and "Jump".
func splitMethod(full string) (string, string, error) {
	i := strings.LastIndexByte(full, '.')
	if i <= 0 || i == len(full)-1 {
		return "", "", errors.Errorf("method %q is not of the form interface.method", full)
	}
	return full[:i], full[i+1:], nil
}
