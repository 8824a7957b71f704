package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/queue"
	"github.com/Sovryn-Origins/origins/internal/secrets"
	"github.com/Sovryn-Origins/origins/internal/units"
)

type submitted struct {
	CommandID common.Hash    `json:"commandId"`
	Kind      command.Kind   `json:"kind"`
	Caller    common.Address `json:"caller"`
	Signed    bool           `json:"signed"`
}

func main() {
	if err := runMain(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func runMain(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("origins-submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	kind := fs.String("kind", "", "command kind (required)")
	argsInline := fs.String("args", "", "inline JSON args")
	argsFile := fs.String("args-file", "", "JSON args file, or '-' for stdin")
	at := fs.Uint64("at", 0, "execution timestamp in unix seconds (defaults to now)")
	nonce := fs.Uint64("nonce", 0, "caller nonce distinguishing otherwise identical commands (defaults to now in nanoseconds)")
	value := fs.String("value", "", "native value attached to the call (decimal)")
	callerHex := fs.String("caller", "", "caller address for unsigned envelopes")

	keyDriver := fs.String("key-driver", secrets.DriverEnv, "signing key source: env|aws")
	keyRef := fs.String("key-ref", "", "signing key reference (env var or secret id, optional #field)")

	queueDriver := fs.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
	queueBrokers := fs.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
	topic := fs.String("topic", "origins.commands.v1", "command envelope topic")
	timeout := fs.Duration("timeout", 30*time.Second, "publish timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if !command.Known(command.Kind(strings.TrimSpace(*kind))) {
		return fmt.Errorf("--kind %q is not a known command", *kind)
	}
	if strings.TrimSpace(*argsInline) != "" && strings.TrimSpace(*argsFile) != "" {
		return errors.New("use only one of --args or --args-file")
	}
	if strings.TrimSpace(*keyRef) == "" && !common.IsHexAddress(strings.TrimSpace(*callerHex)) {
		return errors.New("--caller must be a valid hex address when --key-ref is not set")
	}
	if strings.TrimSpace(*topic) == "" {
		return errors.New("--topic is required")
	}
	if *timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	rawArgs, err := loadArgs(strings.TrimSpace(*argsInline), strings.TrimSpace(*argsFile), stdin)
	if err != nil {
		return err
	}

	now := time.Now()
	env := command.Envelope{
		Version: command.Version,
		Kind:    command.Kind(strings.TrimSpace(*kind)),
		Caller:  common.HexToAddress(strings.TrimSpace(*callerHex)),
		At:      *at,
		Nonce:   *nonce,
		Args:    rawArgs,
	}
	if env.At == 0 {
		env.At = uint64(now.Unix())
	}
	if env.Nonce == 0 {
		env.Nonce = uint64(now.UnixNano())
	}
	if strings.TrimSpace(*value) != "" {
		v, err := units.Parse(strings.TrimSpace(*value))
		if err != nil {
			return fmt.Errorf("parse --value: %w", err)
		}
		env.Value = command.NewAmount(v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	signed := strings.TrimSpace(*keyRef) != ""
	if signed {
		provider, err := secrets.New(ctx, *keyDriver)
		if err != nil {
			return err
		}
		key, err := secrets.SigningKey(ctx, provider, strings.TrimSpace(*keyRef))
		if err != nil {
			return err
		}
		signer := command.NewLocalSigner(key)
		if strings.TrimSpace(*callerHex) != "" && common.HexToAddress(strings.TrimSpace(*callerHex)) != signer.Address() {
			return fmt.Errorf("--caller %s does not match signing key address %s", *callerHex, signer.Address())
		}
		env.Caller = signer.Address()
		if env, err = signer.Sign(env); err != nil {
			return err
		}
	}
	if err := env.Validate(); err != nil {
		return err
	}
	id, err := env.ID()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
		Writer:  stdout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = producer.Close() }()

	if err := producer.Publish(ctx, strings.TrimSpace(*topic), env.Caller.Bytes(), payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	// stdout already carries the envelope in stdio mode.
	if strings.EqualFold(strings.TrimSpace(*queueDriver), queue.DriverStdio) {
		return nil
	}
	return json.NewEncoder(stdout).Encode(submitted{CommandID: id, Kind: env.Kind, Caller: env.Caller, Signed: signed})
}

func loadArgs(inline, file string, stdin io.Reader) (json.RawMessage, error) {
	var b []byte
	switch {
	case inline != "":
		b = []byte(inline)
	case file == "-":
		if stdin == nil {
			return nil, errors.New("--args-file - requires stdin")
		}
		var err error
		if b, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("read stdin args: %w", err)
		}
	case file != "":
		var err error
		if b, err = os.ReadFile(file); err != nil {
			return nil, fmt.Errorf("read args file %q: %w", file, err)
		}
	default:
		return nil, nil
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	if !json.Valid(b) {
		return nil, errors.New("args must be valid JSON")
	}
	return json.RawMessage(b), nil
}
