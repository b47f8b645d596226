package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/eigerco/dispersal/internal/accountant"
	"github.com/eigerco/dispersal/internal/auth"
	"github.com/eigerco/dispersal/internal/codec"
	"github.com/eigerco/dispersal/internal/config"
	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/disperser"
	"github.com/eigerco/dispersal/internal/paymentstate"
	"github.com/eigerco/dispersal/internal/status"
	"github.com/eigerco/dispersal/internal/store"
	"github.com/eigerco/dispersal/pkg/db/pebble"
	"github.com/eigerco/dispersal/pkg/log"
)

type flags struct {
	config  string
	env     string
	file    string
	quorums string
	info    bool
	status  string
	wait    bool
	serve   bool
}

// main disperses a file and prints the blob key.
// go run ./cmd/dispersal -config config.yaml -file blob.bin
func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to the YAML config file")
	flag.StringVar(&f.env, "env", ".env", "path to an env file with "+config.EnvPrivateKey)
	flag.StringVar(&f.file, "file", "", "file to disperse, - for stdin")
	flag.StringVar(&f.quorums, "quorums", "", "comma separated quorum ids, overrides the config")
	flag.BoolVar(&f.info, "info", false, "print the payment state and exit")
	flag.StringVar(&f.status, "status", "", "print the status of a blob key and exit")
	flag.BoolVar(&f.wait, "wait", false, "wait until the blob reaches a terminal status")
	flag.BoolVar(&f.serve, "serve", false, "keep the status server running until interrupted")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags, out io.Writer) error {
	if err := config.LoadEnv(f.env); err != nil {
		return err
	}
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	if f.quorums != "" {
		if cfg.Quorums, err = parseQuorums(f.quorums); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logOpts, err := cfg.LogOptions()
	if err != nil {
		return err
	}
	if err := log.Init(logOpts); err != nil {
		return err
	}

	signer, err := auth.NewLocalSigner(cfg.PrivateKey)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	sessionOpts := []paymentstate.Option{paymentstate.WithMetrics(accountant.NewMetrics(reg))}
	if cfg.Payment.RefreshPerMinute > 0 {
		sessionOpts = append(sessionOpts, paymentstate.WithRefreshLimit(rate.Limit(cfg.Payment.RefreshPerMinute/60), 1))
	}
	session, err := paymentstate.NewSession(signer.AccountID(), cfg.AccountingConfig(), sessionOpts...)
	if err != nil {
		return err
	}

	var journal *store.Dispersals
	if cfg.Journal.Path != "" {
		kv, err := pebble.NewKVStoreAt(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer kv.Close()
		journal = store.NewDispersals(kv)
	}

	if cfg.Status.Addr != "" {
		srv := status.NewServer(cfg.Status.Addr, status.NewHandler(session, journal, reg))
		if _, err := srv.Start(); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
		defer srv.Stop(context.Background())
	}

	serverKey, err := cfg.ServerKey()
	if err != nil {
		return err
	}
	rpcClient, err := disperser.DialQUIC(ctx, disperser.QUICConfig{
		Address:   cfg.Disperser.Address,
		Timeout:   cfg.Disperser.Timeout,
		ServerKey: serverKey,
	}, signer)
	if err != nil {
		return err
	}
	defer rpcClient.Close()

	clientOpts := []disperser.Option{disperser.WithLogger(log.Root)}
	if journal != nil {
		clientOpts = append(clientOpts, disperser.WithJournal(journal))
	}
	client, err := disperser.NewClient(disperser.Config{
		UseAdvancedReservations: cfg.Payment.UseAdvancedReservations,
	}, rpcClient, signer, session, clientOpts...)
	if err != nil {
		return err
	}

	switch {
	case f.info:
		info, err := client.PaymentInfo(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(out, info); err != nil {
			return err
		}
	case f.status != "":
		key, err := core.BlobKeyFromHex(f.status)
		if err != nil {
			return err
		}
		st, err := blobStatus(ctx, client, key, f.wait, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", key, st)
	case f.file != "":
		data, err := readInput(f.file)
		if err != nil {
			return err
		}
		st, key, err := client.DisperseBlob(ctx, codec.EncodeBlobData(data), cfg.BlobVersion, cfg.QuorumIDs())
		if err != nil {
			return err
		}
		if f.wait {
			if st, err = client.WaitForStatus(ctx, key, cfg.Disperser.PollInterval); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "%s %s\n", key, st)
	case !f.serve:
		return errors.New("nothing to do: pass -file, -status, -info or -serve")
	}

	if f.serve {
		log.Root.Info().Msg("serving status until interrupted")
		<-ctx.Done()
	}
	return nil
}

func blobStatus(ctx context.Context, client *disperser.Client, key core.BlobKey, wait bool, cfg config.Config) (core.BlobStatus, error) {
	if wait {
		return client.WaitForStatus(ctx, key, cfg.Disperser.PollInterval)
	}
	return client.GetBlobStatus(ctx, key)
}

func parseQuorums(s string) ([]uint8, error) {
	var quorums []uint8
	for _, part := range strings.Split(s, ",") {
		q, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid quorum %q: %w", part, err)
		}
		quorums = append(quorums, uint8(q))
	}
	return quorums, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
