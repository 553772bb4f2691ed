// Command swap-client is a manual smoke-testing tool for the SWAP v1
// client runtime: dial a relay, register a criterion, optionally place a
// connect, and print inbound events as they arrive (spec §4.8).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swap-proto/swap-relay/internal/app"
	"github.com/swap-proto/swap-relay/internal/client"
	"github.com/swap-proto/swap-relay/internal/sdp"
	"github.com/swap-proto/swap-relay/internal/wire"
	"github.com/swap-proto/swap-relay/internal/wsgateway"
)

// placeholderOffer is a minimal but well-formed SDP body the dial command
// sends when asked to connect without a real media stack behind it. It
// exists to exercise runDial's connect path; it passes sdp.Guard, which
// runDial checks before sending the offer.
const placeholderOffer = "v=0\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"a=candidate:1 1 UDP 2130706431 127.0.0.1 9 typ host\r\n"

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "swap-client",
		Short:         "SWAP v1 client smoke-test tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDialCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the client version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newDialCmd() *cobra.Command {
	var (
		url          string
		sourceID     string
		criterionTyp string
		criterionVal string
		connectTo    string
	)

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "connect to a relay, register, and print inbound events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDial(cmd.Context(), dialOpts{
				url:          url,
				sourceID:     sourceID,
				criterionTyp: criterionTyp,
				criterionVal: criterionVal,
				connectTo:    connectTo,
			})
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8080/3gpp-swap/v1", "relay websocket URL")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "this endpoint's source_id (required)")
	cmd.Flags().StringVar(&criterionTyp, "criterion-type", "role", "criterion type to register")
	cmd.Flags().StringVar(&criterionVal, "criterion-value", `"responder"`, "criterion value (raw JSON)")
	cmd.Flags().StringVar(&connectTo, "connect-criterion", "", "if set, raw JSON criteria value to connect against instead of registering")
	_ = cmd.MarkFlagRequired("source-id")

	return cmd
}

type dialOpts struct {
	url          string
	sourceID     string
	criterionTyp string
	criterionVal string
	connectTo    string
}

func runDial(parent context.Context, opts dialOpts) error {
	cfg, err := app.LoadConfig("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cb := client.Callbacks{
		OnConnect:     func(offer, sourceID string) { log.Info("event.connect", "from", sourceID, "offer", offer) },
		OnAccept:      func(answer, sourceID string) { log.Info("event.accept", "from", sourceID, "answer", answer) },
		OnReject:      func(reason, sourceID string) { log.Info("event.reject", "from", sourceID, "reason", reason) },
		OnUpdate:      func(body, sourceID string) { log.Info("event.update", "from", sourceID, "sdp", body) },
		OnClose:       func(sourceID string) { log.Info("event.close", "from", sourceID) },
		OnApplication: func(typ string, value []byte, sourceID string) { log.Info("event.application", "from", sourceID, "type", typ, "value", string(value)) },
		OnError:       func(problem wire.Problem, sourceID string) { log.Warn("event.error", "from", sourceID, "problem", problem.Type, "detail", problem.Detail) },
	}

	runtime := client.New(client.Config{
		SourceID:            opts.sourceID,
		SecurityEnabled:     cfg.SecurityEnabled,
		SharedSecret:        cfg.SharedSecret,
		AdvertiseIntegrity:  cfg.SecurityEnabled,
		AdvertiseEncryption: cfg.SecurityEnabled,
	}, log, cb)

	dialer := func(ctx context.Context) (client.Transport, error) {
		return wsgateway.Dial(ctx, opts.url)
	}

	backoff := client.BackoffConfig{
		Initial:     cfg.ReconnectInitial,
		Multiplier:  2,
		Cap:         cfg.ReconnectMax,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}

	go func() {
		if err := runtime.Run(ctx, dialer, backoff); err != nil {
			log.Error("client.run.failed", "err", err)
		}
	}()

	criterion := wire.Criterion{Type: opts.criterionTyp, Value: json.RawMessage(opts.criterionVal)}

	if opts.connectTo != "" {
		if reason := sdp.Guard(placeholderOffer); reason != "" {
			return fmt.Errorf("placeholder offer fails sdp guard: %s", reason)
		}
		connectCriterion := wire.Criterion{Type: opts.criterionTyp, Value: json.RawMessage(opts.connectTo)}
		if _, err := runtime.SendAwait(ctx, wire.KindConnect, wire.ConnectPayload{
			Criteria: []wire.Criterion{connectCriterion},
			Offer:    placeholderOffer,
		}, cfg.PendingResponseTimeout); err != nil {
			log.Warn("client.connect.failed", "err", err)
		}
	} else if _, err := runtime.RegisterCriteria(ctx, []wire.Criterion{criterion}); err != nil {
		log.Warn("client.register.failed", "err", err)
	}

	<-ctx.Done()
	return nil
}
