// Command reflector-probe is a minimal link node for exercising a reflector
// by hand: it can listen to the channel or transmit test audio.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/reflector/client"
	"github.com/opd-ai/reflector/transport"
)

type probeFlags struct {
	addr     string
	callsign string
	authKey  string
	logLevel string
}

type talkFlags struct {
	frames   int
	size     int
	interval time.Duration
	noFlush  bool
}

func newRootCmd() *cobra.Command {
	var pf probeFlags

	root := &cobra.Command{
		Use:           "reflector-probe",
		Short:         "Connects to a reflector as a link node.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level, err := logrus.ParseLevel(pf.logLevel)
			if err != nil {
				return errors.Wrap(err, "parse log level failed")
			}
			logrus.SetLevel(level)
			if pf.authKey == "" {
				pf.authKey = os.Getenv("SVXREFLECTOR_AUTH_KEY")
			}
			if pf.authKey == "" {
				return errors.New("auth key required (--auth-key or SVXREFLECTOR_AUTH_KEY)")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&pf.addr, "addr", "a", "127.0.0.1:5300", "reflector host:port")
	root.PersistentFlags().StringVarP(&pf.callsign, "callsign", "n", "PROBE", "callsign to authenticate as")
	root.PersistentFlags().StringVarP(&pf.authKey, "auth-key", "k", "", "shared reflector key")
	root.PersistentFlags().StringVar(&pf.logLevel, "log-level", "warn", "log level")

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Prints node and talker events until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			node, err := dial(cmd.Context(), pf)
			if err != nil {
				return err
			}
			defer node.Close()
			return listen(cmd.Context(), node, cmd.OutOrStdout())
		},
	}

	var tf talkFlags
	talkCmd := &cobra.Command{
		Use:   "talk",
		Short: "Transmits test audio frames, then flushes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			node, err := dial(cmd.Context(), pf)
			if err != nil {
				return err
			}
			defer node.Close()
			return talk(cmd.Context(), node, tf, cmd.OutOrStdout())
		},
	}
	talkCmd.Flags().IntVar(&tf.frames, "frames", 50, "number of audio frames to send")
	talkCmd.Flags().IntVar(&tf.size, "size", 40, "payload bytes per frame")
	talkCmd.Flags().DurationVar(&tf.interval, "interval", 20*time.Millisecond, "time between frames")
	talkCmd.Flags().BoolVar(&tf.noFlush, "no-flush", false, "stop without flushing, to exercise the audio timeout")

	root.AddCommand(listenCmd, talkCmd)
	return root
}

func dial(ctx context.Context, pf probeFlags) (*client.Node, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	node, err := client.Dial(dialCtx, pf.addr, client.NodeConfig{Callsign: pf.callsign, AuthKey: pf.authKey})
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s failed", pf.addr)
	}
	return node, nil
}

// listen prints every control message and a line per received transmission.
func listen(ctx context.Context, node *client.Node, out io.Writer) error {
	fmt.Fprintf(out, "connected as client %d, nodes: %s\n", node.ClientID(), strings.Join(node.Nodes(), " "))

	frames := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-node.Messages():
			if !ok {
				return errors.New("reflector closed the connection")
			}
			fmt.Fprintln(out, describe(msg))
		case d, ok := <-node.Datagrams():
			if !ok {
				return errors.New("UDP channel closed")
			}
			switch d.Type {
			case transport.UDPAudio:
				frames++
			case transport.UDPFlushSamples:
				fmt.Fprintf(out, "received %d audio frames\n", frames)
				frames = 0
			}
		}
	}
}

func describe(msg transport.Message) string {
	switch m := msg.(type) {
	case *transport.NodeJoined:
		return "joined: " + m.Callsign
	case *transport.NodeLeft:
		return "left: " + m.Callsign
	case *transport.TalkerStart:
		return "talker start: " + m.Callsign
	case *transport.TalkerStop:
		return "talker stop: " + m.Callsign
	case *transport.NodeList:
		return "nodes: " + strings.Join(m.Nodes, " ")
	case *transport.Error:
		return "error: " + m.Message
	default:
		return msg.Type().String()
	}
}

// talk sends tf.frames frames of a rising byte pattern and flushes unless told not to.
func talk(ctx context.Context, node *client.Node, tf talkFlags, out io.Writer) error {
	ticker := time.NewTicker(tf.interval)
	defer ticker.Stop()

	frame := make([]byte, tf.size)
	for i := 0; i < tf.frames; i++ {
		for j := range frame {
			frame[j] = byte(i + j)
		}
		if err := node.SendAudio(frame); err != nil {
			return errors.Wrap(err, "send audio failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	fmt.Fprintf(out, "sent %d frames\n", tf.frames)

	if tf.noFlush {
		return nil
	}
	if err := node.SendFlush(); err != nil {
		return errors.Wrap(err, "send flush failed")
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeout:
			return errors.New("flush not acknowledged")
		case d, ok := <-node.Datagrams():
			if !ok {
				return errors.New("UDP channel closed")
			}
			if d.Type == transport.UDPAllSamplesFlushed {
				fmt.Fprintln(out, "flush acknowledged")
				return nil
			}
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "reflector-probe:", err)
		os.Exit(1)
	}
}
