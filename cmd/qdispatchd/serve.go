package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/quicrelay/qdispatch/bufferedpacket"
	"github.com/quicrelay/qdispatch/dispatch"
	"github.com/quicrelay/qdispatch/timewaitlist"
)

func newServeCmd() *cobra.Command {
	var (
		configFile string
		listenAddr string
		logLevel   string
		reapPeriod time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "listen on a UDP socket and dispatch inbound QUIC packets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			base := logrus.New()
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			base.SetLevel(level)
			logger := dispatch.NewLogger(base)

			conn, err := net.ListenPacket("udp", listenAddr)
			if err != nil {
				return err
			}
			defer conn.Close()

			send := func(selfAddr, peerAddr net.Addr, packet []byte) {
				if _, err := conn.WriteTo(packet, peerAddr); err != nil {
					base.WithError(err).Warn("failed to write outbound packet")
				}
			}

			store := bufferedpacket.NewStore(bufferedpacket.Config{
				MaxConnections:            cfg.MaxConnections,
				MaxConnectionsWithoutChlo: cfg.MaxConnectionsWithoutChlo,
				MaxPacketsPerConnection:   cfg.MaxPacketsPerConnection,
				ConnectionLifeSpan:        cfg.ConnectionLifeSpan,
			})
			timeWait := timewaitlist.NewInMemoryManager(10*cfg.ConnectionLifeSpan, timewaitlist.Send(send))
			visitor := newLoggingVisitor(base)

			d := dispatch.NewDispatcher(cfg, visitor, store, timeWait, send, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return readLoop(ctx, conn, d)
			})
			eg.Go(func() error {
				return reapLoop(ctx, reapPeriod, cfg.NewSessionsAllowedPerEventLoop, d, store, timeWait)
			})

			base.WithField("addr", conn.LocalAddr()).Info("qdispatchd listening")
			err = eg.Wait()
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML/JSON/TOML config file (viper-loaded)")
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:4433", "UDP address to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: trace, debug, info, warn, error")
	cmd.Flags().DurationVar(&reapPeriod, "reap-period", 50*time.Millisecond, "how often to sweep expired buffered packets and drain the CHLO budget")

	return cmd
}

// loadConfig reads an optional file into dispatch.Config via viper's
// mapstructure unmarshal, layered over DefaultConfig so an absent or
// partial file still yields a runnable configuration.
func loadConfig(path string) (dispatch.Config, error) {
	cfg := dispatch.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return dispatch.Config{}, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return dispatch.Config{}, err
	}
	return cfg, nil
}

// readLoop is the dispatcher's socket-facing event loop: one inbound
// datagram at a time, handed straight to ProcessPacket.
func readLoop(ctx context.Context, conn net.PacketConn, d *dispatch.Dispatcher) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, peerAddr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		d.ProcessPacket(conn.LocalAddr(), peerAddr, packet)
	}
}

// reapLoop is the owner's periodic alarm: it drains whatever CHLO budget
// the event loop has accumulated, sweeps packets buffered past their
// lifetime, and evicts expired time-wait entries, mirroring the
// zero-delay/periodic alarms a real event loop installs around the
// dispatcher.
func reapLoop(ctx context.Context, period time.Duration, budget int, d *dispatch.Dispatcher, store *bufferedpacket.Store, timeWait *timewaitlist.InMemoryManager) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			store.OnExpirationTimeout()
			d.ProcessBufferedChlos(budget)
			d.DeleteSessions()
			d.OnCanWrite()
			timeWait.Reap()
		}
	}
}
