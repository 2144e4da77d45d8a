/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/authsvc/apiserver/config"
	"github.com/authsvc/apiserver/internal/mq"
	"github.com/authsvc/apiserver/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Consumes one-time code events and delivers them",
	Long: `Subscribes to the OTP channel of the configured broker and hands every
issued code to the delivery step. Delivery is currently a log line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.NewBackend(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("init mq: %w", err)
		}
		if broker == nil {
			return errors.New("mailer: MQ_BACKEND is not configured")
		}

		channel := mq.NewOTPChannel(broker, cfg.MQ.OTPChannel, logger)
		defer func() { _ = channel.Close() }()

		logger.Info("mailer consuming", zap.String("channel", cfg.MQ.OTPChannel))
		err = channel.Consume(ctx, func(ctx context.Context, event types.OTPIssued) error {
			logger.Info("delivering otp",
				zap.String("email", event.Email),
				zap.String("purpose", string(event.Purpose)),
				zap.Time("issued_at", event.IssuedAt),
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
