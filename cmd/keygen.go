/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/authsvc/apiserver/internal/security"
	"github.com/spf13/cobra"
)

var (
	keygenDir  string
	keygenBits int
)

// keygenCmd represents the keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Writes a new RSA key pair for token signing",
	RunE: func(cmd *cobra.Command, args []string) error {
		privatePEM, publicPEM, err := security.GenerateRSAKeyPair(keygenBits)
		if err != nil {
			return fmt.Errorf("generate key pair: %w", err)
		}
		if err := os.MkdirAll(keygenDir, 0o700); err != nil {
			return err
		}

		privatePath := filepath.Join(keygenDir, "jwt-private.pem")
		publicPath := filepath.Join(keygenDir, "jwt-public.pem")
		if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privatePath, publicPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenDir, "dir", "certs", "output directory")
	keygenCmd.Flags().IntVar(&keygenBits, "bits", 2048, "RSA key size")
}
