package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradeguard/internal/crypto"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage the encrypted broker API secret",
}

var secretSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Encrypt a broker API secret read from stdin",
	Long: `Seal reads the broker API secret from stdin and writes it encrypted with
a password-derived key. Point broker.sealed_secret_path at the output and
supply the password via broker.secret_password or
TRADEGUARD_BROKER_SECRET_PASSWORD.

Example:
  printf '%s' "$SECRET" | TRADEGUARD_BROKER_SECRET_PASSWORD=pw tradeguard secret seal -o broker.secret`,
	RunE: runSecretSeal,
}

var secretOutput string

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretSealCmd)
	secretSealCmd.Flags().StringVarP(&secretOutput, "output", "o", "broker.secret", "path of the sealed secret file")
}

func runSecretSeal(cmd *cobra.Command, _ []string) error {
	password := os.Getenv("TRADEGUARD_BROKER_SECRET_PASSWORD")
	if password == "" {
		return errors.New("TRADEGUARD_BROKER_SECRET_PASSWORD must be set")
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read secret from stdin: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")

	sealed, err := crypto.SealSecret(secret, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(secretOutput, sealed, 0o600); err != nil {
		return fmt.Errorf("write sealed secret: %w", err)
	}
	printf(cmd, "sealed secret written to %s\n", secretOutput)
	return nil
}
