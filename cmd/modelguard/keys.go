package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/config"
	"caremesh/modelguard/pkg/security"
	"caremesh/modelguard/pkg/storage"
)

var keysFlags struct {
	modelID string
	actor   string
	reason  string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage model credentials",
	Long: `Rotate the encrypted API credentials stored for model configurations.

The new key is read from the terminal (never from a flag or argument, so
it cannot land in shell history), encrypted under the master secret, and
swapped in place. The rotation leaves an audit event carrying only the
digests of the old and new keys.

Examples:
  # Rotate a model credential
  modelguard keys rotate --model-id mc-42 --actor ops@caremesh --reason "quarterly rotation"`,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate a model credential",
	Long:  `Rotate the API credential for one model configuration.`,
	RunE:  rotateKey,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysRotateCmd)

	keysRotateCmd.Flags().StringVar(&keysFlags.modelID, "model-id", "", "model configuration id (required)")
	keysRotateCmd.Flags().StringVar(&keysFlags.actor, "actor", "", "who performs the rotation (required)")
	keysRotateCmd.Flags().StringVar(&keysFlags.reason, "reason", "", "why the credential is rotated")
	_ = keysRotateCmd.MarkFlagRequired("model-id")
	_ = keysRotateCmd.MarkFlagRequired("actor")
}

func rotateKey(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	secret := os.Getenv(cfg.Security.MasterSecretEnv)
	cipher, err := security.NewCipher(secret)
	if err != nil {
		return fmt.Errorf("master secret (%s): %w", cfg.Security.MasterSecretEnv, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.Open(ctx, storage.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// The key comes in on stdin, never as a flag, so it cannot land in
	// shell history or process listings.
	fmt.Fprint(os.Stderr, "New API key: ")
	raw, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	newKey := strings.TrimRight(raw, "\r\n")

	recorder := auditlog.NewRecorder(store, auditlog.DefaultRecorderConfig())
	defer recorder.Close()

	rotator := security.NewRotator(store, cipher, recorder, nil)
	if err := rotator.RotateAPIKey(ctx, keysFlags.modelID, newKey, keysFlags.actor, keysFlags.reason); err != nil {
		return err
	}

	fmt.Printf("Credential rotated for model configuration %s\n", keysFlags.modelID)
	return nil
}
