package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logrus.StandardLogger()

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ./htip.yaml)")
	rootCmd.PersistentFlags().String("signing-key", "", "hex-encoded Ed25519 private key, overrides $HTIP_SIGNING_KEY")
	rootCmd.PersistentFlags().String("public-key", "", "hex-encoded Ed25519 public key, overrides $HTIP_PUBLIC_KEY")
	_ = viper.BindPFlag("signing_key", rootCmd.PersistentFlags().Lookup("signing-key"))
	_ = viper.BindPFlag("public_key", rootCmd.PersistentFlags().Lookup("public-key"))
}

// initConfig loads an optional .env file and a config file named htip
// (yaml/json/toml, resolved by viper) before any subcommand runs,
// mirroring the teacher's own per-node PersistentPreRunE initializers.
func initConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	viper.SetEnvPrefix("HTIP")
	viper.AutomaticEnv()

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("htip")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("htip: read config: %w", err)
		}
	}
	return nil
}

// signingKeyFromConfig decodes the hex signing key bound to "signing_key"
// (flag, env HTIP_SIGNING_KEY, or config file), generating a throwaway
// key and warning loudly if none was configured.
func signingKeyFromConfig() (ed25519.PrivateKey, error) {
	hexKey := viper.GetString("signing_key")
	if hexKey == "" {
		log.Warn("htip: no signing key configured, generating an ephemeral one")
		_, priv, err := ed25519.GenerateKey(nil)
		return priv, err
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("htip: decode signing_key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("htip: signing_key has wrong size %d", len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

func publicKeyFromConfig() (ed25519.PublicKey, error) {
	hexKey := viper.GetString("public_key")
	if hexKey == "" {
		return nil, fmt.Errorf("htip: public_key not configured (flag --public-key, $HTIP_PUBLIC_KEY, or htip.yaml)")
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("htip: decode public_key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("htip: public_key has wrong size %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("htip: read %s: %w", path, err)
	}
	return data, nil
}
