package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/accessrelay/accessrelay/internal/relay"
	"github.com/accessrelay/accessrelay/internal/signature"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "accessrelay",
		Short:         "Payment-to-channel access relay",
		Long:          `accessrelay turns verified payment notifications into single-use chat channel invites.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return relay.Run(cmd.Context(), Version)
		},
	}
	rootCmd.AddCommand(newServeCmd(), newVersionCmd(), newSignCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return relay.Run(cmd.Context(), Version)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accessrelay %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func newSignCmd() *cobra.Command {
	var scheme string
	cmd := &cobra.Command{
		Use:   "sign <file|->",
		Short: "Print the signature a provider would send for a notification body",
		Long: `Reads a notification body from a file (or stdin with "-") and prints the
hex HMAC-SHA256 signature using PRODAMUS_SECRET_KEY.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			secret := strings.TrimSpace(os.Getenv("PRODAMUS_SECRET_KEY"))
			if secret == "" {
				secret = strings.TrimSpace(os.Getenv("PRODAMUS_API_KEY"))
			}
			if secret == "" {
				return fmt.Errorf("PRODAMUS_SECRET_KEY is not set")
			}
			if scheme == "" {
				scheme = os.Getenv("SIGNATURE_SCHEME")
			}
			parsed, err := signature.ParseScheme(scheme)
			if err != nil {
				return err
			}

			body, err := readBody(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			sig, err := signature.NewVerifier(secret, parsed, "").Sign(body)
			if err != nil {
				return fmt.Errorf("sign body: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "", "signature scheme: raw-json or sorted-form (default from SIGNATURE_SCHEME)")
	return cmd
}

func readBody(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
