package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcelsud/webhook-dispatch/webhook/signature"
)

var errSignatureMismatch = errors.New("signature does not match")

func newSecretCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate signing secrets and verify signed requests",
	}
	cmd.AddCommand(newSecretGenerateCmd(a), newSecretVerifyCmd(a))
	return cmd
}

func newSecretGenerateCmd(a *app) *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a new whsec_ secret",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			secret, err := signature.GenerateSecret(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, secret.String())
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "bytes", 32, "secret size in bytes")
	return cmd
}

func newSecretVerifyCmd(a *app) *cobra.Command {
	var secret, bodyFile, deliveryID, timestamp, header string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the " + signature.HeaderName + " header of a received delivery",
		Example: `  webhook-cli secret verify --secret whsec_... --body body.json \
    --delivery-id 5f0c... --timestamp 1717243200 --signature "v1,abc..."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := signature.ParseSecret(secret)
			if err != nil {
				return fmt.Errorf("parsing secret: %w", err)
			}

			unix, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				return fmt.Errorf("parsing timestamp: %w", err)
			}

			body, err := readBody(cmd.InOrStdin(), bodyFile)
			if err != nil {
				return err
			}

			ok, err := signature.VerifyHeader(key, deliveryID, time.Unix(unix, 0), body, header)
			if err != nil {
				return fmt.Errorf("verifying signature: %w", err)
			}
			if !ok {
				return errSignatureMismatch
			}
			fmt.Fprintln(a.out, "signature valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "signing secret")
	cmd.Flags().StringVar(&bodyFile, "body", "-", "file with the raw request body, - for stdin")
	cmd.Flags().StringVar(&deliveryID, "delivery-id", "", "value of X-Webhook-Delivery")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "value of X-Webhook-Signature-Timestamp (unix seconds)")
	cmd.Flags().StringVar(&header, "signature", "", "value of "+signature.HeaderName)
	for _, name := range []string{"secret", "delivery-id", "timestamp", "signature"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func readBody(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading body from stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}
