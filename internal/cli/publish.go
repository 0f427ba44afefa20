package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/oci"
)

func newPublishCommand(a *App) *cobra.Command {
	var (
		lock string
		tag  string
	)
	cmd := &cobra.Command{
		Use:   "publish [REF]",
		Short: "Push the lockfile to a registry or an S3 bucket",
		Long: `Push the lockfile to a registry as an OCI artifact, or to S3 when REF is
an s3:// URI. An S3 URI ending in "/" stores the lock under its build ID.
REF defaults to the configured registry and repository, tagged with the
manifest digest.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if lock == "" {
				lock = a.cfg.LockfilePath()
			}
			l, err := lockfile.Read(a.FS, lock)
			if err != nil {
				return err
			}

			ref := ""
			if len(args) == 1 {
				ref = args[0]
			} else {
				if tag == "" {
					tag = shortDigest(l.ManifestDigest.Encoded())
				}
				ref = a.cfg.Registry.Reference(tag)
			}
			if ref == "" {
				return errors.New(errors.CodeInvalidInput, "no reference given and no registry configured")
			}

			stored, err := a.pushLock(ctx, ref, l)
			if err != nil {
				return err
			}
			a.printf("published %s\n", stored)
			return nil
		},
	}
	cmd.Flags().StringVar(&lock, "lockfile", "", "lockfile path (default from config)")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag used with the configured registry")
	return cmd
}

// registryClient returns an OCI client for the configured registry. A
// configured password secret is resolved once and used as static
// credentials; every other registry falls back to the docker credential
// store.
func (a *App) registryClient(ctx context.Context) (*oci.Client, error) {
	reg := a.cfg.Registry
	opts := []oci.ClientOption{
		oci.WithPlainHTTP(reg.PlainHTTP),
		oci.WithLogger(a.logger),
	}

	if reg.PasswordSecret != nil {
		m, err := a.secretManager(ctx, *reg.PasswordSecret)
		if err != nil {
			return nil, err
		}
		defer func() { _ = m.Close() }()

		pw, err := m.Resolve(ctx, *reg.PasswordSecret)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnauthorized, "failed to resolve registry password")
		}
		opts = append(opts, oci.WithStaticAuth(reg.Host, reg.Username, pw.String()))
		pw.Clear()
	}

	opts = append(opts, a.OCIOptions...)
	return oci.New(opts...)
}

func shortDigest(encoded string) string {
	if len(encoded) > 12 {
		return encoded[:12]
	}
	return encoded
}
