package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oci-lxc/deployer/pkg/ca"
)

func newCACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Manage the deployment certificate authority",
		Long: `Commands for the per-host deployment CA used to issue TLS certificates
to deployed applications. The CA keypair lives sealed in the context store.`,
	}

	cmd.AddCommand(newCAInitCmd())
	cmd.AddCommand(newCAShowCmd())
	cmd.AddCommand(newCAIssueCmd())

	return cmd
}

func newCAInitCmd() *cobra.Command {
	var commonName string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the deployment CA if it does not exist",
		Long: `Ensure the deployment CA exists in the context store, generating a new
keypair when there is none or the stored one no longer validates.

Examples:
  lxc-deployer ca init
  lxc-deployer ca init --common-name "Homelab Deployment CA"`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cs, err := contextStoreFromFlags(cmd)
			if err != nil {
				return err
			}

			material, created, err := ca.Ensure(ctx, cs, commonName)
			if err != nil {
				return err
			}

			cert, err := material.Certificate()
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("[success] Created deployment CA %q\n", cert.Subject.CommonName)
			} else {
				fmt.Printf("Deployment CA %q already exists and is valid.\n", cert.Subject.CommonName)
			}
			fmt.Printf("  expires: %s\n", cert.NotAfter.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().StringVar(&commonName, "common-name", "lxc-deployer CA", "CA certificate common name")

	return cmd
}

func newCAShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the CA certificate PEM",
		Long: `Print the deployment CA certificate so it can be added to client trust
stores.

Examples:
  lxc-deployer ca show > deployment-ca.crt`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cs, err := contextStoreFromFlags(cmd)
			if err != nil {
				return err
			}

			material, err := ca.Load(ctx, cs)
			if err != nil {
				return err
			}
			fmt.Print(material.CertPEM)
			return nil
		},
	}

	return cmd
}

func newCAIssueCmd() *cobra.Command {
	var (
		dnsNames []string
		ips      []string
		outDir   string
	)

	cmd := &cobra.Command{
		Use:   "issue <name>",
		Short: "Issue a leaf certificate signed by the deployment CA",
		Long: `Issue a server certificate for a deployed application and write the
certificate and key PEM files to the output directory.

Examples:
  lxc-deployer ca issue git.internal --dns git.internal --ip 10.0.0.42
  lxc-deployer ca issue nginx --dns www.example.test --dns example.test -d ./certs`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ctx := context.Background()

			var ipAddrs []net.IP
			for _, raw := range ips {
				ip := net.ParseIP(raw)
				if ip == nil {
					return fmt.Errorf("invalid ip %q", raw)
				}
				ipAddrs = append(ipAddrs, ip)
			}
			if len(dnsNames) == 0 {
				dnsNames = []string{name}
			}

			cs, err := contextStoreFromFlags(cmd)
			if err != nil {
				return err
			}

			material, err := ca.Load(ctx, cs)
			if err != nil {
				return err
			}

			leaf, err := material.Issue(dnsNames, ipAddrs)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", outDir, err)
			}
			certPath := filepath.Join(outDir, name+".crt")
			keyPath := filepath.Join(outDir, name+".key")
			if err := os.WriteFile(certPath, []byte(leaf.CertPEM), 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(keyPath, []byte(leaf.KeyPEM), 0o600); err != nil {
				return err
			}

			fmt.Printf("[success] Issued certificate for %s\n", name)
			fmt.Printf("  cert: %s\n", certPath)
			fmt.Printf("  key:  %s\n", keyPath)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&dnsNames, "dns", nil, "DNS name for the certificate (repeatable, defaults to <name>)")
	cmd.Flags().StringArrayVar(&ips, "ip", nil, "IP address for the certificate (repeatable)")
	cmd.Flags().StringVarP(&outDir, "dest", "d", ".", "Directory to write the PEM files into")

	return cmd
}
