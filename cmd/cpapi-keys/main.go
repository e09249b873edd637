// Utility for inspecting the key material used during the OAuth handshake

package main

import (
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cpwebapi/cpwebapi-go/pkg/cli"
	"github.com/cpwebapi/cpwebapi-go/pkg/protocol"
	"github.com/cpwebapi/cpwebapi-go/pkg/session"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Prints the public halves of the RSA signature and encryption keys, or checks that the configured
key material is usable.

public: writes the PEM public keys to stdout. These are the keys uploaded during OAuth consumer
        registration.
check:  loads both keys and the DH parameters and confirms that the access token secret decrypts
        under the encryption key. The decrypted secret is never printed.

Keys are not generated by this tool. Use "openssl genrsa -out private_signature.pem 2048" and
"openssl dhparam -outform PEM -out dhparam.pem 2048".`

func cliUsage() {
	usage(flag.CommandLine.Output())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] public|check\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

func printPublicKey(w io.Writer, label string, skey *rsa.PrivateKey) error {
	publicPEM, err := protocol.PublicKeyPEM(skey)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s public key:\n%s", label, publicPEM)
	return nil
}

// printPublicKeys writes the public signature key, followed by the encryption key if it is a
// different key.
func printPublicKeys(w io.Writer, creds session.Credentials) error {
	if creds.SignatureKey == nil && creds.EncryptionKey == nil {
		return errors.New("must provide -signature-key-file and/or -encryption-key-file")
	}
	if creds.SignatureKey != nil {
		if err := printPublicKey(w, "Signature", creds.SignatureKey); err != nil {
			return err
		}
	}
	if creds.EncryptionKey == nil {
		return nil
	}
	if creds.SignatureKey == nil || !creds.EncryptionKey.Equal(creds.SignatureKey) {
		if err := printPublicKey(w, "Encryption", creds.EncryptionKey); err != nil {
			return err
		}
	}
	return nil
}

// check reports on each piece of key material and returns an error describing the first one that
// is missing or unusable.
func check(w io.Writer, creds session.Credentials) error {
	if creds.SignatureKey == nil {
		return fmt.Errorf("signature key: %w", protocol.ErrMissingCredentials)
	}
	fmt.Fprintf(w, "Signature key:  RSA %d bits\n", creds.SignatureKey.N.BitLen())

	if creds.EncryptionKey == nil {
		return fmt.Errorf("encryption key: %w", protocol.ErrMissingCredentials)
	}
	fmt.Fprintf(w, "Encryption key: RSA %d bits\n", creds.EncryptionKey.N.BitLen())

	if creds.DHParameters == nil {
		return fmt.Errorf("DH parameters: %w", protocol.ErrMissingCredentials)
	}
	fmt.Fprintf(w, "DH parameters:  %d-bit prime, generator %s\n", creds.DHParameters.Prime.BitLen(), creds.DHParameters.Generator)

	if creds.AccessTokenSecret == "" {
		return fmt.Errorf("access token secret: %w", protocol.ErrMissingCredentials)
	}
	prepend, err := protocol.DecryptAccessTokenSecret(creds.AccessTokenSecret, creds.EncryptionKey)
	if err != nil {
		return fmt.Errorf("access token secret: %w", err)
	}
	fmt.Fprintf(w, "Access token secret: decrypts to %d bytes\n", len(prepend)/2)
	return nil
}

func run(w io.Writer, command string, creds session.Credentials) error {
	switch command {
	case "public":
		return printPublicKeys(w, creds)
	case "check":
		return check(w, creds)
	default:
		return fmt.Errorf("unrecognized command %s", command)
	}
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	config, err := cli.NewConfig(cli.FlagOAuth | cli.FlagKeys)
	if err != nil {
		writeErr("Failed to load credential configuration: %s", err)
		return
	}
	config.RegisterCommandLineFlags()
	flag.Usage = cliUsage
	flag.Parse()
	config.ReadFromEnvironment()

	if flag.NArg() != 1 {
		usage(os.Stderr)
		return
	}
	if err := config.LoadConfigFile(); err != nil {
		writeErr("Error loading configuration file: %s", err)
		return
	}

	creds, err := config.Credentials()
	if err != nil {
		writeErr("Error loading credentials: %s", err)
		return
	}
	if err := run(os.Stdout, flag.Arg(0), creds); err != nil {
		writeErr("%s", err)
		return
	}
	status = 0
}
