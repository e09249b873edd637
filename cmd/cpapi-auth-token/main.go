// Utility for storing access token secrets in the system keyring

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cpwebapi/cpwebapi-go/pkg/cli"
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [-secret-name secret_name] [-encryption-key-file file] [file]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Reads a base64 access token secret from stdin or file and saves it under secret_name")
	fmt.Fprintf(w, "in the system keyring. The secret_name defaults to $%s. If an encryption key\n", cli.EnvSecretName)
	fmt.Fprintln(w, "is provided, the secret is checked against it before it is saved.")
	fmt.Fprintln(w, "")
	flag.PrintDefaults()
}

func main() {
	returnCode := 1
	defer func() {
		os.Exit(returnCode)
	}()

	config, err := cli.NewConfig(cli.FlagOAuth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		return
	}

	var remove bool
	flag.StringVar(&config.SecretName, "secret-name", "", "Name to use for keyring entry")
	flag.StringVar(&config.EncryptionKeyFilename, "encryption-key-file", "", "A `file` containing the RSA encryption key")
	flag.BoolVar(&remove, "delete", false, "Remove the keyring entry instead of saving one")
	flag.Usage = usage
	flag.Parse()
	if config.EncryptionKeyFilename != "" {
		config.Flags |= cli.FlagKeys
	}
	config.ReadFromEnvironment()

	if config.SecretName == "" {
		fmt.Fprintf(os.Stderr, "Must provide system keyring name to save access token secret under using -secret-name or $%s\n", cli.EnvSecretName)
		return
	}

	if remove {
		if err := config.DeleteAccessTokenSecret(); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing access token secret from keyring: %s\n", err)
			return
		}
		returnCode = 0
		return
	}

	var secret []byte
	switch flag.NArg() {
	case 0:
		secret, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading access token secret from stdin: %s\n", err)
			return
		}
	case 1:
		secret, err = os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading access token secret from file: %s\n", err)
			return
		}
	default:
		fmt.Fprintln(os.Stderr, "Too many command-line arguments")
		return
	}

	if err := config.SaveAccessTokenSecretToKeyring(strings.TrimSpace(string(secret))); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving access token secret to keyring: %s\n", err)
		return
	}

	returnCode = 0
}
