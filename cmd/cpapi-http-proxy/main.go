package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cpwebapi/cpwebapi-go/internal/log"
	"github.com/cpwebapi/cpwebapi-go/pkg/cli"
	"github.com/cpwebapi/cpwebapi-go/pkg/proxy"
)

const defaultPort = 5000

const (
	EnvTlsCert = "CPAPI_HTTP_PROXY_TLS_CERT"
	EnvTlsKey  = "CPAPI_HTTP_PROXY_TLS_KEY"
	EnvHost    = "CPAPI_HTTP_PROXY_HOST"
	EnvPort    = "CPAPI_HTTP_PROXY_PORT"
	EnvTimeout = "CPAPI_HTTP_PROXY_TIMEOUT"
	EnvVerbose = "CPAPI_VERBOSE"
)

const nonLocalhostWarning = `
Do not listen on a network interface without adding client authentication. Any client that can
reach the proxy can act on your brokerage account.`

type HttpProxyConfig struct {
	keyFilename  string
	certFilename string
	verbose      bool
	host         string
	port         int
	timeout      time.Duration
}

var (
	httpConfig = &HttpProxyConfig{}
)

func init() {
	flag.StringVar(&httpConfig.certFilename, "cert", "", "TLS certificate chain `file`. A self-signed certificate is generated if omitted.")
	flag.StringVar(&httpConfig.keyFilename, "tls-key", "", "Server TLS private key `file`")
	flag.BoolVar(&httpConfig.verbose, "verbose", false, "Enable verbose logging")
	flag.StringVar(&httpConfig.host, "host", "localhost", "Proxy server `hostname`")
	flag.IntVar(&httpConfig.port, "port", defaultPort, "`Port` to listen on")
	flag.DurationVar(&httpConfig.timeout, "timeout", proxy.DefaultTimeout, "Timeout interval when forwarding requests")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nA server that signs Client Portal Web API requests with a live session token")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, nonLocalhostWarning)
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

func main() {
	config, err := cli.NewConfig(cli.FlagAll)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	if err = readFromEnvironment(); err != nil {
		return
	}
	config.ReadFromEnvironment()
	if err = config.LoadConfigFile(); err != nil {
		return
	}

	if httpConfig.verbose {
		log.SetLevel(log.LevelDebug)
	}

	if httpConfig.host != "localhost" {
		fmt.Fprintln(os.Stderr, nonLocalhostWarning)
	}

	if err = config.LoadCredentials(); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), httpConfig.timeout)
	defer cancel()
	s, err := config.Connect(ctx)
	if err != nil {
		return
	}
	// Share the token with other tools right away; the server runs until killed.
	config.UpdateCachedSessions(s)

	log.Debug("Creating proxy")
	p := proxy.New(s)
	p.Timeout = httpConfig.timeout
	addr := fmt.Sprintf("%s:%d", httpConfig.host, httpConfig.port)

	server := &http.Server{Addr: addr, Handler: p}
	if httpConfig.certFilename == "" && httpConfig.keyFilename == "" {
		log.Warning("No TLS certificate provided, using a self-signed certificate")
		var cert tls.Certificate
		if cert, err = selfSignedCertificate(); err != nil {
			return
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	log.Info("Listening on %s", addr)
	log.Error("Server stopped: %s", server.ListenAndServeTLS(httpConfig.certFilename, httpConfig.keyFilename))
}

// readFromEnvironment applies configuration from environment variables.
// Values are not overwritten.
func readFromEnvironment() error {
	if httpConfig.certFilename == "" {
		httpConfig.certFilename = os.Getenv(EnvTlsCert)
	}

	if httpConfig.keyFilename == "" {
		httpConfig.keyFilename = os.Getenv(EnvTlsKey)
	}

	if httpConfig.host == "localhost" {
		host, ok := os.LookupEnv(EnvHost)
		if ok {
			httpConfig.host = host
		}
	}

	if !httpConfig.verbose {
		if verbose, ok := os.LookupEnv(EnvVerbose); ok {
			httpConfig.verbose = verbose != "false" && verbose != "0"
		}
	}

	var err error
	if httpConfig.port == defaultPort {
		if port, ok := os.LookupEnv(EnvPort); ok {
			httpConfig.port, err = strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid port: %s", port)
			}
		}
	}

	if httpConfig.timeout == proxy.DefaultTimeout {
		if timeoutEnv, ok := os.LookupEnv(EnvTimeout); ok {
			httpConfig.timeout, err = time.ParseDuration(timeoutEnv)
			if err != nil {
				return fmt.Errorf("invalid timeout: %s", timeoutEnv)
			}
		}
	}

	return nil
}
