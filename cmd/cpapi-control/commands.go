package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cpwebapi/cpwebapi-go/pkg/session"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")

	// output receives command results.
	output io.Writer = os.Stdout
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, s *session.Session, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

// ParseConids parses a comma-separated list of contract IDs.
func ParseConids(list string) ([]int64, error) {
	var conids []int64
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		conid, err := strconv.ParseInt(field, 10, 64)
		if err != nil || conid <= 0 {
			return nil, fmt.Errorf("%w: invalid contract ID '%s'", ErrCommandLineArgs, field)
		}
		conids = append(conids, conid)
	}
	if len(conids) == 0 {
		return nil, fmt.Errorf("%w: no contract IDs", ErrCommandLineArgs)
	}
	return conids, nil
}

// ParseFields parses a comma-separated list of market data field IDs.
func ParseFields(list string) ([]string, error) {
	var fields []string
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, err := strconv.Atoi(field); err != nil {
			return nil, fmt.Errorf("%w: invalid field '%s'", ErrCommandLineArgs, field)
		}
		fields = append(fields, field)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrCommandLineArgs)
	}
	return fields, nil
}

func optionalBool(args map[string]string, name string, defaultValue bool) (bool, error) {
	value, ok := args[name]
	if !ok {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", ErrCommandLineArgs, name)
	}
	return b, nil
}

// printJSON writes body to output, indented if it is valid JSON.
func printJSON(body []byte) error {
	var buffer bytes.Buffer
	if err := json.Indent(&buffer, body, "", "  "); err != nil {
		buffer.Reset()
		buffer.Write(body)
	}
	buffer.WriteByte('\n')
	_, err := output.Write(buffer.Bytes())
	return err
}

func printResult(body []byte, err error) error {
	if err != nil {
		return err
	}
	return printJSON(body)
}

func execute(ctx context.Context, s *session.Session, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, s, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var commands = map[string]*Command{
	"auth-status": &Command{
		help: "Show brokerage session authentication status",
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			status, err := s.AuthStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(output, "authenticated: %v\ncompeting: %v\nconnected: %v\n", status.Authenticated, status.Competing, status.Connected)
			if status.Message != "" {
				fmt.Fprintf(output, "message: %s\n", status.Message)
			}
			return nil
		},
	},
	"tickle": &Command{
		help: "Keep the session alive",
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.Tickle(ctx))
		},
	},
	"logout": &Command{
		help: "End the brokerage session",
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.Logout(ctx))
		},
	},
	"reauthenticate": &Command{
		help: "Re-authenticate the brokerage session",
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.Reauthenticate(ctx))
		},
	},
	"user": &Command{
		help: "Show user details",
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.UserDetails(ctx))
		},
	},
	"init-brokerage": &Command{
		help: "Open a brokerage session",
		optional: []Argument{
			Argument{name: "COMPETE", help: "Take over a competing session (default true)"},
			Argument{name: "PUBLISH", help: "Publish the session (default true)"},
		},
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			compete, err := optionalBool(args, "COMPETE", true)
			if err != nil {
				return err
			}
			publish, err := optionalBool(args, "PUBLISH", true)
			if err != nil {
				return err
			}
			return printResult(s.InitBrokerageSession(ctx, compete, publish))
		},
	},
	"accounts": &Command{
		help: "List brokerage accounts",
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.BrokerageAccounts(ctx))
		},
	},
	"portfolio-accounts": &Command{
		help: "List portfolio accounts",
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.PortfolioAccounts(ctx))
		},
	},
	"summary": &Command{
		help: "Show account summary",
		args: []Argument{
			Argument{name: "ACCOUNT", help: "Account ID"},
		},
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.AccountSummary(ctx, args["ACCOUNT"]))
		},
	},
	"switch-account": &Command{
		help: "Select the account used by subsequent brokerage requests",
		args: []Argument{
			Argument{name: "ACCOUNT", help: "Account ID"},
		},
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.SwitchAccount(ctx, args["ACCOUNT"]))
		},
	},
	"secdef": &Command{
		help: "Show security definitions",
		args: []Argument{
			Argument{name: "CONIDS", help: "Comma-separated contract IDs"},
		},
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			conids, err := ParseConids(args["CONIDS"])
			if err != nil {
				return err
			}
			return printResult(s.SecdefByConid(ctx, conids))
		},
	},
	"search": &Command{
		help: "Search contracts by symbol or company name",
		args: []Argument{
			Argument{name: "TERM", help: "Symbol or name"},
		},
		optional: []Argument{
			Argument{name: "TYPE", help: "One of: symbol (default), name"},
			Argument{name: "ASSET_CLASS", help: "Security type, e.g. STK"},
		},
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			var isName bool
			switch strings.ToLower(args["TYPE"]) {
			case "", "symbol":
			case "name":
				isName = true
			default:
				return fmt.Errorf("%w: TYPE must be symbol or name", ErrCommandLineArgs)
			}
			return printResult(s.SearchBySymbolOrName(ctx, args["TERM"], isName, strings.ToUpper(args["ASSET_CLASS"])))
		},
	},
	"snapshot": &Command{
		help: "Fetch a market data snapshot",
		args: []Argument{
			Argument{name: "CONIDS", help: "Comma-separated contract IDs"},
			Argument{name: "FIELDS", help: "Comma-separated field IDs (e.g., 31,84,86)"},
		},
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			conids, err := ParseConids(args["CONIDS"])
			if err != nil {
				return err
			}
			fields, err := ParseFields(args["FIELDS"])
			if err != nil {
				return err
			}
			return printResult(s.MarketDataSnapshot(ctx, conids, fields))
		},
	},
	"get": &Command{
		help: "Send a signed GET request",
		args: []Argument{
			Argument{name: "ENDPOINT", help: "Path relative to the base URL, e.g. iserver/accounts"},
		},
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			return printResult(s.Get(ctx, args["ENDPOINT"]))
		},
	},
	"post": &Command{
		help: "Send a signed POST request",
		args: []Argument{
			Argument{name: "ENDPOINT", help: "Path relative to the base URL"},
		},
		optional: []Argument{
			Argument{name: "JSON", help: "Request body (a JSON object)"},
		},
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			var body map[string]interface{}
			if payload, ok := args["JSON"]; ok {
				if err := json.Unmarshal([]byte(payload), &body); err != nil {
					return fmt.Errorf("%w: JSON must be an object: %s", ErrCommandLineArgs, err)
				}
			}
			return printResult(s.Do(ctx, http.MethodPost, args["ENDPOINT"], &session.Request{Body: body}))
		},
	},
	"lst": &Command{
		help: "Request a new live session token",
		handler: func(ctx context.Context, s *session.Session, args map[string]string) error {
			if err := s.RequestLiveSessionToken(ctx); err != nil {
				return err
			}
			_, expiration := s.LiveSessionToken()
			fmt.Fprintf(output, "Live session token expires %s\n", expiration.Local().Format(time.RFC1123))
			return nil
		},
	},
}
