package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/mattn/go-shellwords"

	"postkeeper/internal/apiclient"
)

const PostCtlVersion = "0.1.0"

const defaultServerURL = "http://127.0.0.1:8080"

var usage = fmt.Sprintf(`Post keeper control.

Usage:
    postctl list [--page=<page>] [--limit=<limit>] [--sort=<field>] [--order=<order>] [--filter=<expr>...] [--server=<url>]
    postctl get <id> [--server=<url>]
    postctl create --user=<user> --title=<title> --body=<body> [--server=<url>]
    postctl update <id> [--user=<user>] [--title=<title>] [--body=<body>] [--replace] [--server=<url>]
    postctl delete <id> [--server=<url>]
    postctl clear [--server=<url>]
    postctl users [<id>] [--server=<url>]
    postctl shell [--server=<url>]
    postctl -h | --help
    postctl --version

Options:
    -h --help           Show this screen.
    --version           Show version.
    --server=<url>      Server base URL [default: %s].
    --page=<page>       Page number [default: 1].
    --limit=<limit>     Page size [default: 10].
    --sort=<field>      Field to sort by.
    --order=<order>     Sort direction, asc or desc [default: asc].
    --filter=<expr>     Filter as 'field operator value', quote the value if it has spaces. Repeatable.
    --user=<user>       Owning user id.
    --title=<title>     Post title.
    --body=<body>       Post body.
    --replace           Send every field (PUT) instead of only the given ones (PATCH).
`, serverURL())

func serverURL() string {
	if v := os.Getenv("POSTKEEPER_SERVER_URL"); v != "" {
		return v
	}
	return defaultServerURL
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], PostCtlVersion)
	if err != nil {
		panic(err)
	}
	if shell_, _ := opts.Bool("shell"); shell_ {
		server, _ := opts.String("--server")
		shell(server, os.Stdin, os.Stdout)
		return
	}
	if err := dispatch(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// shell reads commands line by line; arguments are split like a shell would.
func shell(server string, in io.Reader, out io.Writer) {
	parser := &docopt.Parser{
		HelpHandler: func(err error, usage string) {
			if err == nil {
				fmt.Fprintln(out, usage)
			} else {
				fmt.Fprintln(out, "Invalid command or arguments. Use '--help' for usage.")
			}
		},
	}

	reader := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for reader.Scan() {
		line := strings.TrimSpace(reader.Text())
		if line == "exit" || line == "quit" {
			return
		}
		if line != "" {
			runLine(parser, server, line, out)
		}
		fmt.Fprint(out, "> ")
	}
}

func runLine(parser *docopt.Parser, server, line string, out io.Writer) {
	args, err := shellwords.Parse(line)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	if len(args) > 0 && args[0] == "postctl" {
		args = args[1:]
	}
	opts, err := parser.ParseArgs(usage, args, PostCtlVersion)
	if err != nil || len(opts) == 0 || flag(opts, "--help") || flag(opts, "--version") {
		return
	}
	if shell_, _ := opts.Bool("shell"); shell_ {
		fmt.Fprintln(out, "already in a shell")
		return
	}
	// the session server wins unless the line names another one
	if s, _ := opts.String("--server"); s == serverURL() {
		opts["--server"] = server
	}
	if err := dispatch(opts, out); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
}

func dispatch(opts docopt.Opts, out io.Writer) error {
	server, _ := opts.String("--server")
	c := apiclient.New(server, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case flag(opts, "list"):
		return listCmd(ctx, c, opts, out)
	case flag(opts, "get"):
		return getCmd(ctx, c, opts, out)
	case flag(opts, "create"):
		return createCmd(ctx, c, opts, out)
	case flag(opts, "update"):
		return updateCmd(ctx, c, opts, out)
	case flag(opts, "delete"):
		return deleteCmd(ctx, c, opts, out)
	case flag(opts, "clear"):
		return clearCmd(ctx, c, out)
	case flag(opts, "users"):
		return usersCmd(ctx, c, opts, out)
	default:
		return fmt.Errorf("no command given")
	}
}

func flag(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}
