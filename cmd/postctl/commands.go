package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/mattn/go-shellwords"

	"postkeeper/internal/api"
	"postkeeper/internal/apiclient"
	"postkeeper/internal/model"
	"postkeeper/internal/service"
)

// parseFilterExpr accepts "title contains 'foo bar'" or the wire form
// "title:contains:foo bar".
func parseFilterExpr(expr string) (string, error) {
	words, err := shellwords.Parse(expr)
	if err != nil {
		return "", fmt.Errorf("filter %q: %w", expr, err)
	}
	switch len(words) {
	case 3:
		return api.FormatFilter(service.FilterParams{Field: words[0], Operator: words[1], Value: words[2]}), nil
	case 2:
		return api.FormatFilter(service.FilterParams{Field: words[0], Operator: words[1]}), nil
	}
	if f, err := api.ParseFilter(expr); err == nil {
		return api.FormatFilter(f), nil
	}
	return "", fmt.Errorf("filter %q: expected 'field operator value'", expr)
}

func intArg(opts docopt.Opts, key string) (int, error) {
	s, err := opts.String(key)
	if err != nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, s)
	}
	return n, nil
}

// optString returns nil when the option was not given.
func optString(opts docopt.Opts, key string) *string {
	s, err := opts.String(key)
	if err != nil {
		return nil
	}
	return &s
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listCmd(ctx context.Context, c *apiclient.Client, opts docopt.Opts, out io.Writer) error {
	page, err := intArg(opts, "--page")
	if err != nil {
		return err
	}
	limit, err := intArg(opts, "--limit")
	if err != nil {
		return err
	}
	lo := apiclient.ListOptions{Page: page, Limit: limit}
	if sort := optString(opts, "--sort"); sort != nil {
		lo.Sort = *sort
		lo.Order, _ = opts.String("--order")
	}
	exprs, _ := opts["--filter"].([]string)
	for _, expr := range exprs {
		f, err := parseFilterExpr(expr)
		if err != nil {
			return err
		}
		lo.Filters = append(lo.Filters, f)
	}

	res, err := c.ListPosts(ctx, lo)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func getCmd(ctx context.Context, c *apiclient.Client, opts docopt.Opts, out io.Writer) error {
	id, err := intArg(opts, "<id>")
	if err != nil {
		return err
	}
	p, err := c.GetPost(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(out, p)
}

func createCmd(ctx context.Context, c *apiclient.Client, opts docopt.Opts, out io.Writer) error {
	user, err := intArg(opts, "--user")
	if err != nil {
		return err
	}
	title, _ := opts.String("--title")
	body, _ := opts.String("--body")
	res, err := c.CreatePost(ctx, model.CreatePostInput{UserID: user, Title: title, Body: body})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "remote echo: %s\n", res.RemoteEcho)
	return printJSON(out, res.Post)
}

func updateCmd(ctx context.Context, c *apiclient.Client, opts docopt.Opts, out io.Writer) error {
	id, err := intArg(opts, "<id>")
	if err != nil {
		return err
	}
	patch := apiclient.PostPatch{
		Title: optString(opts, "--title"),
		Body:  optString(opts, "--body"),
	}
	if optString(opts, "--user") != nil {
		user, err := intArg(opts, "--user")
		if err != nil {
			return err
		}
		patch.UserID = &user
	}

	var res apiclient.PostWrite
	if flag(opts, "--replace") {
		if patch.UserID == nil || patch.Title == nil || patch.Body == nil {
			return fmt.Errorf("--replace needs --user, --title and --body")
		}
		res, err = c.ReplacePost(ctx, id, model.CreatePostInput{UserID: *patch.UserID, Title: *patch.Title, Body: *patch.Body})
	} else {
		res, err = c.PatchPost(ctx, id, patch)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "remote echo: %s\n", res.RemoteEcho)
	return printJSON(out, res.Post)
}

func deleteCmd(ctx context.Context, c *apiclient.Client, opts docopt.Opts, out io.Writer) error {
	id, err := intArg(opts, "<id>")
	if err != nil {
		return err
	}
	echo, err := c.DeletePost(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted post %d (remote echo: %s)\n", id, echo)
	return nil
}

func clearCmd(ctx context.Context, c *apiclient.Client, out io.Writer) error {
	if err := c.ClearLocal(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "local data cleared")
	return nil
}

func usersCmd(ctx context.Context, c *apiclient.Client, opts docopt.Opts, out io.Writer) error {
	if optString(opts, "<id>") == nil {
		users, err := c.ListUsers(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, users)
	}
	id, err := intArg(opts, "<id>")
	if err != nil {
		return err
	}
	u, err := c.GetUser(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(out, u)
}
