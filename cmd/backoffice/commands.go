package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-backoffice/apiclient"
	"github.com/jrsteele09/go-backoffice/credentials"
	"github.com/jrsteele09/go-backoffice/internal/config"
	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"github.com/jrsteele09/go-backoffice/internal/utils"
	"github.com/jrsteele09/go-backoffice/resources"
	"github.com/jrsteele09/go-backoffice/token"
	"golang.org/x/term"
)

// PasswordEnvVar is read by login when --password is not given.
const PasswordEnvVar = "BACKOFFICE_PASSWORD"

// cli carries the per-invocation state shared by every command.
type cli struct {
	ctx        context.Context
	configPath string
	stdin      *bufio.Reader
	terminalFD int
	stdout     io.Writer
	stderr     io.Writer
	version    VersionInfo

	app *app
}

// open builds the app on first use so that help and version work without
// a config.
func (c *cli) open() (*app, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := newApp(c.ctx, c.configPath, c.stderr)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

// session opens the app and checks that someone is signed in.
func (c *cli) session() (*app, error) {
	a, err := c.open()
	if err != nil {
		return nil, err
	}
	ok, err := a.store.IsAuthenticated(c.ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: run 'backoffice login' first", apperrors.ErrNotAuthenticated)
	}
	return a, nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	return c.app.close()
}

func (c *cli) readLine(prompt string) (string, error) {
	fmt.Fprint(c.stdout, prompt)
	line, err := c.stdin.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("[cli.readLine] %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo when stdin is a terminal and falls back
// to a plain line for piped input.
func (c *cli) readPassword(prompt string) (string, error) {
	if c.terminalFD < 0 {
		return c.readLine(prompt)
	}
	fmt.Fprint(c.stdout, prompt)
	secret, err := term.ReadPassword(c.terminalFD)
	fmt.Fprintln(c.stdout)
	if err != nil {
		return "", fmt.Errorf("[cli.readPassword] %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// confirm asks a yes/no question on stdin. Anything but y or yes declines.
func (c *cli) confirm(_ context.Context, prompt string) (bool, error) {
	answer, err := c.readLine(prompt + " [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// readBody resolves a --data value: "-" reads stdin, "@file" reads a file,
// anything else is the body itself. The body must be JSON.
func (c *cli) readBody(data string) ([]byte, error) {
	var body []byte
	switch {
	case data == "":
		return nil, fmt.Errorf("a JSON body is required, pass --data")
	case data == "-":
		b, err := io.ReadAll(c.stdin)
		if err != nil {
			return nil, fmt.Errorf("[cli.readBody] stdin: %w", err)
		}
		body = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("[cli.readBody] %w", err)
		}
		body = b
	default:
		body = []byte(data)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("body is not valid JSON")
	}
	return body, nil
}

func (c *cli) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("[cli.printJSON] %w", err)
	}
	_, err = fmt.Fprintln(c.stdout, string(b))
	return err
}

// keyValues collects repeated key=value (or "Key: value") flags.
type keyValues struct {
	sep    string
	values [][2]string
}

func (kv *keyValues) String() string {
	parts := make([]string, 0, len(kv.values))
	for _, pair := range kv.values {
		parts = append(parts, pair[0]+kv.sep+pair[1])
	}
	return strings.Join(parts, ",")
}

func (kv *keyValues) Set(s string) error {
	key, value, ok := strings.Cut(s, kv.sep)
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expected key%svalue, got %q", kv.sep, s)
	}
	kv.values = append(kv.values, [2]string{strings.TrimSpace(key), strings.TrimSpace(value)})
	return nil
}

func (kv *keyValues) Map() map[string]string {
	m := make(map[string]string, len(kv.values))
	for _, pair := range kv.values {
		m[pair[0]] = pair[1]
	}
	return m
}

func registerCommands(r *CommandRegistry, c *cli) {
	r.Register(loginCommand(c))
	r.Register(logoutCommand(c))
	r.Register(whoamiCommand(c))
	r.Register(refreshCommand(c))
	r.Register(requestCommand(c))
	r.Register(listCommand(c))
	r.Register(getCommand(c))
	r.Register(createCommand(c))
	r.Register(updateCommand(c))
	r.Register(deleteCommand(c))
	r.Register(lookupCommand(c))
	r.Register(versionCommand(c))
}

func loginCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "login",
		Description: "Sign in and store the session",
		Usage:       "backoffice login --email <email> [--password <password>] [--tenant <tenant>]",
		Examples: []string{
			"backoffice login --email ops@example.com --tenant acme",
			"BACKOFFICE_PASSWORD=secret backoffice login --email ops@example.com",
		},
	}
	cmd.Run = func(args []string) error {
		fs := cmd.NewFlagSet()
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password, defaults to $"+PasswordEnvVar+" then a prompt")
		tenant := fs.String("tenant", "", "tenant to sign in to")
		if _, err := cmd.Parse(fs, args, 0); err != nil {
			return err
		}
		if *email == "" {
			cmd.PrintUsage()
			return errUsage
		}

		a, err := c.open()
		if err != nil {
			return err
		}

		secret := utils.FirstNonEmpty(*password, config.GetEnv(PasswordEnvVar, ""))
		if secret == "" {
			if secret, err = c.readPassword("Password: "); err != nil {
				return err
			}
		}

		if _, err := a.sessions.Login(c.ctx, *email, secret, *tenant); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		set, err := a.store.Snapshot(c.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Signed in as %s (tenant %s)\n",
			utils.FirstNonEmpty(set.Username, *email), utils.FirstNonEmpty(set.TenantID, "none"))
		return nil
	}
	return cmd
}

func logoutCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "logout",
		Description: "Remove the stored session",
		Usage:       "backoffice logout",
	}
	cmd.Run = func(args []string) error {
		if _, err := cmd.Parse(cmd.NewFlagSet(), args, 0); err != nil {
			return err
		}
		a, err := c.open()
		if err != nil {
			return err
		}
		set, err := a.store.Snapshot(c.ctx)
		if err != nil {
			return err
		}
		if set.Empty() {
			fmt.Fprintln(c.stdout, "Not signed in.")
			return nil
		}
		return a.sessions.Logout(c.ctx)
	}
	return cmd
}

func whoamiCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "whoami",
		Description: "Show the signed in user",
		Usage:       "backoffice whoami",
	}
	cmd.Run = func(args []string) error {
		if _, err := cmd.Parse(cmd.NewFlagSet(), args, 0); err != nil {
			return err
		}
		a, err := c.session()
		if err != nil {
			return err
		}
		set, err := a.store.Snapshot(c.ctx)
		if err != nil {
			return err
		}

		claims := token.DecodeClaims(set.AccessToken)
		expires := "unknown"
		if exp, ok := claims.ExpiresAt(); ok {
			expires = exp.Local().Format(time.RFC1123)
		}

		fmt.Fprintf(c.stdout, "%-10s %s\n", "User:", utils.FirstNonEmpty(set.Username, "unknown"))
		fmt.Fprintf(c.stdout, "%-10s %s\n", "Tenant:", utils.FirstNonEmpty(set.TenantID, "none"))
		if roles := claims.Roles(); len(roles) > 0 {
			fmt.Fprintf(c.stdout, "%-10s %s\n", "Roles:", strings.Join(roles, ", "))
		}
		fmt.Fprintf(c.stdout, "%-10s %s\n", "Expires:", expires)
		return nil
	}
	return cmd
}

func refreshCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "refresh",
		Description: "Exchange the refresh token for a new access token",
		Usage:       "backoffice refresh",
	}
	cmd.Run = func(args []string) error {
		if _, err := cmd.Parse(cmd.NewFlagSet(), args, 0); err != nil {
			return err
		}
		a, err := c.session()
		if err != nil {
			return err
		}

		accessToken, err := a.sessions.RefreshAccessToken(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return err
			}
			if apperrors.Is(err, apperrors.ErrSessionEnded) {
				return err
			}
			if clearErr := a.store.ClearAll(context.WithoutCancel(c.ctx), credentials.ClearRefreshFailed); clearErr != nil {
				a.logger.Warn().Err(clearErr).Msg("Failed to clear credentials after refresh failure")
			}
			return fmt.Errorf("%w: %w", apperrors.ErrSessionEnded, err)
		}

		if exp, ok := token.DecodeClaims(accessToken).ExpiresAt(); ok {
			fmt.Fprintf(c.stdout, "Access token refreshed, expires %s\n", exp.Local().Format(time.RFC1123))
			return nil
		}
		fmt.Fprintln(c.stdout, "Access token refreshed")
		return nil
	}
	return cmd
}

func requestCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "request",
		Description: "Send an authenticated request to any API path",
		Usage:       "backoffice request [--method GET] [--data <json>|@file|-] [--header 'Key: value'] [--query key=value] <path>",
		Examples: []string{
			"backoffice request /tenants/",
			"backoffice request --method POST --data '{\"name\":\"North\"}' /sites/",
			"backoffice request /sites/ --query tenant_id=42",
		},
	}
	cmd.Run = func(args []string) error {
		fs := cmd.NewFlagSet()
		method := fs.String("method", http.MethodGet, "HTTP method")
		data := fs.String("data", "", "request body: JSON, @file or - for stdin")
		headers := &keyValues{sep: ":"}
		fs.Var(headers, "header", "extra header, repeatable")
		query := &keyValues{sep: "="}
		fs.Var(query, "query", "query parameter, repeatable")
		rest, err := cmd.Parse(fs, args, 1)
		if err != nil {
			return err
		}

		opts := apiclient.RequestOptions{Method: *method, Header: http.Header{}}
		for _, pair := range headers.values {
			opts.Header.Add(pair[0], pair[1])
		}
		if len(query.values) > 0 {
			opts.Query = url.Values{}
			for _, pair := range query.values {
				opts.Query.Add(pair[0], pair[1])
			}
		}
		if *data != "" {
			if opts.Body, err = c.readBody(*data); err != nil {
				return err
			}
		}

		a, err := c.session()
		if err != nil {
			return err
		}
		result, err := a.client.Request(c.ctx, rest[0], opts)
		if err != nil {
			return err
		}
		switch v := result.(type) {
		case nil:
			return nil
		case string:
			_, err := fmt.Fprintln(c.stdout, v)
			return err
		default:
			return c.printJSON(v)
		}
	}
	return cmd
}

func rawRepo(a *app, name string) (*resources.Repo[json.RawMessage], error) {
	repo, err := a.catalog.Raw(name)
	if err != nil {
		return nil, fmt.Errorf("%w, choose one of: %s", err, strings.Join(resources.Names(), ", "))
	}
	return repo, nil
}

func listCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List a resource collection",
		Usage:       "backoffice list <resource> [--page n] [--page-size n] [--search text] [--filter key=value] [--json]",
		Examples: []string{
			"backoffice list tenants",
			"backoffice list sites --filter tenant_id=42",
			"backoffice list users --search alice --json",
		},
	}
	cmd.Run = func(args []string) error {
		fs := cmd.NewFlagSet()
		page := fs.Int("page", 0, "page number")
		pageSize := fs.Int("page-size", 0, "items per page")
		search := fs.String("search", "", "free text search")
		filters := &keyValues{sep: "="}
		fs.Var(filters, "filter", "field filter, repeatable")
		asJSON := fs.Bool("json", false, "print the raw page as JSON")
		rest, err := cmd.Parse(fs, args, 1)
		if err != nil {
			return err
		}

		a, err := c.session()
		if err != nil {
			return err
		}
		repo, err := rawRepo(a, rest[0])
		if err != nil {
			return err
		}

		result, err := repo.List(c.ctx, resources.ListQuery{
			Page:     *page,
			PageSize: *pageSize,
			Search:   *search,
			Filters:  filters.Map(),
		})
		if err != nil {
			return err
		}
		if *asJSON {
			return c.printJSON(result)
		}

		table := NewTableWriter([]string{"ID", "NAME"})
		for _, item := range result.Items {
			table.AddRow(summarize(item))
		}
		table.Print(c.stdout)
		if result.Meta != nil {
			fmt.Fprintf(c.stdout, "Page %d of %d (%d total)\n", result.Meta.Page, result.Meta.Pages, result.Meta.Total)
		}
		return nil
	}
	return cmd
}

// summarize picks an id and a display name out of an untyped item.
func summarize(item json.RawMessage) []string {
	var fields map[string]any
	if err := json.Unmarshal(item, &fields); err != nil {
		return []string{"", string(item)}
	}
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	id := utils.FirstNonEmpty(str("id"), str("device_id"))
	return []string{id, utils.FirstNonEmpty(str("name"), str("email"), str("serial"), str("title"))}
}

func getCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "get",
		Description: "Show one item",
		Usage:       "backoffice get <resource> <id>",
		Examples:    []string{"backoffice get sites 42"},
	}
	cmd.Run = func(args []string) error {
		rest, err := cmd.Parse(cmd.NewFlagSet(), args, 2)
		if err != nil {
			return err
		}
		a, err := c.session()
		if err != nil {
			return err
		}
		repo, err := rawRepo(a, rest[0])
		if err != nil {
			return err
		}
		item, err := repo.Get(c.ctx, rest[1])
		if err != nil {
			return err
		}
		return c.printJSON(item)
	}
	return cmd
}

func createCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "create",
		Description: "Create an item from a JSON body",
		Usage:       "backoffice create <resource> --data <json>|@file|-",
		Examples: []string{
			"backoffice create sites --data '{\"name\":\"North\",\"tenant_id\":\"42\"}'",
			"backoffice create users --data @alice.json",
		},
	}
	cmd.Run = func(args []string) error {
		fs := cmd.NewFlagSet()
		data := fs.String("data", "", "item body: JSON, @file or - for stdin")
		rest, err := cmd.Parse(fs, args, 1)
		if err != nil {
			return err
		}
		body, err := c.readBody(*data)
		if err != nil {
			return err
		}
		a, err := c.session()
		if err != nil {
			return err
		}
		repo, err := rawRepo(a, rest[0])
		if err != nil {
			return err
		}
		created, err := repo.Create(c.ctx, json.RawMessage(body))
		if err != nil {
			return err
		}
		return c.printJSON(created)
	}
	return cmd
}

func updateCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "update",
		Description: "Replace an item with a JSON body",
		Usage:       "backoffice update <resource> <id> --data <json>|@file|-",
		Examples:    []string{"backoffice update sites 42 --data '{\"name\":\"North West\"}'"},
	}
	cmd.Run = func(args []string) error {
		fs := cmd.NewFlagSet()
		data := fs.String("data", "", "item body: JSON, @file or - for stdin")
		rest, err := cmd.Parse(fs, args, 2)
		if err != nil {
			return err
		}
		body, err := c.readBody(*data)
		if err != nil {
			return err
		}
		a, err := c.session()
		if err != nil {
			return err
		}
		repo, err := rawRepo(a, rest[0])
		if err != nil {
			return err
		}
		updated, err := repo.Update(c.ctx, rest[1], json.RawMessage(body))
		if err != nil {
			return err
		}
		return c.printJSON(updated)
	}
	return cmd
}

func deleteCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "delete",
		Description: "Delete an item after confirmation",
		Usage:       "backoffice delete <resource> <id> [--yes]",
		Examples: []string{
			"backoffice delete sites 42",
			"backoffice delete sites 42 --yes",
		},
	}
	cmd.Run = func(args []string) error {
		fs := cmd.NewFlagSet()
		yes := fs.Bool("yes", false, "skip the confirmation prompt")
		rest, err := cmd.Parse(fs, args, 2)
		if err != nil {
			return err
		}
		a, err := c.session()
		if err != nil {
			return err
		}
		repo, err := rawRepo(a, rest[0])
		if err != nil {
			return err
		}

		confirm := c.confirm
		if *yes {
			confirm = func(context.Context, string) (bool, error) { return true, nil }
		}
		err = repo.DeleteConfirmed(c.ctx, rest[1], confirm)
		if apperrors.Is(err, apperrors.ErrNotConfirmed) {
			fmt.Fprintln(c.stdout, "Cancelled.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Deleted %s %s\n", repo.Name(), rest[1])
		return nil
	}
	return cmd
}

func lookupCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "lookup",
		Description: "List picker options for tenants, sites or devices",
		Usage:       "backoffice lookup tenants | sites --tenant <id> | devices --site <id>",
		Examples: []string{
			"backoffice lookup tenants",
			"backoffice lookup sites --tenant 42",
			"backoffice lookup devices --site 7",
		},
	}
	cmd.Run = func(args []string) error {
		fs := cmd.NewFlagSet()
		tenant := fs.String("tenant", "", "tenant id, for sites")
		site := fs.String("site", "", "site id, for devices")
		rest, err := cmd.Parse(fs, args, 1)
		if err != nil {
			return err
		}
		a, err := c.session()
		if err != nil {
			return err
		}

		var options []resources.Option
		switch rest[0] {
		case "tenants":
			options, err = a.lookup.Tenants(c.ctx)
		case "sites":
			options, err = a.lookup.SitesForTenant(c.ctx, *tenant)
		case "devices":
			options, err = a.lookup.DevicesForSite(c.ctx, *site)
		default:
			cmd.PrintUsage()
			return errUsage
		}
		if err != nil {
			return err
		}

		table := NewTableWriter([]string{"ID", "NAME"})
		for _, option := range options {
			table.AddRow([]string{option.ID, option.Name})
		}
		table.Print(c.stdout)
		return nil
	}
	return cmd
}

func versionCommand(c *cli) *Command {
	cmd := &Command{
		Name:        "version",
		Description: "Show version information",
		Usage:       "backoffice version",
	}
	cmd.Run = func(args []string) error {
		if _, err := cmd.Parse(cmd.NewFlagSet(), args, 0); err != nil {
			return err
		}
		printBanner(c.stdout, "backoffice")
		fmt.Fprintf(c.stdout, "backoffice %s\n", c.version.Version)
		fmt.Fprintf(c.stdout, "  commit: %s\n", c.version.Commit)
		fmt.Fprintf(c.stdout, "  built:  %s\n", c.version.Date)
		return nil
	}
	return cmd
}
