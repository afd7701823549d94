// Command gemfetch retrieves a Gemini resource and prints it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	gemini "github.com/makeworld-the-better-one/gemfetch"
)

func main() {
	app := &cli.App{
		Name:      "gemfetch",
		Usage:     "retrieve a Gemini resource",
		ArgsUsage: "URI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML file with default options", EnvVars: []string{"GEMFETCH_CONFIG"}},
			&cli.BoolFlag{Name: "insecure", Aliases: []string{"k"}, Usage: "accept any certificate"},
			&cli.BoolFlag{Name: "no-body", Usage: "only print the header"},
			&cli.BoolFlag{Name: "links", Aliases: []string{"l"}, Usage: "print the links of gemtext pages"},
			&cli.IntFlag{Name: "max-lines", Usage: "read at most this many text lines"},
			&cli.Int64Flag{Name: "max-bytes", Usage: "read at most this many binary bytes"},
			&cli.BoolFlag{Name: "binary", Usage: "do not decode text bodies"},
			&cli.BoolFlag{Name: "follow", Aliases: []string{"L"}, Usage: "follow redirects"},
			&cli.IntFlag{Name: "max-redirects", Usage: "longest redirect chain followed", Value: gemini.DefaultMaxRedirectDepth},
			&cli.BoolFlag{Name: "no-iri", Usage: "do not convert IRIs"},
			&cli.StringFlag{Name: "tofu", Usage: "directory of pinned keys", EnvVars: []string{"GEMFETCH_TOFU"}},
			&cli.StringFlag{Name: "tofu-db", Usage: "SQLite database of pinned keys, instead of a directory", EnvVars: []string{"GEMFETCH_TOFU_DB"}},
			&cli.BoolFlag{Name: "ipv4", Aliases: []string{"4"}, Usage: "use IPv4 only"},
			&cli.BoolFlag{Name: "ipv6", Aliases: []string{"6"}, Usage: "use IPv6 only"},
			&cli.BoolFlag{Name: "no-sni", Usage: "do not send the server name"},
			&cli.StringFlag{Name: "connect-to", Usage: "connect to this host instead of the URI one"},
			&cli.BoolFlag{Name: "accept-expired", Usage: "accept expired certificates"},
			&cli.StringFlag{Name: "ca-file", Usage: "also require a chain to these CAs"},
			&cli.StringFlag{Name: "client-cert", Usage: "client certificate (PEM)"},
			&cli.StringFlag{Name: "client-key", Usage: "client key (PEM)"},
			&cli.DurationFlag{Name: "timeout", Usage: "give up after this long (0 waits forever)"},
			&cli.BoolFlag{Name: "cert", Usage: "print the server certificate"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log every step"},
		},
		Action: fetchAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

func loadOptions(path string) (gemini.Options, error) {
	opts := gemini.DefaultOptions()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return opts, nil
}

// applyFlags overrides the loaded options with the flags set on the
// command line.
func applyFlags(c *cli.Context, opts *gemini.Options) {
	bools := map[string]*bool{
		"insecure":       &opts.Insecure,
		"links":          &opts.ParseLinks,
		"binary":         &opts.ForceBinary,
		"follow":         &opts.FollowRedirects,
		"ipv4":           &opts.ForceIPv4,
		"ipv6":           &opts.ForceIPv6,
		"accept-expired": &opts.AcceptExpiredCert,
	}
	for name, p := range bools {
		if c.IsSet(name) {
			*p = c.Bool(name)
		}
	}
	negated := map[string]*bool{
		"no-body": &opts.FetchBody,
		"no-iri":  &opts.UseIRI,
		"no-sni":  &opts.SendSNI,
	}
	for name, p := range negated {
		if c.IsSet(name) {
			*p = !c.Bool(name)
		}
	}
	strs := map[string]*string{
		"tofu":        &opts.TofuDir,
		"connect-to":  &opts.ConnectOverrideHost,
		"ca-file":     &opts.CAFile,
		"client-cert": &opts.ClientCertFile,
		"client-key":  &opts.ClientKeyFile,
	}
	for name, p := range strs {
		if c.IsSet(name) {
			*p = c.String(name)
		}
	}
	if c.IsSet("max-lines") {
		opts.MaxLines = c.Int("max-lines")
	}
	if c.IsSet("max-bytes") {
		opts.MaxBytes = c.Int64("max-bytes")
	}
	if c.IsSet("max-redirects") {
		opts.MaxRedirectDepth = c.Int("max-redirects")
	}
}

func fetchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one URI is needed", 2)
	}

	logger, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts, err := loadOptions(c.String("config"))
	if err != nil {
		return cli.Exit(err, 2)
	}
	applyFlags(c, &opts)

	client := &gemini.Client{Logger: logger}
	if path := c.String("tofu-db"); path != "" {
		store, err := gemini.OpenSQLiteStore(path)
		if err != nil {
			return cli.Exit(err, 2)
		}
		defer store.Close()
		client.TrustStore = store
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if d := c.Duration("timeout"); d > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d)
		defer cancelTimeout()
	}

	res, err := client.FetchContext(ctx, c.Args().First(), opts)
	if err != nil {
		return cli.Exit(err, 2)
	}
	printResponse(res, c.Bool("cert"))
	if !res.NetworkSuccess {
		return cli.Exit("", 1)
	}
	return nil
}

func printResponse(res *gemini.Response, withCert bool) {
	for _, r := range res.Redirects {
		fmt.Fprintf(os.Stderr, "redirected from %s\n", r)
	}
	if res.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", res.Error)
	}
	if !res.NetworkSuccess {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s (%s)\n", res.Status, res.Meta, res.IPAddress)
	if withCert && res.Cert != nil {
		cert := res.Cert
		fmt.Fprintf(os.Stderr, "subject: %s\nissuer: %s\nvalid: %s to %s\nkey: %s %d bits, signed with %s\n",
			cert.Subject, cert.Issuer,
			cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339),
			cert.KeyType, cert.KeySize, cert.SigAlgo)
	}
	if res.Links != nil {
		for _, l := range res.Links {
			fmt.Println(l)
		}
		return
	}
	if res.Body != nil {
		os.Stdout.Write(res.Body.Bytes())
	}
}
