// Command diary writes and reads encrypted travel diary entries against a
// diaryd server.
//
//	diary [-server URL] [-token T] write -owner 0x... [text...]
//	diary [-server URL] list -owner 0x... [-limit N] [-cursor C]
//	diary [-server URL] [-token T] read -owner 0x... -id N
//
// Without -token the server's authorization endpoint is used, which only
// development deployments expose. write reads the entry from stdin when no
// text arguments are given.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/client"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/journal"
	"golang.org/x/term"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "diary:", err)
		os.Exit(1)
	}
}

type globals struct {
	server  string
	token   string
	timeout time.Duration
	retries uint64
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("diary", flag.ContinueOnError)
	var g globals
	fs.StringVar(&g.server, "server", envOr("DIARY_URL", "http://localhost:8080"), "diaryd base URL")
	fs.StringVar(&g.token, "token", os.Getenv("DIARY_TOKEN"), "bearer token (submit scope for write, decrypt for read)")
	fs.DurationVar(&g.timeout, "timeout", time.Minute, "overall command timeout")
	fs.Uint64Var(&g.retries, "retries", 3, "retries for idempotent requests")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: diary [flags] write|list|read [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	opts := []client.Option{
		client.WithRetries(g.retries),
		client.WithHTTPClient(&http.Client{Timeout: g.timeout}),
	}
	if g.token != "" {
		opts = append(opts, client.WithTokenSource(client.StaticToken(g.token)))
	}
	c := client.New(g.server, opts...)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "write":
		return cmdWrite(ctx, c, rest, stdin, stdout)
	case "list":
		return cmdList(ctx, c, rest, stdout)
	case "read":
		return cmdRead(ctx, c, g, rest, stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func ownerFlag(fs *flag.FlagSet) *string {
	return fs.String("owner", os.Getenv("DIARY_OWNER"), "owner address")
}

func cmdWrite(ctx context.Context, c *client.Client, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	ownerStr := ownerFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	owner, err := diary.ParseOwner(*ownerStr)
	if err != nil {
		return err
	}

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		if text, err = readEntry(stdin, stdout); err != nil {
			return err
		}
	}

	params, err := c.Params(ctx)
	if err != nil {
		return fmt.Errorf("fetch parameters: %w", err)
	}
	w := journal.NewWriter(c, c, params.Contract)
	if params.MaxTextChars > 0 {
		w.MaxChars = params.MaxTextChars
	}
	e, err := w.Compose(ctx, owner, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "created entry %d for %s (%d chunks) at %s\n",
		e.DiaryID, e.Owner, len(e.Chunks), e.CreatedAt.Format(time.RFC3339))
	return nil
}

// readEntry reads the entry body from stdin, prompting when it is a
// terminal.
func readEntry(stdin io.Reader, stdout io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(stdout, "Write your entry (press Enter on an empty line to finish)")
		reader := bufio.NewReader(stdin)
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			lines = append(lines, line)
			if err != nil {
				break
			}
		}
		return strings.Join(lines, "\n"), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func cmdList(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	ownerStr := ownerFlag(fs)
	limit := fs.Int("limit", 20, "entries per page")
	cursor := fs.String("cursor", "", "pagination cursor from a previous page")
	if err := fs.Parse(args); err != nil {
		return err
	}
	owner, err := diary.ParseOwner(*ownerStr)
	if err != nil {
		return err
	}

	page, err := c.List(ctx, owner, *cursor, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s has %d entries\n", owner, page.Count)
	for _, m := range page.Entries {
		fmt.Fprintf(stdout, "  #%-4d %s  %d chunks\n", m.DiaryID, m.Timestamp.Format(time.RFC3339), m.ChunkCount)
	}
	if page.HasMore {
		fmt.Fprintf(stdout, "more: -cursor %s\n", page.NextCursor)
	}
	return nil
}

func cmdRead(ctx context.Context, c *client.Client, g globals, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	ownerStr := ownerFlag(fs)
	id := fs.Int64("id", 0, "diary id")
	legacy := fs.Bool("legacy", false, "strip every NUL byte from entries without a byte length")
	if err := fs.Parse(args); err != nil {
		return err
	}
	owner, err := diary.ParseOwner(*ownerStr)
	if err != nil {
		return err
	}

	tok := g.token
	if tok == "" {
		if tok, _, err = c.Authorize(ctx, owner, auth.ScopeDecrypt, 0); err != nil {
			return fmt.Errorf("decrypt authorization: %w", err)
		}
	}

	r := journal.NewReader(c, c)
	r.Legacy = *legacy
	text, err := r.Read(ctx, owner, *id, tok)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, text)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
