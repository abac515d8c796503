package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/and161185/memgate/internal/crypto"
)

var errUnknownCommand = errors.New("unknown command")

func run(ctx context.Context, c *client, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "register":
		return cmdRegister(ctx, c, args, out)
	case "login":
		return cmdLogin(ctx, c, args, out)
	case "logout":
		return cmdLogout(ctx, c, out)
	case "whoami":
		var me map[string]string
		if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &me); err != nil {
			return err
		}
		printJSON(out, me)
		return nil
	case "devices":
		return cmdDevices(ctx, c, out)
	case "revoke":
		return cmdRevoke(ctx, c, args, out)
	case "baseline":
		return cmdBaseline(ctx, c, args, out)
	case "verify":
		return cmdVerify(ctx, c, args, out)
	case "reset":
		return cmdReset(ctx, c, args, out)
	}
	return errUnknownCommand
}

func passphraseFlag(fs *flag.FlagSet, name, usage string) *string {
	return fs.String(name, os.Getenv("MEMGATE_PASSPHRASE"), usage)
}

func cmdRegister(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	u := fs.String("u", "", "user id")
	p := passphraseFlag(fs, "p", "passphrase")
	email := fs.String("email", "", "email")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" || *p == "" {
		return errors.New("need -u and -p")
	}
	var resp struct {
		UserID string `json:"user_id"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/register", map[string]string{
		"user_id": *u, "passphrase": *p, "email": *email, "display_name": *name,
	}, &resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp.UserID)
	return nil
}

func cmdLogin(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	u := fs.String("u", "", "user id (server default when empty)")
	p := passphraseFlag(fs, "p", "passphrase")
	typ := fs.String("device-type", "cli", "device type")
	host, _ := os.Hostname()
	name := fs.String("device-name", host, "device name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *p == "" {
		return errors.New("need -p or MEMGATE_PASSPHRASE")
	}
	cred, err := c.login(ctx, *u, *p, device{Type: *typ, Name: *name})
	if err != nil {
		return err
	}
	if err := saveKey(keyFile{
		Server:   c.base,
		User:     cred.User,
		DeviceID: cred.DeviceID,
		APIKey:   cred.APIKey,
		IssuedAt: cred.IssuedAt,
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "ok user=%s device=%s key=%s\n", cred.User, cred.DeviceID, crypto.Redact(cred.APIKey))
	return nil
}

func cmdLogout(ctx context.Context, c *client, out io.Writer) error {
	k, err := loadKey()
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, "/auth/revoke", map[string]string{"device_id": k.DeviceID}, nil); err != nil {
		return err
	}
	if err := forgetKey(); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func cmdDevices(ctx context.Context, c *client, out io.Writer) error {
	list, err := c.devices(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tTYPE\tNAME\tISSUED\tLAST USED")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.DeviceID, d.Type, d.Name,
			d.IssuedAt.UTC().Format(time.RFC3339), d.LastUsed.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func cmdRevoke(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	id := fs.String("device", "", "device id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("need -device")
	}
	if err := c.do(ctx, http.MethodPost, "/auth/revoke", map[string]string{"device_id": *id}, nil); err != nil {
		return err
	}
	fmt.Fprintln(out, "revoked", *id)
	return nil
}

// splitSamples separates samples on blank lines.
func splitSamples(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, s := range strings.Split(text, "\n\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cmdBaseline(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("baseline", flag.ContinueOnError)
	file := fs.String("file", "", "samples file ('-'=stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("need -file")
	}
	b, err := readAll(*file)
	if err != nil {
		return err
	}
	var resp struct {
		SampleCount int `json:"sample_count"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/stylometry/baseline",
		map[string][]string{"samples": splitSamples(string(b))}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(out, "ok samples=%d\n", resp.SampleCount)
	return nil
}

func cmdVerify(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	file := fs.String("file", "", "sample file ('-'=stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("need -file")
	}
	b, err := readAll(*file)
	if err != nil {
		return err
	}
	res, err := c.verify(ctx, strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	printJSON(out, res)
	if !res.Verified {
		return fmt.Errorf("not recognized (confidence %.2f)", res.Confidence)
	}
	return nil
}

func cmdReset(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	u := fs.String("u", "", "user id")
	np := fs.String("new", "", "new passphrase")
	token := fs.String("token", "", "recovery token from verify")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" || *np == "" {
		return errors.New("need -u and -new")
	}
	if *token == "" && c.key == "" {
		if k, err := loadKey(); err == nil {
			c.key = k.APIKey
		}
	}
	if err := c.do(ctx, http.MethodPost, "/auth/reset-passphrase", map[string]string{
		"userId": *u, "newPassphrase": *np, "recoveryToken": *token,
	}, nil); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}
