// Command memgate-cli is a command-line client for the memgate trust gate.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ---- config/key store ----

type keyFile struct {
	Server   string    `json:"server"`
	User     string    `json:"user"`
	DeviceID string    `json:"device_id"`
	APIKey   string    `json:"api_key"`
	IssuedAt time.Time `json:"issued_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "memgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "memgate")
}

func keyPath() string { return filepath.Join(cfgDir(), "key.json") }

func saveKey(k keyFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(keyPath(), append(b, '\n'), 0o600)
}

func loadKey() (keyFile, error) {
	var k keyFile
	b, err := os.ReadFile(keyPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return k, errors.New("no saved key (login required)")
		}
		return k, err
	}
	if err := json.Unmarshal(b, &k); err != nil {
		return k, err
	}
	if k.APIKey == "" {
		return k, errors.New("no saved key (login required)")
	}
	return k, nil
}

func forgetKey() error {
	err := os.Remove(keyPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ---- http transport ----

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // explicit -insecure for dev servers
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func dial(addr, caPath string, insecure bool, key string) (*client, error) {
	tc, err := loadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tc
	return newClient(addr, key, &http.Client{Transport: tr, Timeout: 30 * time.Second}), nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `memgate-cli
Usage:
  memgate-cli -addr URL [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  register   -u <user> -p <passphrase> [-email e] [-name n]
  login      [-u <user>] -p <passphrase> [-device-type t] [-device-name n]   (saves key)
  logout                                            (revokes and forgets key)
  whoami
  devices
  revoke     -device <id>
  baseline   -file <samples, blank-line separated | '-'>
  verify     -file <sample | '-'>
  reset      -u <user> -new <passphrase> [-token <recovery token>]

The passphrase may also be given via MEMGATE_PASSPHRASE.
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the configured server.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "version" {
		fmt.Printf("memgate-cli %s (%s)\n", version, buildDate)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var key string
	if needsKey(cmd) {
		k, err := loadKey()
		if err != nil {
			fail(err)
		}
		key = k.APIKey
	}
	c, err := dial(*addr, *caPath, *insecure, key)
	if err != nil {
		fail(err)
	}

	if err := run(ctx, c, cmd, args, os.Stdout); err != nil {
		if errors.Is(err, errUnknownCommand) {
			usage()
		}
		fail(err)
	}
}

func needsKey(cmd string) bool {
	switch cmd {
	case "logout", "whoami", "devices", "revoke", "baseline":
		return true
	}
	return false
}

// ---- helpers ----

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "server error: status=%d %s\n", ae.Status, ae.Error())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
