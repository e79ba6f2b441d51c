package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	ddns "github.com/Travis-Britz/cloudflare-ddns"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cloudflare-ddns.json"
	}
	return filepath.Join(home, ".cloudflare-ddns.json")
}

// runSetup interactively creates a config file for a single site at path.
// The credentials are checked against the API before anything is written.
func runSetup(ctx context.Context, path, apiURL string, logger logrus.FieldLogger) error {
	if path == "" {
		path = defaultConfigPath()
	}
	logger.Println("running setup")

	readKey := func() (string, error) {
		key, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		return string(key), err
	}
	site, err := promptSite(bufio.NewReader(os.Stdin), os.Stdout, readKey)
	if err != nil {
		return fmt.Errorf("runSetup: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	logger.Println("verifying credentials...")
	if err := ddns.VerifyCredentials(ctx, apiURL, site.Email, site.APIKey, nil); err != nil {
		return fmt.Errorf("runSetup: %w", err)
	}
	logger.Println("credentials verified successfully")

	logger.Printf("creating config file at %q", path)
	if err := writeConfigFile(path, fileConfig{Config: []fileSite{site}}); err != nil {
		return fmt.Errorf("runSetup: %w", err)
	}
	logger.Printf("config written to %q", path)
	return nil
}

// promptSite asks for each field of a site on w, reading answers from r.
// The API key is read with readKey so that it isn't echoed.
func promptSite(r *bufio.Reader, w io.Writer, readKey func() (string, error)) (fileSite, error) {
	ask := func(prompt string) (string, error) {
		fmt.Fprintf(w, "%s: ", prompt)
		line, err := r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("error reading %s: %w", strings.ToLower(prompt), err)
		}
		return strings.TrimSpace(line), nil
	}

	var site fileSite
	var err error
	if site.Email, err = ask("Cloudflare account email"); err != nil {
		return site, err
	}
	fmt.Fprint(w, "Cloudflare global API key: ")
	if site.APIKey, err = readKey(); err != nil {
		return site, fmt.Errorf("error reading API key: %w", err)
	}
	site.APIKey = strings.TrimSpace(site.APIKey)
	if site.Zone, err = ask("Zone (e.g. example.com)"); err != nil {
		return site, err
	}
	if site.Domain, err = ask("Record to manage (e.g. home.example.com)"); err != nil {
		return site, err
	}

	s := fileConfig{Config: []fileSite{site}}.toConfig().Sites[0]
	if err := s.Validate(); err != nil {
		return site, err
	}
	return site, nil
}

// writeConfigFile writes fc to a new file at path, readable only by its owner.
// An existing file is never overwritten.
func writeConfigFile(path string, fc fileConfig) error {
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("unable to write %q: %w", path, err)
	}
	return f.Close()
}
