package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
)

// runReplayCmd fetches a stored decision trace from a running node, or
// with -verify re-runs it and prints the determinism report.
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "node address")
	verify := fs.Bool("verify", false, "re-run the decision and report determinism")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: ade-node replay [-addr URL] [-verify] <decision_id|replay_token>")
		return 2
	}
	ref := fs.Arg(0)

	client := &http.Client{Timeout: 30 * time.Second}
	var resp *http.Response
	var err error
	if *verify {
		url := fmt.Sprintf("%s/v1/replay/%s/verify", *addr, ref)
		resp, err = client.Post(url, "application/json", nil)
	} else {
		resp, err = client.Get(fmt.Sprintf("%s/v1/replay/%s", *addr, ref))
	}
	if err != nil {
		fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "read failed: %v\n", err)
		return 1
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "node returned %d: %s\n", resp.StatusCode, string(body))
		return 1
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Fprintln(stdout, string(body))
		return 0
	}
	fmt.Fprintln(stdout, pretty.String())

	if *verify {
		var report struct {
			Deterministic bool `json:"deterministic"`
		}
		if err := json.Unmarshal(body, &report); err == nil && !report.Deterministic {
			return 3
		}
	}
	return 0
}

// runHealthCmd checks a running node.
func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "node address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/v1/health")
	if err != nil {
		fmt.Fprintf(stderr, "node unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(stdout, string(body))
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
