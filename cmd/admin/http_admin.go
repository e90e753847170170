package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"lifegrid.ai/internal/session"
)

// serverState mirrors the server's /admin/v1/state body.
type serverState struct {
	Document string         `json:"document"`
	Viewer   string         `json:"viewer"`
	Status   session.Status `json:"status"`
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	raw := fs.Bool("json", false, "print the response body as is")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, body, err := fetchState(ctx, http.DefaultClient, *baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	if *raw {
		fmt.Println(strings.TrimSpace(string(body)))
		return
	}
	for _, line := range formatState(st) {
		fmt.Println(line)
	}
}

func fetchState(ctx context.Context, cl *http.Client, baseURL string) (serverState, []byte, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/state"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return serverState{}, nil, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return serverState{}, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return serverState{}, nil, err
	}
	if resp.StatusCode/100 != 2 {
		return serverState{}, body, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var st serverState
	if err := json.Unmarshal(body, &st); err != nil {
		return serverState{}, body, fmt.Errorf("decode state: %w", err)
	}
	return st, body, nil
}

func formatState(st serverState) []string {
	s := st.Status
	play := "stopped"
	if s.Playing {
		play = "playing"
	}
	return []string{
		fmt.Sprintf("document    %s", st.Document),
		fmt.Sprintf("viewer      %s", st.Viewer),
		fmt.Sprintf("grid        %dx%d rule %s (%s)", s.Rows, s.Cols, s.Rule, play),
		fmt.Sprintf("generation  %d digest %s", s.Generation, s.Digest),
		fmt.Sprintf("live        %d pending %d", s.Live, s.Pending),
		fmt.Sprintf("observers   %d", s.Observers),
		fmt.Sprintf("commits     %d failed %d inbound %d", s.Commits, s.CommitFailures, s.Inbound),
	}
}
