package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const usage = `assignctl drives a skillmatch server.

Usage:
  assignctl [flags] <command> [args]

Commands:
  recommend <work-item>            list ranked candidates
  assign <work-item>               auto-assign the best agent
  reassign <work-item> [reason]    move the work item to another agent
  complete <assignment> <hours>    complete an assignment
  cancel <assignment> [reason]     cancel an assignment
  sweep <org>                      assign every open work item in an org
  stats <agent>                    show agent statistics
  team <org>                       show team statistics

Flags:
`

type client struct {
	server string
	user   string
	roles  string
	http   *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:8080", "skillmatch server URL")
	user := flag.String("user", os.Getenv("USER"), "caller id sent as X-User-ID")
	roles := flag.String("roles", "", "comma separated roles sent as X-Roles")
	strategy := flag.String("strategy", "", "selection strategy (skill_match, workload_balance, performance, hybrid)")
	topN := flag.Int("top", 0, "number of recommendations")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}

	c := &client{server: *server, user: *user, roles: *roles, http: &http.Client{Timeout: 65 * time.Second}}
	cmd, id := args[0], url.PathEscape(args[1])
	reason := ""
	if len(args) > 2 {
		reason = args[2]
	}

	var err error
	switch cmd {
	case "recommend":
		q := url.Values{}
		if *strategy != "" {
			q.Set("strategy", *strategy)
		}
		if *topN > 0 {
			q.Set("top_n", fmt.Sprint(*topN))
		}
		err = c.do(http.MethodGet, "/api/work-items/"+id+"/recommendations?"+q.Encode(), nil)
	case "assign":
		err = c.do(http.MethodPost, "/api/work-items/"+id+"/auto-assign", map[string]string{"strategy": *strategy})
	case "reassign":
		err = c.do(http.MethodPost, "/api/work-items/"+id+"/reassign", map[string]string{"strategy": *strategy, "reason": reason})
	case "complete":
		var hours float64
		if _, perr := fmt.Sscanf(reason, "%g", &hours); perr != nil {
			printError("complete needs the actual hours spent")
			os.Exit(2)
		}
		err = c.do(http.MethodPost, "/api/assignments/"+id+"/complete", map[string]float64{"actual_hours": hours})
	case "cancel":
		err = c.do(http.MethodPost, "/api/assignments/"+id+"/cancel", map[string]string{"reason": reason})
	case "sweep":
		err = c.do(http.MethodPost, "/api/orgs/"+id+"/sweeps", map[string]string{"strategy": *strategy})
	case "stats":
		err = c.do(http.MethodGet, "/api/agents/"+id+"/statistics", nil)
	case "team":
		err = c.do(http.MethodGet, "/api/orgs/"+id+"/statistics", nil)
	default:
		printError("unknown command %q", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// do sends one request and pretty-prints the JSON response.
func (c *client) do(method, path string, body interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.server+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	if c.roles != "" {
		req.Header.Set("X-Roles", c.roles)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d %s): %s", resp.StatusCode, e.Kind, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(out.String())
	return nil
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
