// Command pfqctl is a thin CLI client for pfqd's JSON control API,
// following the cmd/send and cmd/recv pattern of a small, single-purpose
// flag-driven binary rather than a general-purpose client library.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9990", "pfqd control surface address")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: pfqctl [-addr URL] <command> [json-body]\n\ncommands: open, enable, join_group, set_computation, group_stats\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := args[0]
	body := "{}"
	if len(args) > 1 {
		body = args[1]
	}

	var pretty map[string]any
	if err := json.Unmarshal([]byte(body), &pretty); err != nil {
		fmt.Fprintf(os.Stderr, "invalid JSON body: %v\n", err)
		os.Exit(2)
	}

	resp, err := http.Post(*addr+"/v1/"+cmd, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "%s: %s", resp.Status, out)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
