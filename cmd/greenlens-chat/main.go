// greenlens-chat sends one chat message to a greenlens server and prints the
// reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/logx"
	"github.com/m-lab/go/pretty"
	"github.com/m-lab/go/rtx"

	"github.com/greenlens/greenlens/api/client"
	v1 "github.com/greenlens/greenlens/api/v1"
)

var (
	server    = flagx.MustNewURL("http://localhost:5000/")
	tokenFile flagx.FileBytes
	token     string
	message   string
	scores    = flagx.KeyValue{}
	timeout   time.Duration
	logFatalf = log.Fatalf
)

func init() {
	setupFlags()
}

func setupFlags() {
	flag.Var(&server, "server-url", "Base URL of the greenlens server")
	flag.Var(&tokenFile, "token-file", "File containing the bearer token")
	flag.StringVar(&token, "token", "", "Bearer token; overrides -token-file")
	flag.StringVar(&message, "message", "", "Message to send")
	flag.Var(&scores, "scores", "Scores attached to the message, e.g. carbon=40,water=72")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "Complete the request within timeout")
}

// parseScores converts key=value flags into Scores. Numeric values are sent
// as numbers.
func parseScores(kv map[string]string) (*v1.Scores, error) {
	if len(kv) == 0 {
		return nil, nil
	}
	s := &v1.Scores{}
	for k, raw := range kv {
		var v interface{} = raw
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			v = f
		}
		switch strings.ToLower(k) {
		case "composite":
			s.Composite = v
		case "carbon":
			s.Carbon = v
		case "water":
			s.Water = v
		case "energy":
			s.Energy = v
		case "waste":
			s.Waste = v
		case "lifestyle":
			s.Lifestyle = v
		default:
			return nil, fmt.Errorf("unknown score %q", k)
		}
	}
	return s, nil
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnvWithLog(flag.CommandLine, false), "Failed to read args from env")

	tok := token
	if tok == "" {
		tok = strings.TrimSpace(string(tokenFile))
	}
	if message == "" {
		logFatalf("ERROR: -message is required")
		return
	}
	s, err := parseScores(scores.Get())
	if err != nil {
		logFatalf("ERROR: %v", err)
		return
	}

	c := client.NewClient("greenlens-chat/1.0", tok)
	c.BaseURL = server.URL
	c.Timeout = timeout

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logx.Debug.Println("Issue request to:", server.URL, pretty.Sprint(s))
	reply, err := c.Chat(ctx, message, s)
	if err != nil {
		logFatalf("ERROR: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, reply)
}
