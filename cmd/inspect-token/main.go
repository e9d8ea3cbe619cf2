// inspect-token prints how a greenlens server in fallback mode would treat a
// bearer token, together with its unverified claims. The token is read from
// the first argument, or from stdin when no argument is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/m-lab/go/pretty"
	"github.com/m-lab/go/rtx"
	log "github.com/sirupsen/logrus"

	"github.com/greenlens/greenlens/auth/gate"
	"github.com/greenlens/greenlens/auth/jwtverifier"
)

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	now              = time.Now
)

// inspect writes the fallback decision and the decoded claims of token to w.
func inspect(w io.Writer, token string) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	_, rej := gate.NewFallbackStrategy(now).Authenticate(context.Background(), token)
	if rej != nil {
		fmt.Fprintf(w, "decision: rejected (%s)\n", rej.Reason)
		if rej.Details != "" {
			fmt.Fprintf(w, "details: %s\n", rej.Details)
		}
	} else {
		fmt.Fprintln(w, "decision: admitted (signature NOT verified)")
	}
	claims, err := jwtverifier.DecodeUnverified(token)
	if err != nil {
		return
	}
	if exp, ok := claims["exp"].(float64); ok {
		fmt.Fprintf(w, "expires: %s\n", time.Unix(int64(exp), 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "claims: %s\n", pretty.Sprint(claims))
}

func main() {
	flag.Parse()
	// The fallback strategy warns on every use.
	log.SetLevel(log.ErrorLevel)

	var token string
	if flag.NArg() > 0 {
		token = flag.Arg(0)
	} else {
		b, err := io.ReadAll(stdin)
		rtx.Must(err, "Failed to read token from stdin")
		token = string(b)
	}
	inspect(stdout, token)
}
