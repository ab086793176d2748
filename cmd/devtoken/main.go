// Command devtoken mints HS256 access tokens for local testing of the
// REST and websocket surfaces.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/iliyamo/live-auction/internal/model"
	"github.com/iliyamo/live-auction/internal/utils"
)

func main() {
	var (
		id     model.Identity
		secret string
		ttl    time.Duration
	)
	flag.Uint64Var(&id.UserID, "user", 10, "user id (token subject)")
	flag.Uint64Var(&id.TenantID, "tenant", 1, "tenant id")
	flag.StringVar(&id.Role, "role", model.RoleBidder, "SUPER_ADMIN, ADMIN, MANAGER or BIDDER")
	flag.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret (default $JWT_SECRET)")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flag.Parse()

	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: -secret or JWT_SECRET is required")
		os.Exit(2)
	}
	if !model.IsKnownRole(id.Role) {
		fmt.Fprintf(os.Stderr, "Error: unknown role %q\n", id.Role)
		os.Exit(2)
	}
	tok, err := utils.NewAccessToken(secret, id, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
