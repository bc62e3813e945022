// Command dunehd-token mints an access token for the admin API and the
// hub socket. JWT_SECRET and JWT_TOKEN_EXPIRY_SEC come from the usual
// configuration sources.
//
// Usage:
//
//	dunehd-token -sub remote-two -name "Living Room Remote"
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/strefethen/dunehd-driver-go/internal/auth"
	"github.com/strefethen/dunehd-driver-go/internal/config"
)

func main() {
	sub := flag.String("sub", "admin", "token subject")
	name := flag.String("name", "dunehd-token", "client name stored in the token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if !cfg.AuthEnabled() {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set; auth is disabled")
		os.Exit(1)
	}

	token, err := auth.GenerateToken(cfg, auth.TokenPayload{Sub: *sub, ClientName: *name})
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
