// Command actortoken issues a signed actor token for calling the API as a
// given executor.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/auth"
	"github.com/tallybook/tallybook/internal/config"
)

func main() {
	actor := flag.String("actor", "", "actor UUID (random when empty)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}

	id := uuid.New()
	if *actor != "" {
		id, err = uuid.Parse(*actor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse actor: %v\n", err)
			os.Exit(1)
		}
	}

	token, err := auth.SignActorToken(id, cfg.JWTSecret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
