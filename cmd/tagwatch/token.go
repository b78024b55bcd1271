package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/HerbHall/tagwatch/internal/auth"
	"github.com/HerbHall/tagwatch/internal/config"
)

// runToken mints an access token signed with auth.secret:
//
//	tagwatch token -subject dashboard -scope read,control
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tagwatch token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file")
	subject := fs.String("subject", "cli", "token subject")
	scopes := fs.String("scope", auth.ScopeRead, "comma separated scopes: read, control")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitFailure
	}
	if *ttl > 0 {
		v.Set("auth.token_ttl", ttl.String())
	}
	tokens, err := tokenService(v)
	if err != nil {
		fmt.Fprintf(stderr, "invalid auth configuration: %v\n", err)
		return exitFailure
	}
	if tokens == nil {
		fmt.Fprintln(stderr, "auth.secret is not set; tokens are not required")
		return exitFailure
	}

	tok, err := tokens.IssueAccessToken(*subject, splitScopes(*scopes)...)
	if err != nil {
		fmt.Fprintf(stderr, "issue token: %v\n", err)
		return exitUsage
	}
	fmt.Fprintln(stdout, tok)
	fmt.Fprintf(stderr, "expires in %s\n", tokens.AccessTokenTTL().Round(time.Second))
	return exitOK
}

func splitScopes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
