// Package main provides a CLI tool for minting test bearer tokens shaped like
// the Genascope backend's. The gateway decodes tokens without verifying them,
// so these are only useful against a local or mock backend.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"genascope/internal/token"
)

const (
	devSigningKey = "genascope-dev-signing-key"

	defaultRegularTTL    = time.Hour
	defaultSimplifiedTTL = 2 * time.Hour
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in,omitempty"`
	Claims    map[string]any    `json:"claims"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	regularCmd := flag.NewFlagSet("regular", flag.ExitOnError)
	simplifiedCmd := flag.NewFlagSet("simplified", flag.ExitOnError)

	regularSubject := regularCmd.String("sub", "", "Subject (user ID). Generated if empty.")
	regularRole := regularCmd.String("role", string(token.RoleClinician), "Role claim")
	regularEmail := regularCmd.String("email", "clinician@example.com", "Email claim")
	regularName := regularCmd.String("name", "Dev Clinician", "Name claim")
	regularTTL := regularCmd.Duration("ttl", defaultRegularTTL, "Token time-to-live; 0 omits exp")
	regularJSON := regularCmd.Bool("json", false, "Output as JSON")

	simplifiedSubject := simplifiedCmd.String("sub", "", "Subject (patient ID). Generated if empty.")
	simplifiedInvite := simplifiedCmd.String("invite-id", "", "Invite ID claim. Generated if empty.")
	simplifiedName := simplifiedCmd.String("name", "Dev Patient", "Name claim")
	simplifiedStrategy := simplifiedCmd.String("chat-strategy-id", "", "Chat strategy ID claim (optional)")
	simplifiedTTL := simplifiedCmd.Duration("ttl", defaultSimplifiedTTL, "Token time-to-live; negative mints an expired token")
	simplifiedJSON := simplifiedCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "regular":
		regularCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		role := token.Role(*regularRole)
		if !role.Valid() {
			fmt.Fprintf(os.Stderr, "Unknown role: %s\n", *regularRole)
			os.Exit(1)
		}
		emit(token.Claims{
			Subject:    orGenerated(*regularSubject),
			Role:       role,
			AccessType: token.AccessRegular,
			Email:      *regularEmail,
			Name:       *regularName,
		}, *regularTTL, *regularJSON)
	case "simplified":
		simplifiedCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		emit(token.Claims{
			Subject:        orGenerated(*simplifiedSubject),
			Role:           token.RolePatient,
			AccessType:     token.AccessSimplified,
			Name:           *simplifiedName,
			InviteID:       orGenerated(*simplifiedInvite),
			ChatStrategyID: *simplifiedStrategy,
		}, *simplifiedTTL, *simplifiedJSON)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Mint test bearer tokens for the Genascope gateway

WARNING: Tokens are signed with a dev key. Only use them against a local or
         mock backend.

Usage:
  tokengen <command> [flags]

Commands:
  regular      Mint a staff token (clinician, physician, admin, super_admin)
  simplified   Mint a time-boxed patient invite token

Examples:
  # Admin token valid for one hour
  tokengen regular -role admin

  # Token without an exp claim (treated as non-expiring)
  tokengen regular -ttl 0

  # Already expired invite session, to exercise the expired notice
  tokengen simplified -ttl -1m

  # Output as JSON
  tokengen simplified -json

Use "tokengen <command> -h" for more information about a command.`)
}

func emit(claims token.Claims, ttl time.Duration, jsonOutput bool) {
	key := []byte(devSigningKey)
	var (
		raw string
		err error
	)
	if ttl == 0 {
		raw, err = token.Mint(claims, key)
	} else {
		raw, err = token.MintFor(claims, key, time.Now(), ttl)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	expiresIn := ""
	if ttl != 0 {
		expiresIn = ttl.String()
	}

	if jsonOutput {
		printJSON(tokenOutput{
			Token:     raw,
			Type:      string(claims.AccessType),
			ExpiresIn: expiresIn,
			Claims: map[string]any{
				"sub":         claims.Subject,
				"role":        claims.Role,
				"access_type": claims.AccessType,
				"invite_id":   claims.InviteID,
			},
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		})
		return
	}

	fmt.Printf("%s token\n", claims.AccessType)
	fmt.Println("==============")
	fmt.Printf("Subject:     %s\n", claims.Subject)
	fmt.Printf("Role:        %s\n", claims.Role)
	if claims.InviteID != "" {
		fmt.Printf("Invite ID:   %s\n", claims.InviteID)
	}
	if expiresIn == "" {
		fmt.Println("Expires In:  never (no exp claim)")
	} else {
		fmt.Printf("Expires In:  %s\n", expiresIn)
	}
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(raw)
}

func orGenerated(v string) string {
	if v == "" {
		return uuid.NewString()
	}
	return v
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
