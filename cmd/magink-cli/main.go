package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"magink/cmd/internal/passphrase"
	"magink/crypto"
	"magink/rpc/middleware"
)

const (
	rpcURLEnv     = "MAGINK_RPC_URL"
	tokenEnv      = "MAGINK_TOKEN"
	jwtSecretEnv  = "MAGINK_JWT_SECRET"
	jwtIssuerEnv  = "MAGINK_JWT_ISSUER"
	keystorePass  = "MAGINK_KEYSTORE_PASS"
	defaultRPCURL = "http://localhost:8080"
)

type env struct {
	stdout    io.Writer
	stderr    io.Writer
	lookupEnv func(string) (string, bool)
	passwords func(label string) (string, error)
}

func (e env) get(key, fallback string) string {
	if value, ok := e.lookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func main() {
	e := env{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		lookupEnv: os.LookupEnv,
		passwords: func(label string) (string, error) {
			return passphrase.NewSource(keystorePass, label).Get()
		},
	}
	os.Exit(run(context.Background(), os.Args[1:], e))
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: magink-cli <command> [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Keys:")
	fmt.Fprintln(w, "  keygen <keystore> [hexkey]        Create a keystore (or import a key) and print its address")
	fmt.Fprintln(w, "  token <keystore> [ttl]            Sign an RPC token for the keystore account")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Caller commands (need "+tokenEnv+"):")
	fmt.Fprintln(w, "  start <era>                       Start or restart the claim era (0-255 blocks)")
	fmt.Fprintln(w, "  claim                             Claim a badge")
	fmt.Fprintln(w, "  mint [--dry-run]                  Mint the Wizard NFT")
	fmt.Fprintln(w, "  remaining                         Blocks left in the current era")
	fmt.Fprintln(w, "  badges                            Badges claimed")
	fmt.Fprintln(w, "  profile                           Full account profile")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Queries:")
	fmt.Fprintln(w, "  remaining-for <address>")
	fmt.Fprintln(w, "  badges-for <address>")
	fmt.Fprintln(w, "  profile-for <address>")
	fmt.Fprintln(w, "  minted <address>                  Whether the account minted its Wizard")
	fmt.Fprintln(w, "  next-id                           Next Wizard token id")
	fmt.Fprintln(w, "  image                             Wizard token image")
	fmt.Fprintln(w, "  owner-of <tokenId>                Owner of a Wizard token")
	fmt.Fprintln(w, "  height                            Current block height")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "The RPC endpoint defaults to "+defaultRPCURL+" and can be set with "+rpcURLEnv+".")
}

func run(ctx context.Context, args []string, e env) int {
	if len(args) < 1 {
		printUsage(e.stderr)
		return 2
	}
	command, rest := args[0], args[1:]
	switch command {
	case "keygen":
		return runKeygen(rest, e)
	case "token":
		return runToken(rest, e)
	case "help", "-h", "--help":
		printUsage(e.stdout)
		return 0
	}

	cli := newClient(e.get(rpcURLEnv, defaultRPCURL), e.get(tokenEnv, ""))
	method, params, err := rpcCall(command, rest)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		printUsage(e.stderr)
		return 2
	}
	var result json.RawMessage
	if err := cli.call(ctx, method, &result, params...); err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	return printResult(e.stdout, result)
}

// rpcCall maps a CLI command onto its JSON-RPC method and params.
func rpcCall(command string, args []string) (string, []interface{}, error) {
	needArg := func(name string) (string, error) {
		if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
			return "", fmt.Errorf("%s requires <%s>", command, name)
		}
		return strings.TrimSpace(args[0]), nil
	}
	switch command {
	case "start":
		raw, err := needArg("era")
		if err != nil {
			return "", nil, err
		}
		era, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return "", nil, fmt.Errorf("invalid era %q", raw)
		}
		return "magink_start", []interface{}{map[string]uint64{"era": era}}, nil
	case "claim":
		return "magink_claim", nil, nil
	case "mint":
		if len(args) > 0 && args[0] == "--dry-run" {
			return "magink_mintWizard", []interface{}{map[string]bool{"dryRun": true}}, nil
		}
		return "magink_mintWizard", nil, nil
	case "remaining":
		return "magink_getRemaining", nil, nil
	case "badges":
		return "magink_getBadges", nil, nil
	case "profile":
		return "magink_getProfile", nil, nil
	case "next-id":
		return "magink_getNextId", nil, nil
	case "image":
		return "magink_getTokenImage", nil, nil
	case "height":
		return "chain_blockNumber", nil, nil
	case "remaining-for", "badges-for", "profile-for", "minted":
		addr, err := needArg("address")
		if err != nil {
			return "", nil, err
		}
		if _, err := crypto.ParseAddress(addr); err != nil {
			return "", nil, fmt.Errorf("invalid address %q: %w", addr, err)
		}
		method := map[string]string{
			"remaining-for": "magink_getRemainingFor",
			"badges-for":    "magink_getBadgesFor",
			"profile-for":   "magink_getAccountProfile",
			"minted":        "magink_getIsAlreadyMinted",
		}[command]
		return method, []interface{}{addr}, nil
	case "owner-of":
		id, err := needArg("tokenId")
		if err != nil {
			return "", nil, err
		}
		return "wizard_ownerOf", []interface{}{id}, nil
	default:
		return "", nil, fmt.Errorf("unknown command %q", command)
	}
}

func printResult(w io.Writer, result json.RawMessage) int {
	var value interface{}
	if err := json.Unmarshal(result, &value); err != nil {
		fmt.Fprintln(w, string(result))
		return 0
	}
	switch v := value.(type) {
	case map[string]interface{}, []interface{}:
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(pretty))
	case nil:
		fmt.Fprintln(w, "ok")
	default:
		fmt.Fprintln(w, v)
	}
	return 0
}

func runKeygen(args []string, e env) int {
	if len(args) < 1 {
		fmt.Fprintln(e.stderr, "Error: keygen requires <keystore>")
		return 2
	}
	path := args[0]
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(e.stderr, "Error: %s already exists\n", path)
		return 1
	}
	pass, err := e.passwords("new keystore")
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	var key *crypto.PrivateKey
	if len(args) > 1 {
		key, err = crypto.PrivateKeyFromHex(args[1])
	} else {
		key, err = crypto.GeneratePrivateKey()
	}
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(e.stdout, key.PubKey().Address().String())
	return 0
}

func runToken(args []string, e env) int {
	if len(args) < 1 {
		fmt.Fprintln(e.stderr, "Error: token requires <keystore>")
		return 2
	}
	ttl := time.Hour
	if len(args) > 1 {
		parsed, err := time.ParseDuration(args[1])
		if err != nil || parsed <= 0 {
			fmt.Fprintf(e.stderr, "Error: invalid ttl %q\n", args[1])
			return 2
		}
		ttl = parsed
	}
	secret := e.get(jwtSecretEnv, "")
	if secret == "" {
		fmt.Fprintf(e.stderr, "Error: %s must be set\n", jwtSecretEnv)
		return 1
	}
	pass, err := e.passwords("keystore")
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.LoadFromKeystore(args[0], pass)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	token, err := middleware.SignToken(secret, e.get(jwtIssuerEnv, "magink"), key.PubKey().Address(), ttl)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(e.stdout, token)
	return 0
}
