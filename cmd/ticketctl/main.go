package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ticketsale/cmd/internal/passphrase"
	"ticketsale/config"
	"ticketsale/crypto"
	"ticketsale/rpc"
)

const (
	keygenCommand  = "keygen"
	tokenCommand   = "token"
	addressCommand = "address"
	defaultConfig  = "./config.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:])
	case tokenCommand:
		err = runToken(os.Args[2:])
	case addressCommand:
		err = runAddress(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintf(os.Stderr, "  %s   generate an account key, optionally writing it to a keystore\n", keygenCommand)
	fmt.Fprintf(os.Stderr, "  %s    mint an RPC bearer token for an account\n", tokenCommand)
	fmt.Fprintf(os.Stderr, "  %s  normalise an address to its tkt1 form\n", addressCommand)
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ExitOnError)
	keystorePath := fs.String("keystore", "", "Write the key to this keystore file instead of printing it")
	passEnv := fs.String("pass-env", crypto.OwnerPassphraseEnv, "Environment variable containing the keystore passphrase")
	fs.Parse(args)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	addr := key.PubKey().Address()

	if path := strings.TrimSpace(*keystorePath); path != "" {
		pass, err := passphrase.NewSource(*passEnv).Get()
		if err != nil {
			return err
		}
		if err := crypto.SaveToKeystore(path, key, pass); err != nil {
			return fmt.Errorf("write keystore: %w", err)
		}
		fmt.Printf("address: %s\nkeystore: %s\n", addr.String(), path)
		return nil
	}
	fmt.Printf("address: %s\nhex: 0x%s\nprivate key: %s\n", addr.String(), hex.EncodeToString(addr.Bytes()), hex.EncodeToString(key.Bytes()))
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the ticketd config file")
	subject := fs.String("sub", "", "Account the token authenticates (tkt1... or 0x...)")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	fs.Parse(args)

	if strings.TrimSpace(*subject) == "" {
		return fmt.Errorf("-sub is required")
	}
	account, err := crypto.ParseAccount(*subject)
	if err != nil {
		return fmt.Errorf("invalid subject: %w", err)
	}
	cfg, err := config.Load(*configPath, config.WithPassphraseSource(passphrase.NewSource(crypto.OwnerPassphraseEnv).Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secret, ok := os.LookupEnv(cfg.RPC.JWTSecretEnv)
	if !ok || strings.TrimSpace(secret) == "" {
		return fmt.Errorf("environment variable %s is not set", cfg.RPC.JWTSecretEnv)
	}
	token, err := rpc.IssueToken(rpc.AuthConfig{
		HMACSecret: secret,
		Issuer:     cfg.RPC.Issuer,
		Audience:   cfg.RPC.Audience,
	}, account, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet(addressCommand, flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one address")
	}
	account, err := crypto.ParseAccount(fs.Arg(0))
	if err != nil {
		return err
	}
	addr := crypto.FromRaw(account)
	fmt.Printf("%s\n0x%s\n", addr.String(), hex.EncodeToString(addr.Bytes()))
	return nil
}
