// ABOUTME: Credential commands: useradd stores a bcrypt user, token mints an HS256 bearer token
// ABOUTME: Both read the same config file as serve

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/asr-gateway/internal/auth"
	"github.com/2389/asr-gateway/internal/store"
)

var (
	userPassword string
	tokenTTL     time.Duration
)

func init() {
	useraddCmd.Flags().StringVarP(&userPassword, "password", "p", "", "password (prompted when empty)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
	rootCmd.AddCommand(useraddCmd, tokenCmd)
}

var useraddCmd = &cobra.Command{
	Use:   "useradd <username>",
	Short: "Add a client to the credential store",
	Args:  cobra.ExactArgs(1),
	RunE:  runUseradd,
}

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a bearer token signed with auth.jwt_secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func runUseradd(cmd *cobra.Command, args []string) error {
	username := strings.TrimSpace(args[0])
	if username == "" {
		return errors.New("username cannot be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("database is disabled in %s", cfgPath)
	}

	password := userPassword
	if password == "" {
		password, err = promptPassword(username)
		if err != nil {
			return err
		}
	}

	logger := setupLogger(cfg.Logging)
	db, err := openStore(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	if err := db.AddUser(cmd.Context(), username, password); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return fmt.Errorf("user %q already exists", username)
		}
		return fmt.Errorf("adding user: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Added user %s (%s)\n", username, cfg.Database.Driver)
	return nil
}

func promptPassword(username string) (string, error) {
	fmt.Printf("Password for %s: ", username)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set in %s", cfgPath)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(args[0], tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
