// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/jeranaias/parley-tui/internal/config"
)

// loginTimeout bounds the login round trip.
const loginTimeout = 30 * time.Second

// HandleLogin prompts for credentials, exchanges them for a token, and
// stores the token in the encrypted vault.
func HandleLogin(args Args) error {
	if !IsStdinTTY() {
		return fmt.Errorf("login requires an interactive terminal")
	}

	cfg := config.Global()
	client, vault, err := newClient(cfg)
	if err != nil {
		return err
	}

	if vault.HasToken() && !args.Quiet {
		fmt.Println(warningStyle.Render("[!]") + " already signed in, the stored token will be replaced")
	}

	email, password, err := promptCredentials()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	resp, err := client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := vault.SaveToken(resp.Token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	if !args.Quiet {
		fmt.Println(valueStyle.Render("[OK]") + " signed in as " + email)
		if !resp.ExpiresAt.IsZero() {
			fmt.Println(mutedStyle.Render("    session expires " + resp.ExpiresAt.Local().Format("Jan 2 2006 15:04")))
		}
	}
	return nil
}

// HandleLogout revokes the session server-side and deletes the stored
// token. The local delete happens even when the revoke call fails, so a
// dead backend cannot pin a stale token on disk.
func HandleLogout(args Args) error {
	cfg := config.Global()
	client, vault, err := newClient(cfg)
	if err != nil {
		return err
	}

	if !vault.HasToken() {
		if !args.Quiet {
			fmt.Println(mutedStyle.Render("not signed in"))
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	if err := client.Logout(ctx); err != nil && !args.Quiet {
		fmt.Fprintln(os.Stderr, warningStyle.Render("[!]")+" server-side logout failed: "+err.Error())
	}

	if err := vault.DeleteToken(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	if !args.Quiet {
		fmt.Println(valueStyle.Render("[OK]") + " signed out")
	}
	return nil
}

// promptCredentials reads the email normally and the password with echo
// disabled.
func promptCredentials() (email, password string, err error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print(promptStyle.Render("email: "))
	email, err = reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("failed to read email: %w", err)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", fmt.Errorf("email is required")
	}

	fmt.Print(promptStyle.Render("password: "))
	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(passBytes) == 0 {
		return "", "", fmt.Errorf("password is required")
	}

	return email, string(passBytes), nil
}
