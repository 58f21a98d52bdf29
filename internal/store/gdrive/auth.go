package gdrive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"synmigrate/internal/util"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "gdrive_credentials.json"
	tokenFile       = "gdrive_token.json"
)

func loadOAuthConfig(dir string) (*oauth2.Config, error) {
	b, err := os.ReadFile(filepath.Join(dir, credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("%s not found in %s: %w", credentialsFile, dir, err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return cfg, nil
}

// Authorize runs the OAuth consent flow on the terminal and stores the token
// in dir.
func Authorize(ctx context.Context, dir string, in io.Reader, out io.Writer) error {
	cfg, err := loadOAuthConfig(dir)
	if err != nil {
		return err
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintln(out, "Visit the URL for the auth dialog:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out)
	fmt.Fprint(out, "Enter the code here: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && code == "" {
		return fmt.Errorf("failed to read code: %w", err)
	}

	token, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("failed to exchange token: %w", err)
	}

	path, err := saveToken(dir, token)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Token saved to %s\n", path)
	return nil
}

func saveToken(dir string, token *oauth2.Token) (string, error) {
	path := filepath.Join(dir, tokenFile)
	b, err := json.Marshal(token)
	if err != nil {
		return "", err
	}

	if err := util.AtomicWrite(path, bytes.NewReader(b), 0600); err != nil {
		return "", fmt.Errorf("failed to save token: %w", err)
	}

	return path, nil
}

func loadToken(dir string) (*oauth2.Token, error) {
	b, err := os.ReadFile(filepath.Join(dir, tokenFile))
	if err != nil {
		return nil, fmt.Errorf("gdrive auth needed, run 'synmigrate auth gdrive' first: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(b, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return &token, nil
}

// NewService builds a Drive client from the credentials and token in dir,
// persisting the token again when it was refreshed.
func NewService(ctx context.Context, dir string) (*drive.Service, error) {
	cfg, err := loadOAuthConfig(dir)
	if err != nil {
		return nil, err
	}

	token, err := loadToken(dir)
	if err != nil {
		return nil, err
	}

	tokenSource := cfg.TokenSource(ctx, token)

	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if newToken.AccessToken != token.AccessToken {
		_, _ = saveToken(dir, newToken)
	}

	svc, err := drive.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create gdrive service: %w", err)
	}

	return svc, nil
}
