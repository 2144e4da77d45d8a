//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/authsvc/apiserver/config"
	"github.com/authsvc/apiserver/internal/db"
	"github.com/authsvc/apiserver/internal/security"
	"github.com/authsvc/apiserver/internal/server"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
	apiPrefix  = "/api/v1"
)

var baseURL = fmt.Sprintf("http://localhost:%d%s/auth", serverPort, apiPrefix)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := setTestEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare env: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, fmt.Sprintf("http://localhost:%d/healthz", serverPort)); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestAccountLifecycle(t *testing.T) {
	email := fmt.Sprintf("user_%d@example.com", time.Now().UnixNano())
	password := "Abcdef1"

	status, body := postJSON(t, "/register", "", map[string]string{
		"first_name": "Alice",
		"last_name":  "Smith",
		"email":      email,
		"password":   password,
	})
	if status != http.StatusCreated {
		t.Fatalf("register status %d: %s", status, body)
	}

	status, body = postJSON(t, "/login", "", map[string]string{"email": email, "password": password})
	if status != http.StatusUnauthorized {
		t.Fatalf("login before activation: status %d: %s", status, body)
	}

	code, err := otpCode(email)
	if err != nil {
		t.Fatalf("read otp: %v", err)
	}
	status, body = postJSON(t, "/verify", "", map[string]string{"email": email, "otp_code": code})
	if status != http.StatusOK {
		t.Fatalf("verify status %d: %s", status, body)
	}

	status, body = postJSON(t, "/login", "", map[string]string{"email": email, "password": password})
	if status != http.StatusOK {
		t.Fatalf("login status %d: %s", status, body)
	}
	pair := decodePair(t, body)

	status, body = doRequest(t, http.MethodGet, "/profile", pair.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("profile status %d: %s", status, body)
	}
	var profile struct {
		Email    string `json:"email"`
		IsActive bool   `json:"is_active"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Email != email || !profile.IsActive {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	status, body = postJSON(t, "/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	if status != http.StatusOK {
		t.Fatalf("refresh status %d: %s", status, body)
	}
	rotated := decodePair(t, body)
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	status, _ = postJSON(t, "/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	if status != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: status %d", status)
	}

	status, body = doRequest(t, http.MethodGet, "/logout", rotated.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("logout status %d: %s", status, body)
	}
	status, _ = doRequest(t, http.MethodGet, "/profile", rotated.AccessToken, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("profile after logout: status %d", status)
	}
}

func TestWrongCodesDeleteAccount(t *testing.T) {
	email := fmt.Sprintf("user_%d@example.com", time.Now().UnixNano())

	status, body := postJSON(t, "/register", "", map[string]string{
		"first_name": "Bobby",
		"last_name":  "Jones",
		"email":      email,
		"password":   "Abcdef1",
	})
	if status != http.StatusCreated {
		t.Fatalf("register status %d: %s", status, body)
	}

	expected := []int{http.StatusForbidden, http.StatusForbidden, http.StatusGone}
	for i, want := range expected {
		status, body = postJSON(t, "/verify", "", map[string]string{"email": email, "otp_code": "wrong"})
		if status != want {
			t.Fatalf("attempt %d: status %d, want %d: %s", i+1, status, want, body)
		}
	}

	status, _ = postJSON(t, "/verify", "", map[string]string{"email": email, "otp_code": "wrong"})
	if status != http.StatusNotFound {
		t.Fatalf("verify after deletion: status %d", status)
	}
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func decodePair(t *testing.T, body []byte) tokenPair {
	t.Helper()
	var pair tokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("missing tokens in %s", body)
	}
	return pair
}

func postJSON(t *testing.T, path, token string, payload any) (int, []byte) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return doRequest(t, http.MethodPost, path, token, body)
}

func doRequest(t *testing.T, method, path, token string, body []byte) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, baseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, bytes.TrimSpace(data)
}

// otpCode reads the outstanding activation code straight from the database.
func otpCode(email string) (string, error) {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var code sql.NullString
	if err := conn.QueryRowContext(ctx, `SELECT otp_code FROM users WHERE email = $1`, email).Scan(&code); err != nil {
		return "", err
	}
	if !code.Valid {
		return "", fmt.Errorf("no outstanding code for %s", email)
	}
	return code.String, nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setTestEnv() error {
	privatePEM, publicPEM, err := security.GenerateRSAKeyPair(2048)
	if err != nil {
		return err
	}
	env := map[string]string{
		"JWT_PRIVATE_KEY":  string(privatePEM),
		"JWT_PUBLIC_KEY":   string(publicPEM),
		"SERVER_PORT":      fmt.Sprintf("%d", serverPort),
		"API_PREFIX":       apiPrefix,
		"BCRYPT_COST":      "4",
		"REGISTER_DELAY":   "0s",
		"DB_HOST":          "localhost",
		"DB_PORT":          "5432",
		"DB_USER":          "accounts",
		"DB_PASSWORD":      "accounts",
		"DB_NAME":          "accounts",
		"DB_USE_SSL":       "false",
		"MINIO_ACCESS_KEY": "minioadmin",
		"MINIO_SECRET_KEY": "minioadmin",
		"MINIO_BUCKET":     "accounts",
		"MQ_BACKEND":       "",
		"REDIS_ADDR":       "",
	}
	for key, value := range env {
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

func startServer(ctx context.Context) (*server.Server, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	srv, err := server.New(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}

