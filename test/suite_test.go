//go:build integration_test || all_tests

package test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"testing"
	"time"

	"github.com/2beens/sitegate/internal"
	"github.com/2beens/sitegate/internal/config"
	"github.com/2beens/sitegate/internal/db"

	_ "github.com/lib/pq"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

const (
	serverPort = 9000
	serverHost = "127.0.0.1"
	dbName     = "personal_site"
)

var serverEndpoint = fmt.Sprintf("http://%s:%d", serverHost, serverPort)

var (
	testUsername = "testuser"
	testPassword = "testpass"
)

// IntegrationTestSuite runs the whole service against real postgres and redis containers.
type IntegrationTestSuite struct {
	suite.Suite

	DB         *sql.DB
	dockerPool *dockertest.Pool
	server     *internal.Server
	teardown   []func()
}

func TestIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	var err error
	s.dockerPool, err = dockertest.NewPool("")
	s.Require().NoError(err, "dockertest pool")
	s.Require().NoError(s.dockerPool.Client.Ping(), "docker daemon not reachable")

	redisPort, err := s.redisSetup()
	s.failSetup(err, "redis")
	pgPort, err := s.postgresSetup()
	s.failSetup(err, "postgres")

	cfg, err := getTestConfig(redisPort, pgPort)
	s.failSetup(err, "config")

	s.server, err = internal.NewServer(ctx, internal.NewServerParams{
		Config:      cfg,
		VersionInfo: "integration",
		// no smtp server around, emails end up failed
		SMTPLookuper: envconfig.MapLookuper(map[string]string{}),
	})
	s.failSetup(err, "new server")

	s.server.Serve(ctx, cfg.Host, cfg.Port)
	s.failSetup(waitForServer(), "server not up")
}

func (s *IntegrationTestSuite) failSetup(err error, what string) {
	if err == nil {
		return
	}
	s.cleanup()
	s.T().Fatalf("suite setup, %s: %s", what, err)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	s.cleanup()
}

func (s *IntegrationTestSuite) cleanup() {
	if s.server != nil {
		s.server.GracefulShutdown()
		s.server = nil
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.T().Logf("close db: %s", err)
		}
		s.DB = nil
	}
	// containers last, the server holds connections to them
	for i := len(s.teardown) - 1; i >= 0; i-- {
		s.teardown[i]()
	}
	s.teardown = nil
}

// newBrowser returns a client that keeps cookies and does not follow redirects.
func (s *IntegrationTestSuite) newBrowser() *http.Client {
	jar, err := cookiejar.New(nil)
	s.Require().NoError(err)
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func getTestConfig(redisPort, postgresPort string) (*config.Config, error) {
	return config.Parse("development", fmt.Sprintf(`
[development]
host = %q
port = %d
prometheus_metrics_port = "9002"
log_level = "debug"
postgres_host = "localhost"
postgres_port = %q
postgres_db_name = %q
redis_host = "localhost"
redis_port = %q
bcrypt_cost = 4

[development.session]
backend = "redis"
`, serverHost, serverPort, postgresPort, dbName, redisPort))
}

func waitForServer() error {
	var lastErr error
	for i := 0; i < 50; i++ {
		resp, err := http.Get(serverEndpoint + "/")
		if err == nil {
			_ = resp.Body.Close()
			return nil
		}
		lastErr = err
		time.Sleep(100 * time.Millisecond)
	}
	return lastErr
}

func (s *IntegrationTestSuite) redisSetup() (string, error) {
	redisResource, err := s.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Name:       "sitegate-redis",
		Tag:        "6.2",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
	})
	if err != nil {
		return "", fmt.Errorf("run redis: %s", err)
	}

	s.teardown = append(s.teardown, func() {
		if err := redisResource.Close(); err != nil {
			s.T().Logf("redis teardown: %s", err)
		}
	})

	return redisResource.GetPort("6379/tcp"), nil
}

func (s *IntegrationTestSuite) postgresSetup() (string, error) {
	pgResource, err := s.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "12",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_DB=" + dbName,
			"POSTGRES_HOST_AUTH_METHOD=trust",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return "", fmt.Errorf("dockerpool run postgres: %s", err)
	}

	s.teardown = append(s.teardown, func() {
		if err := pgResource.Close(); err != nil {
			s.T().Logf("postgres teardown: %s", err)
		}
	})

	pgPort := pgResource.GetPort("5432/tcp")
	dsn := fmt.Sprintf("postgres://postgres@localhost:%s/%s?sslmode=disable", pgPort, dbName)

	s.DB, err = sql.Open("postgres", dsn)
	if err != nil {
		return "", fmt.Errorf("open db: %w", err)
	}

	if err := s.dockerPool.Retry(s.DB.Ping); err != nil {
		return "", fmt.Errorf("connect to db: %w", err)
	}

	if _, err := s.DB.Exec(db.Schema); err != nil {
		return "", fmt.Errorf("apply schema: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		return "", err
	}
	if _, err := s.DB.Exec(
		`INSERT INTO admin_credential (username, password_hash, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())`,
		testUsername, string(hash),
	); err != nil {
		return "", fmt.Errorf("seed admin: %w", err)
	}

	return pgPort, nil
}
