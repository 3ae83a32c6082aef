package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/2beens/sitegate/internal/auth"
	"github.com/2beens/sitegate/internal/config"
	"github.com/2beens/sitegate/internal/db"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	username := flag.String("username", "", "admin username")
	reset := flag.Bool("reset", false, "reset the password of an existing admin (ends all its sessions)")
	initSchema := flag.Bool("init-schema", false, "create the tables if they do not exist")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:     cfg.PostgresHost,
		DBPort:     cfg.PostgresPort,
		DBName:     cfg.PostgresDBName,
		DBUser:     os.Getenv("SITEGATE_DB_USER"),
		DBPassword: os.Getenv("SITEGATE_DB_PASS"),
	})
	if err != nil {
		log.Fatalf("new db pool: %s", err)
	}
	defer dbPool.Close()

	if *initSchema {
		if err := db.ApplySchema(ctx, dbPool); err != nil {
			log.Fatalf("apply schema: %s", err)
		}
		log.Println("schema applied")
	}

	if *username == "" {
		if *initSchema {
			return
		}
		log.Fatalln("-username not specified")
	}

	password, err := readPassword()
	if err != nil {
		log.Fatalf("read password: %s", err)
	}

	var sessionStore auth.SessionStore = auth.NewMemSessionStore()
	if cfg.Session.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: os.Getenv("SITEGATE_REDIS_PASS"),
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Errorf("close redis client: %s", err)
			}
		}()
		sessionStore = auth.NewRedisSessionStore(rdb)
	}
	sessions := auth.NewSessionManager(auth.SessionManagerParams{
		Store:      sessionStore,
		TTL:        cfg.Session.TTL.Duration,
		CookieName: cfg.Session.CookieName,
	})

	credentials, err := auth.NewCredentialStore(auth.NewPsqlCredentialRepo(dbPool), sessions, cfg.BcryptCost)
	if err != nil {
		log.Fatalf("new credential store: %s", err)
	}

	if *reset {
		err = credentials.ChangePassword(ctx, *username, password)
	} else {
		err = credentials.AddAdmin(ctx, *username, password)
	}
	switch {
	case errors.Is(err, auth.ErrCredentialExists):
		log.Fatalf("admin [%s] already exists, use -reset to change its password", *username)
	case errors.Is(err, auth.ErrCredentialNotFound):
		log.Fatalf("admin [%s] does not exist", *username)
	case err != nil:
		log.Fatalf("%s", err)
	}

	if *reset {
		log.Printf("password of admin [%s] changed", *username)
	} else {
		log.Printf("admin [%s] created", *username)
	}
}

// readPassword takes SITEGATE_ADMIN_PASSWORD when set, otherwise asks twice on stdin.
func readPassword() (string, error) {
	if p := os.Getenv("SITEGATE_ADMIN_PASSWORD"); p != "" {
		return p, nil
	}

	in := bufio.NewReader(os.Stdin)
	ask := func(prompt string) (string, error) {
		fmt.Print(prompt)
		line, err := in.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	password, err := ask("password: ")
	if err != nil {
		return "", err
	}
	confirm, err := ask("confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}
