package main

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"realtime-service/api"
	"realtime-service/notify"
	"realtime-service/rooms"
	"realtime-service/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	membersTableName := os.Getenv("MEMBERS_TABLE")
	boardsTableName := os.Getenv("BOARDS_TABLE")
	if connStr == "" || membersTableName == "" || boardsTableName == "" {
		log.Fatal("missing storage config")
	}
	gate, err := storage.New(connStr, membersTableName, boardsTableName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	internalToken := os.Getenv("INTERNAL_UPDATES_TOKEN")
	if internalToken == "" {
		log.Fatal("missing INTERNAL_UPDATES_TOKEN")
	}

	testMode := os.Getenv("AUTH_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH_AUDIENCE")
		issuer := os.Getenv("AUTH_ISSUER")
		jwksURL := os.Getenv("AUTH_JWKS_URL")
		if jwtAudience == "" || issuer == "" || jwksURL == "" {
			log.Fatal("missing auth config")
		}
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, issuer)
	}

	logger := log.New()
	registry := rooms.NewRegistry(gate, logger)
	notifier := notify.NewSubscriber(rc, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, registry, auth, notifier, internalToken, logger)

	listenAddr := ":3001"
	if val, ok := os.LookupEnv("REALTIME_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
