package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/user"
	"path"
	"time"

	"github.com/cpacia/cupforecast/tournament"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dataDir        = ".cupforecast"
	dbName         = "cupforecast.db"
	userContextKey = contextKey("user")
)

type contextKey string

type Server struct {
	db       *gorm.DB
	r        chi.Router
	cfg      *Config
	forecast *Forecast
	sessions *sessionStore
	log      *logrus.Entry

	jwtKey           []byte
	devMode          bool
	ratingsURL       string
	loginRateLimiter *limiter.Limiter
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logrus.Fatalf("Bad log level: %v", err)
	}
	if opts.Dev {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("service", "cupforecast")

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	cfg.apply(&opts)
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}

	def, err := loadDefinition(opts.Tournament)
	if err != nil {
		log.Fatalf("Tournament definition: %v", err)
	}

	db, err := initDatabase(opts.DataDir)
	if err != nil {
		log.Fatalf("Database initialization errored: %v", err)
	}

	s, err := newServer(db, def, cfg, &opts, log)
	if err != nil {
		log.Fatalf("Server: %v", err)
	}

	log.WithFields(logrus.Fields{
		"listen":     opts.Listen,
		"tournament": def.Name,
		"seed":       cfg.Seed,
	}).Info("starting server")
	if err := http.ListenAndServe(opts.Listen, s.r); err != nil {
		log.Fatal(err)
	}
}

func loadDefinition(path string) (*tournament.Definition, error) {
	if path == "" {
		return tournament.Default()
	}
	return tournament.Load(path)
}

// newServer wires storage, simulation and routes together.
func newServer(db *gorm.DB, def *tournament.Definition, cfg *Config, opts *Options, log *logrus.Entry) (*Server, error) {
	key, err := jwtKeyFromHex(opts.JWTKey)
	if err != nil {
		return nil, err
	}
	if err := seedRatings(db); err != nil {
		return nil, fmt.Errorf("seed ratings: %w", err)
	}

	loginRate, err := limiter.NewRateFromFormatted("10-H")
	if err != nil {
		return nil, err
	}
	simRate, err := limiter.NewRateFromFormatted(opts.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", opts.RateLimit, err)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.Origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		db:               db,
		r:                r,
		cfg:              cfg,
		forecast:         NewForecast(db, def, cfg, log),
		sessions:         newSessionStore(),
		log:              log,
		jwtKey:           key,
		devMode:          opts.Dev,
		ratingsURL:       opts.RatingsURL,
		loginRateLimiter: limiter.New(memory.NewStore(), loginRate),
	}
	limited := stdlib.NewMiddleware(limiter.New(memory.NewStore(), simRate))

	r.Post("/login", s.POSTLoginHandler)
	r.Post("/logout", s.POSTLogoutHandler)
	r.Post("/auth/me", s.authMiddleware(s.POSTAuthMe))
	r.Post("/changepw", s.authMiddleware(s.POSTChangePasswordHandler))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/rankings", s.GETRankings)
		r.Get("/groups", s.GETGroups)
		r.Get("/playoffs", s.GETPlayoffs)
		r.Post("/ratings/refresh", s.authMiddleware(s.POSTRefreshRatings))

		r.Group(func(r chi.Router) {
			r.Use(limited.Handler)
			r.Get("/groups/simulation", s.GETGroupSimulation)
			r.Get("/tournament/simulation", s.GETTournamentSimulation)
			r.Post("/bracket", s.POSTBracket)
		})

		r.Route("/bracket/{sessionID}", func(r chi.Router) {
			r.Get("/", s.GETBracket)
			r.Get("/matches/{matchID}", s.GETBracketMatch)
			r.Post("/override", s.POSTBracketOverride)
			r.Delete("/overrides", s.DELETEBracketOverrides)
		})

		r.Get("/scenarios", s.GETScenarios)
		r.Post("/scenarios", s.authMiddleware(s.POSTScenario))
		r.Post("/scenarios/{id}/load", s.POSTLoadScenario)
	})
	return s, nil
}

// jwtKeyFromHex decodes the configured key or makes a random one, which
// logs everyone out on restart.
func jwtKeyFromHex(h string) ([]byte, error) {
	if h != "" {
		key, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("error parsing jwt key: %w", err)
		}
		return key, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Check to see if the database exists. If not create it and initialize
// it with a default admin password to be changed later.
func initDatabase(dir string) (*gorm.DB, error) {
	if dir == "" {
		// Get the OS specific home directory via the Go standard lib.
		var homeDir string
		usr, err := user.Current()
		if err == nil {
			homeDir = usr.HomeDir
		}

		// Fall back to standard HOME environment variable that works
		// for most POSIX OSes if the directory from the Go standard
		// lib failed.
		if err != nil || homeDir == "" {
			homeDir = os.Getenv("HOME")
		}
		dir = path.Join(homeDir, dataDir)
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path.Join(dir, dbName)), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := setupDatabase(db); err != nil {
		return nil, err
	}
	return db, nil
}

// setupDatabase migrates the schema and seeds the admin account.
func setupDatabase(db *gorm.DB) error {
	if err := applyMigrations(db); err != nil {
		return err
	}

	var creds DBCredentials
	result := db.First(&creds)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if err := db.Create(&DBCredentials{Username: "admin", PasswordHash: string(hash)}).Error; err != nil {
			return err
		}
	}
	return nil
}

// Validate the JWT token. It can either been in a cookie or a header.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tokenStr string

		// First try Authorization header
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) >= 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		} else {
			// Fallback to auth_token cookie
			cookie, err := r.Cookie("auth_token")
			if err != nil {
				http.Error(w, "Missing auth token", http.StatusUnauthorized)
				return
			}
			tokenStr = cookie.Value
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return s.jwtKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		// Token is valid, proceed
		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
