package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mwestra/ballotbox/internal/auth"
	"github.com/mwestra/ballotbox/internal/email"
	"github.com/mwestra/ballotbox/internal/email/mailgun"
	"github.com/mwestra/ballotbox/internal/email/postmark"
	"github.com/mwestra/ballotbox/internal/krypto"
)

// httpConfig is the configuration for the HTTP server.
type httpConfig struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
}

// dbConfig is the configuration for the sqlite database.
type dbConfig struct {
	file           string
	migrate        bool
	encryptionKeys []krypto.Key
	blindIndexKey  krypto.Key
}

// authConfig is the configuration for the account service and the
// session credentials it issues.
type authConfig struct {
	service       auth.ServiceConfig
	sessionSecret krypto.Secret
	sessionTTL    time.Duration
}

// emailConfig is the configuration for outgoing email.
type emailConfig struct {
	driver   string
	from     email.Address
	postmark postmark.Settings
	mailgun  mailgun.Settings
}

// config is the configuration for the server command.
type config struct {
	http  httpConfig
	db    dbConfig
	auth  authConfig
	email emailConfig
}

// defaultConfig returns a config with sane default values.
func defaultConfig() config {
	return config{
		http: httpConfig{
			addr:            ":8888",
			readTimeout:     time.Second * 5,
			writeTimeout:    time.Second * 10,
			idleTimeout:     time.Second * 120,
			shutdownTimeout: time.Second * 15,
		},
		db: dbConfig{
			file:    "ballotbox.db",
			migrate: true,
		},
		auth: authConfig{
			service: auth.ServiceConfig{
				BaseURL:       "http://localhost:8888",
				WorkerTimeout: time.Second * 10,
				TokenExpiry:   time.Hour * 24,
				OTPExpiry:     time.Minute * 10,
			},
			sessionTTL: time.Hour * 24,
		},
		email: emailConfig{
			driver: "log",
			postmark: postmark.Settings{
				APIHost: "api.postmarkapp.com",
			},
			mailgun: mailgun.Settings{
				APIHost: "api.mailgun.net",
			},
		},
	}
}

// requiredKeys are env variables without a usable default. Missing any
// of them fails startup.
var requiredKeys = []string{
	"DB_ENCRYPTION_KEYS",
	"DB_BLIND_INDEX_KEY",
	"SESSION_SECRET",
	"EMAIL_FROM",
}

// emailDrivers are the accepted values for EMAIL_DRIVER.
var emailDrivers = []string{"log", "memory", "postmark", "mailgun"}

// envMap maps environment variable names to fields in the config struct.
var envMap = map[string]func(v string, c *config) error{
	"BASE_URL": func(v string, c *config) error {
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return fmt.Errorf("%q is not an absolute http(s) url", v)
		}
		c.auth.service.BaseURL = v
		return nil
	},
	"HTTP_ADDR": func(v string, c *config) error {
		c.http.addr = v
		return nil
	},
	"HTTP_READ_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.readTimeout, 0, math.MaxInt64)
	},
	"HTTP_WRITE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.writeTimeout, 0, math.MaxInt64)
	},
	"HTTP_IDLE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.idleTimeout, 0, math.MaxInt64)
	},
	"HTTP_SHUTDOWN_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.shutdownTimeout, 0, math.MaxInt64)
	},
	"DB_FILENAME": func(v string, c *config) error {
		if v == "" {
			return errors.New("empty database filename")
		}
		c.db.file = v
		return nil
	},
	"DB_MIGRATE": func(v string, c *config) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.db.migrate = b
		return nil
	},
	"DB_ENCRYPTION_KEYS": func(v string, c *config) error {
		return confKeys(v, &c.db.encryptionKeys)
	},
	"DB_BLIND_INDEX_KEY": func(v string, c *config) error {
		return confKey(v, &c.db.blindIndexKey)
	},
	"SESSION_SECRET": func(v string, c *config) error {
		if v == "" {
			return errors.New("empty session secret")
		}
		c.auth.sessionSecret = krypto.NewSecret(v)
		return nil
	},
	"SESSION_TTL": func(v string, c *config) error {
		return confDuration(v, &c.auth.sessionTTL, time.Minute, math.MaxInt64)
	},
	"AUTH_WORKER_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.auth.service.WorkerTimeout, 0, math.MaxInt64)
	},
	"AUTH_TOKEN_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.auth.service.TokenExpiry, 0, math.MaxInt64)
	},
	"AUTH_OTP_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.auth.service.OTPExpiry, 0, math.MaxInt64)
	},
	"EMAIL_DRIVER": func(v string, c *config) error {
		if !slices.Contains(emailDrivers, v) {
			return fmt.Errorf("unknown email driver %q", v)
		}
		c.email.driver = v
		return nil
	},
	"EMAIL_FROM": func(v string, c *config) error {
		addr, err := email.ParseAddress(v)
		if err != nil {
			return err
		}
		c.email.from = addr
		return nil
	},
	"POSTMARK_API_HOST": func(v string, c *config) error {
		c.email.postmark.APIHost = v
		return nil
	},
	"POSTMARK_SERVER_TOKEN": func(v string, c *config) error {
		c.email.postmark.ServerToken = v
		return nil
	},
	"MAILGUN_API_HOST": func(v string, c *config) error {
		c.email.mailgun.APIHost = v
		return nil
	},
	"MAILGUN_DOMAIN": func(v string, c *config) error {
		c.email.mailgun.Domain = v
		return nil
	},
	"MAILGUN_USERNAME": func(v string, c *config) error {
		c.email.mailgun.Username = v
		return nil
	},
	"MAILGUN_PASSWORD": func(v string, c *config) error {
		c.email.mailgun.Password = v
		return nil
	},
}

// configFromEnv returns a config with values from the environment. It
// falls back to default values for missing optional variables and
// reports all problems at once.
//
// It does a best effort to validate provided values, so that mistakes
// are caught ASAP. However, there is no guarantee that the returned
// config is valid and will work.
func configFromEnv() (config, error) {
	c := defaultConfig()

	var errs []error
	for key, mf := range envMap {
		val, ok := os.LookupEnv(key)
		if !ok {
			if slices.Contains(requiredKeys, key) {
				errs = append(errs, fmt.Errorf("missing required env variable %s", key))
			}
			continue
		}

		if err := mf(val, &c); err != nil {
			errs = append(errs, fmt.Errorf("invalid env variable %s: %w", key, err))
		}
	}

	return c, errors.Join(errs...)
}

// confDuration attempts to parse v into tgt and checks if the result is in
// the provided range (inclusive).
func confDuration(v string, tgt *time.Duration, min, max time.Duration) error {
	dur, err := time.ParseDuration(v)
	if err != nil {
		return err
	}

	if dur < min || dur > max {
		return fmt.Errorf("duration %s not in range [%s, %s] (inclusive)", dur, min, max)
	}

	*tgt = dur

	return nil
}

// confKey parses a single hex encoded key.
func confKey(v string, tgt *krypto.Key) error {
	key, err := krypto.ParseKey(v)
	if err != nil {
		return err
	}

	*tgt = key

	return nil
}

// confKeys parses a comma separated list of hex encoded keys.
func confKeys(v string, tgt *[]krypto.Key) error {
	parts := strings.Split(v, ",")

	keys := make([]krypto.Key, 0, len(parts))
	for _, part := range parts {
		key, err := krypto.ParseKey(part)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	*tgt = keys

	return nil
}
