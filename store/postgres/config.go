package postgres

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/lib/pq"
	"github.com/spf13/cast"
)

var sslModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config addresses the journal database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "ensemble",
		SSLMode:  "disable",
	}
}

// Validate fills an empty sslmode with disable.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.NotValidf("empty postgres host")
	case c.Port <= 0 || c.Port > 65535:
		return errors.NotValidf("postgres port %d", c.Port)
	case c.User == "":
		return errors.NotValidf("empty postgres user")
	case c.Database == "":
		return errors.NotValidf("empty postgres database")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if !sslModes[c.SSLMode] {
		return errors.NotValidf("sslmode %q", c.SSLMode)
	}
	return nil
}

// DSN renders the config as a postgres:// url.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

/**
 * ParseDSN accepts both a postgres:// url and a libpq key/value string
 * such as "host=db port=5432 dbname=ensemble". Keys that are absent keep
 * the DefaultConfig values, unknown keys are ignored.
 */
func ParseDSN(dsn string) (*Config, error) {
	conninfo := strings.TrimSpace(dsn)
	if strings.HasPrefix(conninfo, "postgres://") || strings.HasPrefix(conninfo, "postgresql://") {
		converted, err := pq.ParseURL(conninfo)
		if err != nil {
			return nil, errors.NewNotValid(err, "postgres url")
		}
		conninfo = converted
	}

	kv, err := splitConninfo(conninfo)
	if err != nil {
		return nil, errors.Trace(err)
	}

	config := DefaultConfig()
	for key, value := range kv {
		switch key {
		case "host":
			config.Host = value
		case "port":
			port, err := cast.ToIntE(value)
			if err != nil {
				return nil, errors.NotValidf("postgres port %q", value)
			}
			config.Port = port
		case "user":
			config.User = value
		case "password":
			config.Password = value
		case "dbname":
			config.Database = value
		case "sslmode":
			config.SSLMode = value
		}
	}
	return config, config.Validate()
}

// splitConninfo reads key=value pairs, values may be single quoted
// with \' and \\ escapes.
func splitConninfo(s string) (map[string]string, error) {
	kv := make(map[string]string)
	for i := 0; i < len(s); {
		if s[i] == ' ' || s[i] == '\t' {
			i++
			continue
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq <= 0 {
			return nil, errors.NotValidf("conninfo near %q", s[i:])
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1

		var value strings.Builder
		if i < len(s) && s[i] == '\'' {
			i++
			closed := false
			for i < len(s) {
				c := s[i]
				i++
				if c == '\\' && i < len(s) {
					value.WriteByte(s[i])
					i++
					continue
				}
				if c == '\'' {
					closed = true
					break
				}
				value.WriteByte(c)
			}
			if !closed {
				return nil, errors.NotValidf("unterminated quote for %s", key)
			}
		} else {
			for i < len(s) && s[i] != ' ' && s[i] != '\t' {
				value.WriteByte(s[i])
				i++
			}
		}
		kv[key] = value.String()
	}
	return kv, nil
}
