package postgresql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	base := Config{
		Host:     "localhost",
		Port:     5432,
		User:     "agricert",
		Password: "secret",
		Database: "agricert",
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{
			name: "defaults fill sslmode and connect timeout",
			want: "connect_timeout=5 dbname=agricert host=localhost password=secret port=5432 sslmode=disable user=agricert",
		},
		{
			name: "application name and statement timeout",
			mutate: func(c *Config) {
				c.SSLMode = "verify-full"
				c.ApplicationName = "agricert-api"
				c.ConnectTimeout = 10 * time.Second
				c.StatementTimeout = 1500 * time.Millisecond
			},
			want: "application_name=agricert-api connect_timeout=10 dbname=agricert host=localhost password=secret port=5432 sslmode=verify-full statement_timeout=1500 user=agricert",
		},
		{
			name:   "sub-second connect timeout rounds up to one",
			mutate: func(c *Config) { c.ConnectTimeout = 200 * time.Millisecond },
			want:   "connect_timeout=1 dbname=agricert host=localhost password=secret port=5432 sslmode=disable user=agricert",
		},
		{
			name:   "password with spaces and quotes is quoted",
			mutate: func(c *Config) { c.Password = `it's a \secret` },
			want:   `connect_timeout=5 dbname=agricert host=localhost password='it\'s a \\secret' port=5432 sslmode=disable user=agricert`,
		},
		{
			name:   "empty password is omitted",
			mutate: func(c *Config) { c.Password = "" },
			want:   "connect_timeout=5 dbname=agricert host=localhost port=5432 sslmode=disable user=agricert",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			assert.Equal(t, tt.want, cfg.DSN())
		})
	}
}
