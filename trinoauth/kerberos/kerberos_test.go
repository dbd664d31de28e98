package kerberos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	full := Config{
		KeytabPath: "/etc/user.keytab",
		Principal:  "user@EXAMPLE.COM",
		Realm:      "EXAMPLE.COM",
		ConfigPath: "/etc/krb5.conf",
	}
	require.NoError(t, full.validate())

	for _, tt := range []struct {
		mutate func(*Config)
		want   string
	}{
		{func(c *Config) { c.KeytabPath = "" }, "KeytabPath"},
		{func(c *Config) { c.Principal = "" }, "Principal"},
		{func(c *Config) { c.Realm = "" }, "Realm"},
		{func(c *Config) { c.ConfigPath = "" }, "ConfigPath"},
	} {
		cfg := full
		tt.mutate(&cfg)
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestParseDSNStripsKerberosParams(t *testing.T) {
	cfg, clean, err := parseDSN("trino://user@coordinator:8080/hive?" +
		"kerberos_keytab=%2Fetc%2Fuser.keytab&kerberos_principal=user%40EXAMPLE.COM&" +
		"kerberos_realm=EXAMPLE.COM&kerberos_config=%2Fetc%2Fkrb5.conf&" +
		"kerberos_service_spn=HTTP%2Fcoordinator&source=etl")
	require.NoError(t, err)

	assert.Equal(t, "/etc/user.keytab", cfg.KeytabPath)
	assert.Equal(t, "user@EXAMPLE.COM", cfg.Principal)
	assert.Equal(t, "EXAMPLE.COM", cfg.Realm)
	assert.Equal(t, "/etc/krb5.conf", cfg.ConfigPath)
	assert.Equal(t, "HTTP/coordinator", cfg.ServiceSPN)

	// Only the non-Kerberos params survive in the cleaned DSN.
	assert.Equal(t, "trino://user@coordinator:8080/hive?source=etl", clean)
}

func TestNewAuthRequiresReadableKeytab(t *testing.T) {
	_, err := NewAuth(Config{
		KeytabPath: "/nonexistent/user.keytab",
		Principal:  "user@EXAMPLE.COM",
		Realm:      "EXAMPLE.COM",
		ConfigPath: "/nonexistent/krb5.conf",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keytab")
}
