package main

import (
	"bytes"
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"
)

func contextWith(t *testing.T, values map[string]string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("create-user", flag.ContinueOnError)
	for _, name := range []string{"username", "password", "role", "tenant"} {
		set.String(name, "", "")
	}
	for name, value := range values {
		require.NoError(t, set.Set(name, value))
	}
	return cli.NewContext(newApp(), set, nil)
}

func TestUserFromFlagsHashesPassword(t *testing.T) {
	c := contextWith(t, map[string]string{
		"username": " Maria ",
		"password": "segredo-forte",
		"role":     "ADMIN",
		"tenant":   "loja-1",
	})

	user, err := userFromFlags(c)
	require.NoError(t, err)
	assert.Equal(t, "maria", user.Username)
	assert.Equal(t, "admin", user.Role)
	assert.Equal(t, "loja-1", user.TenantID)
	assert.True(t, user.Active)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("segredo-forte")))
}

func TestUserFromFlagsRejectsBadInput(t *testing.T) {
	_, err := userFromFlags(contextWith(t, map[string]string{"username": "x", "password": "segredo-forte", "role": "owner"}))
	assert.ErrorContains(t, err, "role")

	_, err = userFromFlags(contextWith(t, map[string]string{"username": "x", "password": "curta", "role": "cashier"}))
	assert.ErrorContains(t, err, "password")
}

func TestVersionRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run([]string{"migrate", "version"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "DATABASE_URL"))
}
