package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStore(t *testing.T) {
	env := map[string]string{"COMPOSER_SECRET_ORDERS_DB": "hunter2"}
	s := &EnvStore{Prefix: "COMPOSER_SECRET_", lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	assert.Equal(t, "COMPOSER_SECRET_ORDERS_DB", s.Var("orders-db"))

	v, err := s.Get("orders-db")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(v))

	_, err = s.Get("other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChain(t *testing.T) {
	c := Chain{Map{"a": "1"}, Map{"a": "2", "b": "3"}}

	v, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	v, err = c.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "3", string(v))

	_, err = c.Get("c")
	assert.ErrorIs(t, err, ErrNotFound)
}
