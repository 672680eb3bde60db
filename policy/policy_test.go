package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
)

func envFor(actor, author, owner string) Env {
	return Env{
		Actor:   Actor{Id: actor},
		Message: Message{Id: 42, AuthorId: author},
		Room:    Room{Id: 5, Key: "room_5", OwnerId: owner},
	}
}

func TestBuiltinPolicies(t *testing.T) {
	cases := []struct {
		policy string
		env    Env
		want   bool
	}{
		{Author, envFor("3", "3", "7"), true},
		{Author, envFor("7", "3", "7"), false},
		{Owner, envFor("7", "3", "7"), true},
		{Owner, envFor("3", "3", "7"), false},
		{Owner, envFor("3", "3", ""), false},
		{AuthorOrOwner, envFor("3", "3", "7"), true},
		{AuthorOrOwner, envFor("7", "3", "7"), true},
		{AuthorOrOwner, envFor("9", "3", "7"), false},
		{Anyone, envFor("9", "3", "7"), true},
	}
	for _, c := range cases {
		p, err := New(config.ChatConfig{DeletePolicy: c.policy})
		require.NoError(t, err)
		assert.Equal(t, c.want, p.Allowed(c.env), "%s actor=%s", c.policy, c.env.Actor.Id)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p, err := New(config.ChatConfig{})
	require.NoError(t, err)
	assert.Equal(t, AuthorOrOwner, p.Name())
}

func TestExpressionPolicy(t *testing.T) {
	p, err := New(config.ChatConfig{DeletePolicy: Expression, DeletePolicyExpr: `Message.Private ? Message.AuthorId == Actor.Id : Actor.Id in ["admin", Room.OwnerId]`})
	require.NoError(t, err)
	assert.True(t, p.Allowed(envFor("admin", "3", "7")))
	assert.True(t, p.Allowed(envFor("7", "3", "7")))
	assert.False(t, p.Allowed(envFor("3", "3", "7")))

	env := envFor("3", "3", "")
	env.Message.Private = true
	assert.True(t, p.Allowed(env))
}

func TestInvalidPolicies(t *testing.T) {
	_, err := New(config.ChatConfig{DeletePolicy: "sometimes"})
	assert.Error(t, err)
	_, err = New(config.ChatConfig{DeletePolicy: Expression})
	assert.Error(t, err)
	_, err = New(config.ChatConfig{DeletePolicy: Expression, DeletePolicyExpr: `Message.Nope == 1`})
	assert.Error(t, err)
	_, err = New(config.ChatConfig{DeletePolicy: Expression, DeletePolicyExpr: `Message.Id + 1`})
	assert.Error(t, err)
}
