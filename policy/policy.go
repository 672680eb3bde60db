// Package policy decides who may delete a message.
package policy

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
)

const (
	Author        = "author"
	Owner         = "owner"
	AuthorOrOwner = "author_or_owner"
	Anyone        = "anyone"
	Expression    = "expr"
)

var builtin = map[string]string{
	Author:        `Message.AuthorId == Actor.Id`,
	Owner:         `Room.OwnerId != "" && Room.OwnerId == Actor.Id`,
	AuthorOrOwner: `Message.AuthorId == Actor.Id || (Room.OwnerId != "" && Room.OwnerId == Actor.Id)`,
	Anyone:        `true`,
}

// DeletePolicy is a compiled delete policy expression.
type DeletePolicy struct {
	name   string
	source string
	prog   *vm.Program
}

// New compiles the policy configured in cfg.
func New(cfg config.ChatConfig) (*DeletePolicy, error) {
	name := cfg.DeletePolicy
	if name == "" {
		name = AuthorOrOwner
	}
	source, ok := builtin[name]
	if name == Expression {
		source = cfg.DeletePolicyExpr
		ok = source != ""
	}
	if !ok {
		return nil, fmt.Errorf("unknown delete policy %q", name)
	}
	prog, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile delete policy %q: %w", name, err)
	}
	return &DeletePolicy{name: name, source: source, prog: prog}, nil
}

func (p *DeletePolicy) Name() string {
	return p.name
}

// Allowed evaluates the policy, an evaluation error denies.
func (p *DeletePolicy) Allowed(env Env) bool {
	res, err := expr.Run(p.prog, env)
	if err != nil {
		globals.AppLogger.Error("could not run delete policy", "policy", p.name, "expression", p.source, "error", err)
		return false
	}
	if bRes, ok := res.(bool); ok && bRes {
		return true
	}
	return false
}
