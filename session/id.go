package session

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/jmcleod/chatrelay/internal/clock"
	"github.com/jmcleod/chatrelay/internal/util"
)

const (
	// PlatformTag is appended to every session ID minted for the messaging platform.
	PlatformTag = "wa"
	// randomTokenLen is the length of the random component of a session ID.
	randomTokenLen = 8
)

// IDGenerator mints new session identifiers.
type IDGenerator interface {
	Generate(user string) (string, error)
}

// Generator produces session IDs of the form
// <random>-<timestamp>-<digest>-<platform-tag>. The digest is BLAKE2b-256
// over the user identity, random token and timestamp token, so the ID is
// bound to the user without revealing it.
type Generator struct {
	clock  clock.Clock
	random func(n int) (string, error)
}

var _ IDGenerator = (*Generator)(nil)

// NewGenerator returns a Generator using crypto/rand and the given clock.
// A nil clock means the system clock.
func NewGenerator(c clock.Clock) *Generator {
	if c == nil {
		c = clock.Real()
	}
	return &Generator{clock: c, random: util.RandomToken}
}

// WithRandom returns a copy of g that draws random tokens from fn.
func (g *Generator) WithRandom(fn func(n int) (string, error)) *Generator {
	cp := *g
	cp.random = fn
	return &cp
}

func (g *Generator) Generate(user string) (string, error) {
	random, err := g.random(randomTokenLen)
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	timestamp := strconv.FormatInt(g.clock.Now().UnixMilli(), 36)

	digest := blake2b.Sum256([]byte(user + random + timestamp))
	return strings.Join([]string{
		random,
		timestamp,
		hex.EncodeToString(digest[:]),
		PlatformTag,
	}, "-"), nil
}
