// Package testutil starts an in-process threads server for tests: miniredis
// behind the store, the HTTP API and the websocket gateway on an httptest
// server.
package testutil

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/baduk1/threadsync/internal/api"
	"github.com/baduk1/threadsync/internal/auth"
	"github.com/baduk1/threadsync/internal/store"
	"github.com/baduk1/threadsync/pkg/thread"
)

// Namespace is the store namespace every environment uses.
const Namespace = "test"

// Well-known users. Ada is a member of proj-1 and proj-2, Grace of neither.
var (
	Ada   = thread.User{ID: "u-1", DisplayName: "Ada", Email: "ada@example.test"}
	Grace = thread.User{ID: "u-2", DisplayName: "Grace", Email: "grace@example.test"}
)

// Environment is an isolated server with its own Redis.
type Environment struct {
	T        *testing.T
	Ctx      context.Context
	Redis    *miniredis.Miniredis
	Store    *store.Client
	Issuer   *auth.Issuer
	Server   *api.Server
	HTTP     *httptest.Server
	Registry *prometheus.Registry
}

// Options adjusts an environment. The zero value is fine.
type Options struct {
	CreateRate  rate.Limit
	CreateBurst int
}

// NewEnvironment starts a server seeded with Ada and Grace. Everything is
// torn down with the test.
func NewEnvironment(t *testing.T, opts Options) *Environment {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := store.NewClient(&redis.Options{Addr: mr.Addr()}, Namespace)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	issuer, err := auth.NewIssuer("test-secret")
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	server := api.NewServer(client, issuer, api.Options{
		CreateRate:  opts.CreateRate,
		CreateBurst: opts.CreateBurst,
		Logger:      zerolog.Nop(),
		Registerer:  registry,
		Gatherer:    registry,
	})
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	env := &Environment{
		T:        t,
		Ctx:      ctx,
		Redis:    mr,
		Store:    client,
		Issuer:   issuer,
		Server:   server,
		HTTP:     srv,
		Registry: registry,
	}

	env.AddUser(Ada, "proj-1", "proj-2")
	env.AddUser(Grace)
	return env
}

// AddUser stores user and makes them a member of projects.
func (env *Environment) AddUser(user thread.User, projects ...string) {
	env.T.Helper()
	require.NoError(env.T, env.Store.PutUser(env.Ctx, &user))
	for _, p := range projects {
		require.NoError(env.T, env.Store.AddMember(env.Ctx, p, user.ID))
	}
}

// Token issues a session token for user.
func (env *Environment) Token(user thread.User) string {
	env.T.Helper()
	token, err := env.Issuer.Issue(user)
	require.NoError(env.T, err)
	return token
}

// URL is the API base URL.
func (env *Environment) URL() string {
	return env.HTTP.URL
}

// WebsocketURL is the gateway address.
func (env *Environment) WebsocketURL() string {
	return "ws" + strings.TrimPrefix(env.HTTP.URL, "http") + "/ws"
}

// WaitForSubscribers blocks until projectID's event channel has n
// subscribers.
func (env *Environment) WaitForSubscribers(projectID string, n int) {
	env.T.Helper()
	channel := thread.ProjectEventsChannel(Namespace, projectID)
	require.Eventually(env.T, func() bool {
		return env.Redis.PubSubNumSub(channel)[channel] == n
	}, 2*time.Second, 10*time.Millisecond, "waiting for %d subscribers on %s", n, channel)
}

// Seed stores comments directly, bypassing the API.
func (env *Environment) Seed(author thread.User, key thread.Key, bodies ...string) []thread.Comment {
	env.T.Helper()
	created := make([]thread.Comment, 0, len(bodies))
	for _, body := range bodies {
		comment, err := env.Store.CreateComment(env.Ctx, author, key, body, nil)
		require.NoError(env.T, err)
		created = append(created, *comment)
	}
	return created
}
