package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baduk1/threadsync/internal/auth"
	"github.com/baduk1/threadsync/internal/config"
	"github.com/baduk1/threadsync/internal/printer"
	"github.com/baduk1/threadsync/internal/testutil"
	"github.com/baduk1/threadsync/pkg/thread"
)

var taskKey = thread.NewKey("proj-1", thread.ContextTask, "t-42")

type result struct {
	stdout  string
	printed string
	errOut  string
	err     error
}

// run executes the real root command with args against env.
func run(t *testing.T, env *testutil.Environment, token string, args ...string) result {
	t.Helper()
	pointAt(t, env, token)
	return execute(t, args...)
}

// pointAt configures the CLI for env through THREADS_* variables.
func pointAt(t *testing.T, env *testutil.Environment, token string) {
	t.Setenv(config.EnvRedisURL, "redis://"+env.Redis.Addr())
	t.Setenv(config.EnvNamespace, testutil.Namespace)
	t.Setenv(config.EnvJWTSecret, "test-secret")
	t.Setenv(config.EnvAPIURL, env.URL())
	t.Setenv(config.EnvToken, token)
}

// execute runs the root command with whatever environment is set. Flags
// are reset first because cobra keeps their values between executions.
func execute(t *testing.T, args ...string) result {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, printed, errOut bytes.Buffer
	oldOut, oldErr := printer.Out, printer.ErrOut
	printer.Out, printer.ErrOut = &printed, &errOut
	t.Cleanup(func() { printer.Out, printer.ErrOut = oldOut, oldErr })

	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&errOut)
	missing := filepath.Join(t.TempDir(), "threads.yml")
	rootCmd.SetArgs(append([]string{"--config", missing}, args...))

	err := Execute()
	return result{stdout: stdout.String(), printed: printed.String(), errOut: errOut.String(), err: err}
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})

	res := run(t, env, "")
	assert.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Usage:", "Help should be displayed")
	assert.Contains(t, res.stdout, "threads", "Help should show command name")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})

	res := run(t, env, "", "--unknown-flag", "value")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "unknown flag")
}

func TestRootCommand_InvalidLogLevel(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})

	res := run(t, env, env.Token(testutil.Ada), "--log-level", "loud", "show", "proj-1", "task", "t-42")
	require.Error(t, res.err)
	assert.Contains(t, res.errOut, "Unknown level: loud")
}

func TestShowCommand(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})
	env.AddUser(testutil.Grace, "proj-1")
	first := env.Seed(testutil.Ada, taskKey, "Order the concrete")
	parent, _ := first[0].ID.Durable()
	_, err := env.Store.CreateComment(env.Ctx, testutil.Grace, taskKey, "Ordered for Monday", thread.Int64Ptr(parent))
	require.NoError(t, err)
	ada := env.Token(testutil.Ada)

	t.Run("tree", func(t *testing.T) {
		res := run(t, env, ada, "show", "proj-1", "task", "t-42")
		require.NoError(t, res.err, res.errOut)
		assert.Contains(t, res.stdout, "Order the concrete")
		assert.Contains(t, res.stdout, "    ", "reply should be indented")
		assert.Contains(t, res.stdout, "Ordered for Monday")

		lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
		var parentLine, replyLine int
		for i, line := range lines {
			switch {
			case strings.Contains(line, "Order the concrete"):
				parentLine = i
			case strings.Contains(line, "Ordered for Monday"):
				replyLine = i
			}
		}
		assert.Greater(t, replyLine, parentLine, "replies follow their parent")
	})

	t.Run("jsonl with author filter", func(t *testing.T) {
		res := run(t, env, ada, "show", "proj-1", "task", "t-42", "--output", "jsonl", "--author", "Grace")
		require.NoError(t, res.err, res.errOut)
		lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], `"body":"Ordered for Monday"`)
	})

	t.Run("empty thread", func(t *testing.T) {
		res := run(t, env, ada, "show", "proj-1", "boq", "b-1", "--output", "jsonl")
		require.NoError(t, res.err, res.errOut)
		assert.Empty(t, strings.TrimSpace(res.stdout))
	})

	t.Run("invalid format", func(t *testing.T) {
		res := run(t, env, ada, "show", "proj-1", "task", "t-42", "--output", "xml")
		require.Error(t, res.err)
		assert.Contains(t, res.errOut, "Valid formats: tree, jsonl")
	})

	t.Run("invalid context type", func(t *testing.T) {
		res := run(t, env, ada, "show", "proj-1", "invoice", "i-1")
		require.Error(t, res.err)
		assert.Contains(t, res.errOut, "Context types")
	})

	t.Run("not a member", func(t *testing.T) {
		outsider := thread.User{ID: "u-9", DisplayName: "Linus"}
		env.AddUser(outsider)
		res := run(t, env, env.Token(outsider), "show", "proj-1", "task", "t-42")
		require.Error(t, res.err)
		assert.Contains(t, res.errOut, "Status: 403")
	})

	t.Run("requires token", func(t *testing.T) {
		res := run(t, env, "", "show", "proj-1", "task", "t-42")
		require.Error(t, res.err)
		assert.Contains(t, res.errOut, config.EnvToken)
	})
}

func TestPostCommand(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})
	ada := env.Token(testutil.Ada)

	res := run(t, env, ada, "post", "proj-1", "task", "t-42", "Concrete", "order", "confirmed")
	require.NoError(t, res.err, res.errOut)
	assert.Equal(t, "1", strings.TrimSpace(res.stdout))
	assert.Contains(t, res.printed, "Posting to")
	assert.Contains(t, res.printed, "Posted comment #1")

	res = run(t, env, ada, "post", "proj-1", "task", "t-42", "--reply-to", "1", "--wait", "Thanks")
	require.NoError(t, res.err, res.errOut)
	assert.Equal(t, "2", strings.TrimSpace(res.stdout))
	assert.Contains(t, res.printed, "Replying to #1")

	comments, err := env.Store.ListComments(env.Ctx, taskKey)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "Concrete order confirmed", comments[1].Body)
	require.NotNil(t, comments[0].ParentID)
	assert.Equal(t, int64(1), *comments[0].ParentID)

	t.Run("server rejection rolls back", func(t *testing.T) {
		res := run(t, env, ada, "post", "proj-1", "task", "t-42", "--reply-to", "99", "orphan")
		require.Error(t, res.err)
		assert.Contains(t, res.errOut, "Parent comment 99 not found")
		assert.Contains(t, res.errOut, "Status: 404")

		comments, err := env.Store.ListComments(env.Ctx, taskKey)
		require.NoError(t, err)
		assert.Len(t, comments, 2)
	})

	t.Run("blank body never reaches the server", func(t *testing.T) {
		res := run(t, env, ada, "post", "proj-1", "task", "t-42", "   ")
		require.Error(t, res.err)
		assert.Contains(t, res.errOut, "Cannot post comment")
	})

	t.Run("unreachable server", func(t *testing.T) {
		pointAt(t, env, ada)
		t.Setenv(config.EnvAPIURL, "http://127.0.0.1:1")
		res := execute(t, "post", "proj-1", "task", "t-42", "hello")
		require.Error(t, res.err)
		assert.Contains(t, res.errOut, "Failed to post comment")
	})
}

func TestTokenCommand(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})

	res := run(t, env, "", "token", testutil.Ada.ID)
	require.NoError(t, res.err, res.errOut)

	claims, err := env.Issuer.Verify(strings.TrimSpace(res.stdout))
	require.NoError(t, err)
	assert.Equal(t, testutil.Ada.ID, claims.UserID)
	assert.Equal(t, testutil.Ada.DisplayName, claims.DisplayName)

	res = run(t, env, "", "token", "u-404")
	require.Error(t, res.err)
	assert.Contains(t, res.errOut, "threads user add u-404")
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})
	pointAt(t, env, "")
	t.Setenv(config.EnvJWTSecret, "")

	res := execute(t, "token", testutil.Ada.ID)
	require.Error(t, res.err)
	assert.Contains(t, res.errOut, "jwt_secret")
}

func TestUserCommands(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})

	res := run(t, env, "", "user", "add", "u-7", "--name", "Barbara", "--project", "proj-1,proj-2")
	require.NoError(t, res.err, res.errOut)
	assert.Contains(t, res.printed, "Saved user u-7 (Barbara)")

	user, err := env.Store.GetUser(env.Ctx, "u-7")
	require.NoError(t, err)
	assert.Equal(t, "Barbara", user.DisplayName)
	for _, p := range []string{"proj-1", "proj-2"} {
		member, err := env.Store.IsMember(env.Ctx, p, "u-7")
		require.NoError(t, err)
		assert.True(t, member, p)
	}

	res = run(t, env, "", "user", "remove", "u-7", "--project", "proj-2")
	require.NoError(t, res.err, res.errOut)
	member, err := env.Store.IsMember(env.Ctx, "proj-2", "u-7")
	require.NoError(t, err)
	assert.False(t, member)

	// A token for the new user works against the API.
	issuer, err := auth.NewIssuer("test-secret")
	require.NoError(t, err)
	token, err := issuer.Issue(*user)
	require.NoError(t, err)
	res = run(t, env, token, "post", "proj-1", "project", "proj-1", "hello from Barbara")
	require.NoError(t, res.err, res.errOut)
}

func TestWatchCommand_InvalidThreadFlag(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})

	res := run(t, env, env.Token(testutil.Ada), "watch", "proj-1", "--thread", "task")
	require.Error(t, res.err)
	assert.Contains(t, res.errOut, "Expected <context-type>/<context-id>")
}

func TestDirectMode(t *testing.T) {
	env := testutil.NewEnvironment(t, testutil.Options{})

	res := run(t, env, "", "post", "proj-1", "task", "t-42", "--direct", testutil.Ada.ID, "straight to redis")
	require.NoError(t, res.err, res.errOut)
	assert.Equal(t, "1", strings.TrimSpace(res.stdout))

	comments, err := env.Store.ListComments(env.Ctx, taskKey)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Ada", comments[0].Author.DisplayName)

	res = run(t, env, "", "show", "proj-1", "task", "t-42", "--direct", testutil.Ada.ID, "--output", "jsonl")
	require.NoError(t, res.err, res.errOut)
	assert.Contains(t, res.stdout, `"body":"straight to redis"`)

	res = run(t, env, "", "post", "proj-1", "task", "t-42", "--direct", "u-404", "ghost")
	require.Error(t, res.err)
	assert.Contains(t, res.errOut, "Status: 404")
}
