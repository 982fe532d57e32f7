package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/internal/apiclient"
	"github.com/baduk1/threadsync/internal/commentsync"
	"github.com/baduk1/threadsync/internal/config"
	"github.com/baduk1/threadsync/internal/printer"
	"github.com/baduk1/threadsync/internal/push"
	"github.com/baduk1/threadsync/internal/store"
)

// session is what a command syncs through: the API and its websocket
// gateway, or Redis directly when acting as a user with --direct.
type session struct {
	backend    commentsync.Backend
	transport  commentsync.Transport
	credential string
	close      func()
}

// openSession connects to the configured API. With directUser set it reads
// and writes Redis as that user instead, skipping the server entirely. With
// live unset no push transport is created.
func openSession(cfg *config.ThreadsConfig, logger zerolog.Logger, live bool, directUser string) (*session, error) {
	if directUser != "" {
		client, err := openStore(cfg)
		if err != nil {
			return nil, printer.Error("cannot open store", err.Error(), nil)
		}
		s := &session{
			backend:    store.NewBackend(client, directUser),
			credential: directUser,
			close:      func() { client.Close() },
		}
		if live {
			s.transport = push.NewRedisTransport(client.Redis(), client.Namespace(), nil, logger)
		}
		return s, nil
	}

	if err := requireToken(cfg); err != nil {
		return nil, err
	}
	s := &session{
		backend:    apiclient.New(cfg.Client.APIURL, cfg.Client.Token),
		credential: cfg.Client.Token,
		close:      func() {},
	}
	if live {
		s.transport = push.NewWSTransport(cfg.WebsocketURL(), logger)
	}
	return s, nil
}

// workspace builds a sync workspace over the session.
func (s *session) workspace(cfg *config.ThreadsConfig, logger zerolog.Logger) *commentsync.Workspace {
	return commentsync.New(s.backend, s.transport, commentsync.Options{
		StaleAfter:      cfg.Sync.StaleAfter,
		ErrorRetryAfter: cfg.Sync.ErrorRetryAfter,
		FetchTimeout:    cfg.Sync.FetchTimeout,
		Credential:      commentsync.StaticCredential(s.credential),
		Logger:          logger,
	})
}

// waitLoaded blocks until the view has finished its first fetch.
func waitLoaded(ctx context.Context, view *commentsync.View, timeout time.Duration) (commentsync.Snapshot, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		snap := view.Snapshot()
		if snap.Err != nil {
			return snap, snap.Err
		}
		if !snap.FetchedAt.IsZero() && !snap.Fetching {
			return snap, nil
		}

		select {
		case <-view.Changes():
		case <-deadline.C:
			return snap, fmt.Errorf("timed out loading %s after %v", view.Key(), timeout)
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}
