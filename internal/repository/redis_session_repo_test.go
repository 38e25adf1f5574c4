package repository

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
)

func setupSessionRepo(t *testing.T) (*RedisSessionRepo, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisSessionRepo(client), mr
}

func newSession(userID, hash string, issued time.Time) *domain.Session {
	return &domain.Session{
		ID:        "sess-" + hash,
		UserID:    userID,
		TokenHash: hash,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(7 * 24 * time.Hour),
		UserAgent: "curl/8.0",
		IP:        "10.0.0.1",
	}
}

func TestSessionCreateSetsTTL(t *testing.T) {
	repo, mr := setupSessionRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("u1", "h1", time.Now())))

	assert.True(t, mr.Exists(sessionKey("u1", "h1")))
	ttl := mr.TTL(sessionKey("u1", "h1"))
	assert.InDelta(t, (7 * 24 * time.Hour).Seconds(), ttl.Seconds(), 5)

	members, err := mr.Members(userSessionsKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, members)
}

func TestSessionCreateRejectsExpired(t *testing.T) {
	repo, _ := setupSessionRepo(t)

	s := newSession("u1", "h1", time.Now())
	s.ExpiresAt = time.Now().Add(-time.Second)
	assert.Error(t, repo.Create(context.Background(), s))
}

func TestSessionRemoveReportsPresence(t *testing.T) {
	repo, mr := setupSessionRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("u1", "h1", time.Now())))

	removed, err := repo.Remove(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, mr.Exists(sessionKey("u1", "h1")))

	removed, err = repo.Remove(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSessionRemoveAtMostOnceUnderConcurrency(t *testing.T) {
	repo, _ := setupSessionRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("u1", "h1", time.Now())))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Remove(ctx, "u1", "h1")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestSessionRevokeAll(t *testing.T) {
	repo, mr := setupSessionRepo(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Create(ctx, newSession("u1", "h1", now)))
	require.NoError(t, repo.Create(ctx, newSession("u1", "h2", now)))
	require.NoError(t, repo.Create(ctx, newSession("u2", "h3", now)))

	n, err := repo.RevokeAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists(sessionKey("u1", "h1")))
	assert.False(t, mr.Exists(sessionKey("u1", "h2")))
	assert.False(t, mr.Exists(userSessionsKey("u1")))
	assert.True(t, mr.Exists(sessionKey("u2", "h3")))

	n, err = repo.RevokeAll(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessionListByUserPrunesExpired(t *testing.T) {
	repo, mr := setupSessionRepo(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Create(ctx, newSession("u1", "old", now.Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, newSession("u1", "new", now)))
	mr.Del(sessionKey("u1", "gone"))
	_, err := mr.SAdd(userSessionsKey("u1"), "gone")
	require.NoError(t, err)

	sessions, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].TokenHash)
	assert.Equal(t, "old", sessions[1].TokenHash)
	assert.Equal(t, "curl/8.0", sessions[0].UserAgent)

	members, err := mr.Members(userSessionsKey("u1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old", "new"}, members)

	empty, err := repo.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChallengeLifecycle(t *testing.T) {
	repo, mr := setupSessionRepo(t)
	ctx := context.Background()

	_, err := repo.AttemptChallenge(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u1", CodeHash: "c1"}, 5*time.Minute))
	assert.True(t, mr.Exists(challengeKey("u1")))

	ch, err := repo.AttemptChallenge(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", ch.UserID)
	assert.Equal(t, "c1", ch.CodeHash)
	assert.Equal(t, 1, ch.Attempts)

	ch, err = repo.AttemptChallenge(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Attempts)

	ok, err := repo.ConsumeChallenge(ctx, "u1", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ConsumeChallenge(ctx, "u1", "c1", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists(challengeKey("u1")))
	assert.False(t, mr.Exists(attemptsKey("u1")))

	ok, err = repo.ConsumeChallenge(ctx, "u1", "c1", 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.AttemptChallenge(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChallengeConsumedCodeIsRefused(t *testing.T) {
	repo, mr := setupSessionRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u1", CodeHash: "c1"}, 5*time.Minute))
	ok, err := repo.ConsumeChallenge(ctx, "u1", "c1", 15*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u1", CodeHash: "c1"}, 5*time.Minute)
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u1", CodeHash: "c2"}, 5*time.Minute))

	// other users are not affected by u1's used codes
	require.NoError(t, repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u2", CodeHash: "c1"}, 5*time.Minute))

	mr.FastForward(16 * time.Minute)
	require.NoError(t, repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u1", CodeHash: "c1"}, 5*time.Minute))
}

func TestChallengeAttemptsSurviveNewChallenge(t *testing.T) {
	repo, mr := setupSessionRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u1", CodeHash: "c1"}, 5*time.Minute))
	for i := 0; i < 3; i++ {
		_, err := repo.AttemptChallenge(ctx, "u1")
		require.NoError(t, err)
	}

	require.NoError(t, repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u1", CodeHash: "c2"}, 5*time.Minute))
	ch, err := repo.AttemptChallenge(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c2", ch.CodeHash)
	assert.Equal(t, 4, ch.Attempts)

	require.NoError(t, repo.ClearChallenge(ctx, "u1"))
	_, err = repo.AttemptChallenge(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, mr.Exists(attemptsKey("u1")))

	mr.FastForward(6 * time.Minute)
	assert.False(t, mr.Exists(attemptsKey("u1")))
	require.NoError(t, repo.SaveChallenge(ctx, &domain.TwoFactorChallenge{UserID: "u1", CodeHash: "c3"}, 5*time.Minute))
	ch, err = repo.AttemptChallenge(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, ch.Attempts)
}

func TestKeysShareUserHashSlot(t *testing.T) {
	keys := []string{
		sessionKey("u1", "h1"),
		userSessionsKey("u1"),
		challengeKey("u1"),
		attemptsKey("u1"),
		usedCodesKey("u1"),
	}
	for _, k := range keys {
		assert.Contains(t, k, "{u1}")
		assert.Equal(t, "u1", k[strings.Index(k, "{")+1:strings.Index(k, "}")])
	}
	assert.True(t, strings.HasPrefix(sessionKey("u1", "h1"), sessionPrefix("u1")))
}
