package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
)

// Key layout. The {userID} hash tag keeps every key of a user in one cluster slot,
// so the scripts below stay valid on Redis Cluster.
//
//	auth:{userID}:session:<tokenHash>  -> JSON session record, TTL = remaining refresh lifetime
//	auth:{userID}:sessions             -> set of token hashes
//	auth:{userID}:2fa                  -> hash of the login code of the open challenge
//	auth:{userID}:2fa:attempts         -> verification attempts, kept across challenges
//	auth:{userID}:2fa:used             -> set of consumed login code hashes
func userPrefix(userID string) string { return "auth:{" + userID + "}:" }

func sessionPrefix(userID string) string { return userPrefix(userID) + "session:" }

func sessionKey(userID, hash string) string { return sessionPrefix(userID) + hash }

func userSessionsKey(userID string) string { return userPrefix(userID) + "sessions" }

func challengeKey(userID string) string { return userPrefix(userID) + "2fa" }

func attemptsKey(userID string) string { return userPrefix(userID) + "2fa:attempts" }

func usedCodesKey(userID string) string { return userPrefix(userID) + "2fa:used" }

// removeSessionLua deletes one session and unlinks it from the user index.
// It returns 1 when the session existed; 0 is the reuse signal.
var removeSessionLua = redis.NewScript(`
local removed = redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return removed
`)

// revokeAllLua deletes every session listed in the user index and the index itself.
// ARGV[1] is the user's session key prefix, which shares the index's hash slot.
var revokeAllLua = redis.NewScript(`
local hashes = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, h in ipairs(hashes) do
  n = n + redis.call('DEL', ARGV[1] .. h)
end
redis.call('DEL', KEYS[1])
return n
`)

// saveChallengeLua opens a challenge unless the code was already consumed.
// The attempt counter is only created, never reset.
var saveChallengeLua = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[3], ARGV[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], '0', 'NX', 'PX', ARGV[2])
return 1
`)

// attemptChallengeLua counts one attempt against an open challenge and returns
// {codeHash, attempts}, or nil when no challenge is open.
var attemptChallengeLua = redis.NewScript(`
local code = redis.call('GET', KEYS[1])
if not code then
  return false
end
local n = redis.call('INCR', KEYS[2])
if n == 1 then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl > 0 then
    redis.call('PEXPIRE', KEYS[2], ttl)
  end
end
return {code, n}
`)

// consumeChallengeLua closes the challenge if it still holds ARGV[1] and remembers the code.
var consumeChallengeLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('PEXPIRE', KEYS[3], ARGV[2])
return 1
`)

type sessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

// RedisSessionRepo implements domain.SessionRepository using Redis.
type RedisSessionRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionRepo creates a new repository instance.
func NewRedisSessionRepo(client redis.UniversalClient) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

// Create stores the session with a TTL matching the refresh token's remaining lifetime.
func (r *RedisSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	const op = "repository.RedisSessionRepo.Create"

	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("%s: session already expired", op)
	}

	payload, err := json.Marshal(sessionRecord{
		ID:        s.ID,
		UserID:    s.UserID,
		TokenHash: s.TokenHash,
		IssuedAt:  s.IssuedAt.UTC(),
		ExpiresAt: s.ExpiresAt.UTC(),
		UserAgent: s.UserAgent,
		IP:        s.IP,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	indexKey := userSessionsKey(s.UserID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(s.UserID, s.TokenHash), payload, ttl)
		pipe.SAdd(ctx, indexKey, s.TokenHash)
		// Refresh TTLs are uniform, so the newest session always outlives the others.
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove atomically deletes the session if present. At most one concurrent caller gets true.
func (r *RedisSessionRepo) Remove(ctx context.Context, userID, tokenHash string) (bool, error) {
	const op = "repository.RedisSessionRepo.Remove"

	n, err := removeSessionLua.Run(ctx, r.client,
		[]string{sessionKey(userID, tokenHash), userSessionsKey(userID)}, tokenHash).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// RevokeAll drops every session of userID and returns how many were live.
func (r *RedisSessionRepo) RevokeAll(ctx context.Context, userID string) (int, error) {
	const op = "repository.RedisSessionRepo.RevokeAll"

	n, err := revokeAllLua.Run(ctx, r.client, []string{userSessionsKey(userID)}, sessionPrefix(userID)).Int()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ListByUser returns live sessions, newest first. Index entries whose session expired are pruned.
func (r *RedisSessionRepo) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	const op = "repository.RedisSessionRepo.ListByUser"

	indexKey := userSessionsKey(userID)
	hashes, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(hashes) == 0 {
		return []domain.Session{}, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = sessionKey(userID, h)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sessions := make([]domain.Session, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, hashes[i])
			continue
		}
		var rec sessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sessions = append(sessions, domain.Session{
			ID:        rec.ID,
			UserID:    rec.UserID,
			TokenHash: rec.TokenHash,
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.ExpiresAt,
			UserAgent: rec.UserAgent,
			IP:        rec.IP,
		})
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].IssuedAt.After(sessions[j].IssuedAt)
	})
	return sessions, nil
}

// SaveChallenge opens (or replaces) the second-factor challenge of ch.UserID.
// It returns domain.ErrConflict when ch.CodeHash was already consumed.
func (r *RedisSessionRepo) SaveChallenge(ctx context.Context, ch *domain.TwoFactorChallenge, ttl time.Duration) error {
	const op = "repository.RedisSessionRepo.SaveChallenge"

	keys := []string{challengeKey(ch.UserID), attemptsKey(ch.UserID), usedCodesKey(ch.UserID)}
	ok, err := saveChallengeLua.Run(ctx, r.client, keys, ch.CodeHash, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ok == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return nil
}

// AttemptChallenge records an attempt and returns the open challenge with the new count.
// It returns domain.ErrNotFound when no challenge is open.
func (r *RedisSessionRepo) AttemptChallenge(ctx context.Context, userID string) (*domain.TwoFactorChallenge, error) {
	const op = "repository.RedisSessionRepo.AttemptChallenge"

	res, err := attemptChallengeLua.Run(ctx, r.client, []string{challengeKey(userID), attemptsKey(userID)}).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%s: unexpected reply %v", op, res)
	}

	hash, _ := res[0].(string)
	attempts, _ := res[1].(int64)
	return &domain.TwoFactorChallenge{UserID: userID, CodeHash: hash, Attempts: int(attempts)}, nil
}

// ConsumeChallenge closes the challenge if it still expects codeHash. The code is then
// remembered for usedTTL so it is never issued again in that window. At most one
// concurrent caller gets true.
func (r *RedisSessionRepo) ConsumeChallenge(ctx context.Context, userID, codeHash string, usedTTL time.Duration) (bool, error) {
	const op = "repository.RedisSessionRepo.ConsumeChallenge"

	keys := []string{challengeKey(userID), attemptsKey(userID), usedCodesKey(userID)}
	n, err := consumeChallengeLua.Run(ctx, r.client, keys, codeHash, usedTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// ClearChallenge drops the open challenge. The attempt counter is kept until it expires.
func (r *RedisSessionRepo) ClearChallenge(ctx context.Context, userID string) error {
	err := r.client.Del(ctx, challengeKey(userID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("repository.RedisSessionRepo.ClearChallenge: %w", err)
	}
	return nil
}
