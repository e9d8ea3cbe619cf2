// Package memorystore stores greenlens user records in Redis.
//
// Each user is a Redis hash keyed by its id. Unique fields (username, email
// and Firebase uid) have index keys pointing at the user id, so lookups are a
// GET followed by an HGETALL. Creation checks and writes all keys in a single
// Lua script, which makes the uniqueness check atomic.
package memorystore

import (
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"

	v1 "github.com/greenlens/greenlens/api/v1"
	"github.com/greenlens/greenlens/metrics"
	"github.com/greenlens/greenlens/static"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by Create when the username, email or
	// Firebase uid is already registered.
	ErrUserExists = errors.New("user already exists")
)

// createScript writes the user hash and its index keys unless any index key
// exists. KEYS: user, username index, email index, uid index. ARGV: id,
// username, email, uid, createdAt.
const createScript = `
for i = 2, 4 do
  if redis.call('EXISTS', KEYS[i]) == 1 then
    return 0
  end
end
redis.call('HMSET', KEYS[1], 'id', ARGV[1], 'username', ARGV[2], 'email', ARGV[3], 'firebaseUid', ARGV[4], 'createdAt', ARGV[5])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[1])
redis.call('SET', KEYS[4], ARGV[1])
return 1
`

// record is the Redis hash representation of a user.
type record struct {
	ID          string `redis:"id"`
	Username    string `redis:"username"`
	Email       string `redis:"email"`
	FirebaseUID string `redis:"firebaseUid"`
	CreatedAt   string `redis:"createdAt"`
}

func (r *record) user() (*v1.User, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("user %s has invalid createdAt: %w", r.ID, err)
	}
	return &v1.User{
		ID:          r.ID,
		Username:    r.Username,
		Email:       r.Email,
		FirebaseUID: r.FirebaseUID,
		CreatedAt:   created,
	}, nil
}

// UserClient reads and writes users in Redis.
type UserClient struct {
	pool  *redis.Pool
	newID func() string
	now   func() time.Time
}

// NewUserClient returns a new UserClient that uses the given pool.
func NewUserClient(pool *redis.Pool) *UserClient {
	return &UserClient{
		pool:  pool,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

func userKey(id string) string {
	return static.RedisKeyPrefix + "user:" + id
}

func usernameKey(username string) string {
	return static.RedisKeyPrefix + "username:" + username
}

func emailKey(email string) string {
	return static.RedisKeyPrefix + "email:" + email
}

func uidKey(uid string) string {
	return static.RedisKeyPrefix + "uid:" + uid
}

// Exists reports whether the username is registered.
func (c *UserClient) Exists(username string) (bool, error) {
	t := time.Now()
	conn := c.pool.Get()
	defer conn.Close()

	ok, err := redis.Bool(conn.Do("EXISTS", usernameKey(username)))
	if err != nil {
		observe("exists", "EXISTS error", t)
		return false, err
	}
	observe("exists", "OK", t)
	return ok, nil
}

// FindByUsername returns the user registered with the username, or
// ErrUserNotFound.
func (c *UserClient) FindByUsername(username string) (*v1.User, error) {
	t := time.Now()
	conn := c.pool.Get()
	defer conn.Close()

	id, err := redis.String(conn.Do("GET", usernameKey(username)))
	if errors.Is(err, redis.ErrNil) {
		observe("find", "not found", t)
		return nil, ErrUserNotFound
	}
	if err != nil {
		observe("find", "GET error", t)
		return nil, err
	}

	values, err := redis.Values(conn.Do("HGETALL", userKey(id)))
	if err != nil {
		observe("find", "HGETALL error", t)
		return nil, err
	}
	if len(values) == 0 {
		// The index points at a missing record.
		observe("find", "not found", t)
		return nil, ErrUserNotFound
	}

	r := &record{}
	err = redis.ScanStruct(values, r)
	if err != nil {
		observe("find", "scan error", t)
		return nil, err
	}
	u, err := r.user()
	if err != nil {
		observe("find", "scan error", t)
		return nil, err
	}
	observe("find", "OK", t)
	return u, nil
}

// Create registers a new user. It returns ErrUserExists if any of the
// username, email or Firebase uid is taken.
func (c *UserClient) Create(username, email, firebaseUID string) (*v1.User, error) {
	t := time.Now()
	conn := c.pool.Get()
	defer conn.Close()

	u := &v1.User{
		ID:          c.newID(),
		Username:    username,
		Email:       email,
		FirebaseUID: firebaseUID,
		CreatedAt:   c.now().UTC(),
	}
	args := redis.Args{}.Add(createScript, 4).
		Add(userKey(u.ID), usernameKey(username), emailKey(email), uidKey(firebaseUID)).
		Add(u.ID, username, email, firebaseUID, u.CreatedAt.Format(time.RFC3339Nano))
	created, err := redis.Int(conn.Do("EVAL", args...))
	if err != nil {
		observe("create", "EVAL error", t)
		return nil, err
	}
	if created == 0 {
		observe("create", "exists", t)
		return nil, ErrUserExists
	}
	observe("create", "OK", t)
	return u, nil
}

// Ping checks the connection to Redis.
func (c *UserClient) Ping() error {
	t := time.Now()
	conn := c.pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	if err != nil {
		observe("ping", "PING error", t)
		return err
	}
	observe("ping", "OK", t)
	return nil
}

func observe(op, status string, start time.Time) {
	metrics.UserStoreRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
