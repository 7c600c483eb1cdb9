package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"pastebox/cfg"
	"pastebox/pkg/domain"
	"pastebox/pkg/seal"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// deadGrace keeps a dead hash around long enough for other instances to see
// the terminal state before Redis evicts it.
const deadGrace = 10 * time.Minute

var (
	insertScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 1 then
			return 0
		end
		redis.call("HSET", KEYS[1],
			"content", ARGV[1],
			"created_at", ARGV[2],
			"expires_at", ARGV[3],
			"max_views", ARGV[4],
			"views", ARGV[5])
		if tonumber(ARGV[6]) > 0 then
			redis.call("PEXPIREAT", KEYS[1], ARGV[6])
		end
		return 1
	`)
	// incrementScript returns the new count, or -1 missing, -2 view limit,
	// -3 recorded as expired.
	incrementScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 0 then
			return -1
		end
		local dead = redis.call("HGET", KEYS[1], "dead")
		if dead == "expired" then
			return -3
		elseif dead then
			return -2
		end
		local limit = tonumber(ARGV[1])
		if limit then
			local views = tonumber(redis.call("HGET", KEYS[1], "views"))
			if views >= limit then
				return -2
			end
		end
		local n = redis.call("HINCRBY", KEYS[1], "views", 1)
		if limit and n >= limit then
			redis.call("HSET", KEYS[1], "dead", "view_limit")
			local ttl = redis.call("PTTL", KEYS[1])
			if ttl < 0 or ttl > tonumber(ARGV[2]) then
				redis.call("PEXPIRE", KEYS[1], ARGV[2])
			end
		end
		return n
	`)
	markScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 0 then
			return false
		end
		redis.call("HSETNX", KEYS[1], "dead", ARGV[1])
		local ttl = redis.call("PTTL", KEYS[1])
		if ttl < 0 or ttl > tonumber(ARGV[2]) then
			redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return redis.call("HGET", KEYS[1], "dead")
	`)
)

// Redis keeps each paste in a hash. Inserts and view increments run as Lua
// scripts so each is a single atomic step on the server. Scripts go through
// their own client with retries off: a lost reply must not run a write twice.
type Redis struct {
	client  *redis.Client
	scripts *redis.Client
	prefix  string
	timeout time.Duration
	sealer  *seal.Sealer
	breaker breaker
}

func NewRedis(url string, c *cfg.Cfg, sealer *seal.Sealer) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		host, _, err := net.SplitHostPort(opt.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "redis address")
		}
		tlsConfig, err := buildRedisTLSConfig(host)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisWithClient(client, c.RedisPrefix, c.RedisTimeout, sealer), nil
}

func NewRedisWithClient(client *redis.Client, prefix string, timeout time.Duration, sealer *seal.Sealer) *Redis {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Redis{
		client:  client,
		scripts: redis.NewClient(noRetry(client.Options())),
		prefix:  prefix,
		timeout: timeout,
		sealer:  sealer,
	}
}

func noRetry(opt *redis.Options) *redis.Options {
	o := *opt
	o.MaxRetries = -1
	return &o
}

func buildRedisTLSConfig(serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}
	if certPath := os.Getenv("REDIS_TLS_CA_CERT"); certPath != "" {
		caCert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read Redis CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append Redis CA cert to pool")
		}
		tlsConfig.RootCAs = certPool
		return tlsConfig, nil
	}
	systemPool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system cert pool: %w", err)
	}
	tlsConfig.RootCAs = systemPool
	return tlsConfig, nil
}

func (r *Redis) key(id string) string {
	return r.prefix + ":paste:" + id
}

func (r *Redis) Insert(ctx context.Context, p *domain.Paste) error {
	if err := r.breaker.check(); err != nil {
		return unavailable("insert", err)
	}
	content, err := r.sealer.Seal(p.ID, []byte(p.Content))
	if err != nil {
		return errors.Wrap(err, "seal content")
	}
	var expiresAt, maxViews string
	var expireAtMs int64
	if p.ExpiresAt != nil {
		expiresAt = strconv.FormatInt(p.ExpiresAt.UnixMilli(), 10)
		expireAtMs = p.ExpiresAt.Add(deadGrace).UnixMilli()
	}
	if p.MaxViews != nil {
		maxViews = strconv.Itoa(*p.MaxViews)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ok, err := insertScript.Run(ctx, r.scripts, []string{r.key(p.ID)},
		content,
		p.CreatedAt.UnixMilli(),
		expiresAt,
		maxViews,
		p.ViewCount,
		expireAtMs,
	).Int()
	if err == nil && ok == 0 {
		err = domain.ErrDuplicateID
	}
	r.breaker.record(err)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateID) {
			return err
		}
		return unavailable("insert", err)
	}
	return nil
}

func (r *Redis) FindByID(ctx context.Context, id string) (*domain.Paste, error) {
	if err := r.breaker.check(); err != nil {
		return nil, unavailable("find", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	r.breaker.record(err)
	if err != nil {
		return nil, unavailable("find", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrPasteNotFound
	}
	p, err := r.decode(id, fields)
	if err != nil {
		return nil, unavailable("find", err)
	}
	return p, nil
}

func (r *Redis) IncrementView(ctx context.Context, id string, limit *int) (int, error) {
	if err := r.breaker.check(); err != nil {
		return 0, unavailable("increment", err)
	}
	var lim string
	if limit != nil {
		lim = strconv.Itoa(*limit)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := incrementScript.Run(ctx, r.scripts, []string{r.key(id)}, lim, deadGrace.Milliseconds()).Int()
	if err == nil {
		switch n {
		case -1:
			err = domain.ErrPasteNotFound
		case -2:
			err = domain.ErrViewLimit
		case -3:
			err = domain.ErrPasteExpired
		}
	}
	r.breaker.record(err)
	switch {
	case err == nil:
		return n, nil
	case domain.Gone(err):
		return 0, err
	}
	return 0, unavailable("increment", err)
}

// MarkDead records reason unless an earlier one is stored and shortens the
// key to the grace window. It returns the reason now on record.
func (r *Redis) MarkDead(ctx context.Context, id, reason string) (string, error) {
	if err := r.breaker.check(); err != nil {
		return "", unavailable("mark", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	stored, err := markScript.Run(ctx, r.scripts, []string{r.key(id)}, reason, deadGrace.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		err = domain.ErrPasteNotFound
	}
	r.breaker.record(err)
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, domain.ErrPasteNotFound):
		return "", err
	}
	return "", unavailable("mark", err)
}

// PurgeDead is a no-op: keys carry their own expiry.
func (r *Redis) PurgeDead(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (r *Redis) Close() error {
	var err error
	if r.scripts != nil {
		err = r.scripts.Close()
	}
	if r.client != nil {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (r *Redis) decode(id string, f map[string]string) (*domain.Paste, error) {
	content, err := r.sealer.Open(id, []byte(f["content"]))
	if err != nil {
		return nil, errors.Wrapf(err, "open paste %s", id)
	}
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	views, err := strconv.Atoi(f["views"])
	if err != nil {
		return nil, errors.Wrap(err, "parse views")
	}
	p := &domain.Paste{
		ID:         id,
		Content:    string(content),
		CreatedAt:  time.UnixMilli(created).UTC(),
		ViewCount:  views,
		DeadReason: f["dead"],
	}
	if v := f["expires_at"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse expires_at")
		}
		t := time.UnixMilli(ms).UTC()
		p.ExpiresAt = &t
	}
	if v := f["max_views"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "parse max_views")
		}
		p.MaxViews = &n
	}
	return p, nil
}
