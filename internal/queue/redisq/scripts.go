package redisq

import "github.com/redis/go-redis/v9"

// KEYS: dedup, waiting, job
// ARGV: id, name, payload, max_attempts, backoff_ms, enqueued_at, visible_at, dedup_ttl_ms
var enqueueScript = redis.NewScript(`
if ARGV[2] ~= '' then
	local ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[8])
	if not ok then
		return redis.call('GET', KEYS[1])
	end
end
redis.call('HSET', KEYS[3],
	'id', ARGV[1], 'name', ARGV[2], 'payload', ARGV[3],
	'attempts', '0', 'max_attempts', ARGV[4], 'backoff_ms', ARGV[5],
	'enqueued_at', ARGV[6], 'stalls', '0')
redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
return ARGV[1]
`)

// KEYS: waiting, active, failed
// ARGV: now, lease_expiry, lease_token, max_stalls, job_key_prefix
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	local jk = ARGV[5] .. id
	redis.call('ZREM', KEYS[2], id)
	redis.call('HDEL', jk, 'lease_token')
	local stalls = redis.call('HINCRBY', jk, 'stalls', '1')
	if stalls > tonumber(ARGV[4]) then
		redis.call('HSET', jk, 'last_error', 'lease expired', 'failed_at', ARGV[1])
		redis.call('LPUSH', KEYS[3], id)
	else
		redis.call('ZADD', KEYS[1], ARGV[1], id)
	end
end

local ready = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', '1')
if #ready == 0 then
	return false
end

local id = ready[1]
local jk = ARGV[5] .. id
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', jk, 'lease_token', ARGV[3], 'lease_expiry', ARGV[2])
redis.call('HINCRBY', jk, 'attempts', '1')
return redis.call('HGETALL', jk)
`)

// KEYS: active, job
// ARGV: lease_token, id
var completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'lease_token') ~= ARGV[1] then
	return 0
end
if not redis.call('ZSCORE', KEYS[1], ARGV[2]) then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('DEL', KEYS[2])
return 1
`)

// KEYS: active, job, waiting, failed
// ARGV: lease_token, id, last_error, now, retry_at
// Returns -1 if the lease is gone, 0 if the job failed for good, 1 if rescheduled.
var failScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'lease_token') ~= ARGV[1] then
	return -1
end
if not redis.call('ZSCORE', KEYS[1], ARGV[2]) then
	return -1
end
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('HDEL', KEYS[2], 'lease_token')
redis.call('HSET', KEYS[2], 'last_error', ARGV[3])

local attempts = tonumber(redis.call('HGET', KEYS[2], 'attempts'))
local maxAttempts = tonumber(redis.call('HGET', KEYS[2], 'max_attempts'))
if attempts >= maxAttempts then
	redis.call('HSET', KEYS[2], 'failed_at', ARGV[4])
	redis.call('LPUSH', KEYS[4], ARGV[2])
	return 0
end
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[2])
return 1
`)

// KEYS: active, job
// ARGV: lease_token, id, lease_expiry
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'lease_token') ~= ARGV[1] then
	return 0
end
if not redis.call('ZSCORE', KEYS[1], ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[2], 'lease_expiry', ARGV[3])
return 1
`)
