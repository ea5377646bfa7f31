package redisqueue

import "github.com/go-redis/redis/v8"

// All scripts take the current time in unix milliseconds as an argument so the
// queue clock can be injected.

// KEYS: wait, msg  ARGV: id, payload, max_attempts, backoff_ms, now
var publishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('HSET', KEYS[2],
  'id', ARGV[1],
  'payload', ARGV[2],
  'attempts', 0,
  'max_attempts', ARGV[3],
  'backoff_ms', ARGV[4],
  'state', 'waiting',
  'progress', 0,
  'created_on', ARGV[5])
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// KEYS: wait, active, delayed, failed  ARGV: now, visibility_ms, token, msg_prefix
//
// Message hashes live at msg_prefix..id and are built inside the script, so
// on Redis Cluster every key of a queue must share one hash slot.
// Ids whose hash has gone are dropped from the wait list.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local prefix = ARGV[4]

local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('HSET', prefix .. id, 'state', 'waiting')
  redis.call('LPUSH', KEYS[1], id)
end

local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. now)
for _, id in ipairs(expired) do
  local key = prefix .. id
  redis.call('ZREM', KEYS[2], id)
  redis.call('HDEL', key, 'token')
  local attempts = tonumber(redis.call('HGET', key, 'attempts') or '0')
  local max = tonumber(redis.call('HGET', key, 'max_attempts') or '1')
  if attempts >= max then
    redis.call('HSET', key, 'state', 'failed', 'failed_reason', 'visibility timeout expired', 'finished_on', ARGV[1])
    redis.call('ZADD', KEYS[4], now, id)
  else
    local base = tonumber(redis.call('HGET', key, 'backoff_ms') or '0')
    local at = now + base * (2 ^ (attempts - 1))
    redis.call('HSET', key, 'failed_reason', 'visibility timeout expired')
    if at <= now then
      redis.call('HSET', key, 'state', 'waiting')
      redis.call('LPUSH', KEYS[1], id)
    else
      redis.call('HSET', key, 'state', 'delayed')
      redis.call('ZADD', KEYS[3], string.format('%d', at), id)
    end
  end
end

local id = redis.call('RPOP', KEYS[1])
while id and redis.call('EXISTS', prefix .. id) == 0 do
  id = redis.call('RPOP', KEYS[1])
end
if not id then
  return false
end
local key = prefix .. id
local attempts = redis.call('HINCRBY', key, 'attempts', 1)
redis.call('HSET', key, 'state', 'active', 'token', ARGV[3], 'processed_on', ARGV[1], 'progress', 0)
redis.call('ZADD', KEYS[2], string.format('%d', now + tonumber(ARGV[2])), id)
return {id, redis.call('HGET', key, 'payload'), tostring(attempts), redis.call('HGET', key, 'max_attempts')}
`)

// ownedCheck fences every mutation: the caller must hold the current token and
// its visibility deadline must not have passed.
// KEYS[1] is always the active set and KEYS[2] the message hash.
// ARGV[1] id, ARGV[2] token, ARGV[3] now.
const ownedCheck = `
local function owned()
  if redis.call('HGET', KEYS[2], 'token') ~= ARGV[2] then
    return false
  end
  local deadline = redis.call('ZSCORE', KEYS[1], ARGV[1])
  if not deadline or tonumber(deadline) < tonumber(ARGV[3]) then
    return false
  end
  return true
end
`

// KEYS: active, msg, completed
var ackScript = redis.NewScript(ownedCheck + `
if not owned() then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], 'token')
redis.call('HSET', KEYS[2], 'state', 'completed', 'finished_on', ARGV[3], 'progress', 100)
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// KEYS: active, msg, delayed, failed  ARGV[4]: retry flag, ARGV[5]: reason
var nackScript = redis.NewScript(ownedCheck + `
if not owned() then
  return false
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], 'token')
local attempts = tonumber(redis.call('HGET', KEYS[2], 'attempts') or '0')
local max = tonumber(redis.call('HGET', KEYS[2], 'max_attempts') or '1')
if ARGV[4] == '1' and attempts < max then
  local base = tonumber(redis.call('HGET', KEYS[2], 'backoff_ms') or '0')
  local at = tonumber(ARGV[3]) + base * (2 ^ (attempts - 1))
  redis.call('HSET', KEYS[2], 'state', 'delayed', 'failed_reason', ARGV[5])
  redis.call('ZADD', KEYS[3], string.format('%d', at), ARGV[1])
  return 'delayed'
end
redis.call('HSET', KEYS[2], 'state', 'failed', 'failed_reason', ARGV[5], 'finished_on', ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 'failed'
`)

// KEYS: active, msg  ARGV[4]: visibility_ms
var extendScript = redis.NewScript(ownedCheck + `
if not owned() then
  return 0
end
redis.call('ZADD', KEYS[1], string.format('%d', tonumber(ARGV[3]) + tonumber(ARGV[4])), ARGV[1])
return 1
`)

// KEYS: active, msg  ARGV[4]: percent
var progressScript = redis.NewScript(ownedCheck + `
if not owned() then
  return 0
end
redis.call('HSET', KEYS[2], 'progress', ARGV[4])
return 1
`)
