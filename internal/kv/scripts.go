package kv

// Every read-modify-write KV mutation is a server-side Lua script so
// concurrent gateway processes never interleave one. Scripts below are
// ported verbatim from the system this gateway replaces.

// quotaCheckScript: KEYS[1] = quota key. Returns 1 allowed, 0 exceeded, -1 not found.
const quotaCheckScript = `
local exists = redis.call('EXISTS', KEYS[1])
if exists == 0 then return -1 end

local isUnlimited = redis.call('HGET', KEYS[1], 'isUnlimited')
if isUnlimited == '1' then return 1 end

local remaining = tonumber(redis.call('HGET', KEYS[1], 'remaining'))
if remaining == nil then return -1 end
if remaining <= 0 then return 0 end

redis.call('HINCRBY', KEYS[1], 'remaining', -1)
return 1
`

// setQuotaIfNotExistsScript: KEYS[1] = quota key. ARGV = remaining, limit,
// periodEnd, isUnlimited, userId, ttlSeconds. Returns 1 if set, 0 if the key
// already existed (first warmer wins, never clobbers a decremented counter).
const setQuotaIfNotExistsScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'remaining', ARGV[1], 'limit', ARGV[2],
           'periodEnd', ARGV[3], 'isUnlimited', ARGV[4], 'userId', ARGV[5])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[6]))
return 1
`

// batchTakeScript: KEYS[1] = buffer list. ARGV[1] = max count. Returns up to
// count items from the tail (oldest first), trimming or deleting the list.
const batchTakeScript = `
local count = tonumber(ARGV[1])
local len = redis.call('LLEN', KEYS[1])
if len == 0 then return {} end
local take = math.min(count, len)
local items = redis.call('LRANGE', KEYS[1], -take, -1)
if take >= len then
    redis.call('DEL', KEYS[1])
else
    redis.call('LTRIM', KEYS[1], 0, len - take - 1)
end
return items
`

// allowRequestScript: KEYS[1] = cb:state, KEYS[2] = cb:probe. ARGV[1] =
// half-open TTL seconds. Returns 1 allowed, 0 rejected.
const allowRequestScript = `
local state = redis.call('GET', KEYS[1])
if state == false or state == 'closed' then
    return 1
end

if state == 'open' then
    local ttl = redis.call('TTL', KEYS[1])
    if ttl <= 0 then
        redis.call('SET', KEYS[1], 'half-open', 'EX', tonumber(ARGV[1]))
        redis.call('SET', KEYS[2], '1', 'EX', 30, 'NX')
        return 1
    end
    return 0
end

if state == 'half-open' then
    local probe = redis.call('SET', KEYS[2], '1', 'EX', 30, 'NX')
    if probe then
        return 1
    end
    return 0
end

return 1
`

// recordFailureScript: KEYS[1] = cb:state, KEYS[2] = cb:failures, KEYS[3] =
// cb:probe. ARGV[1] = threshold, ARGV[2] = cooldown seconds, ARGV[3] =
// failures TTL seconds. Returns the failure count after increment.
const recordFailureScript = `
local count = redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[3]))
redis.call('DEL', KEYS[3])

if count >= tonumber(ARGV[1]) then
    redis.call('SET', KEYS[1], 'open', 'EX', tonumber(ARGV[2]))
    return count
end

local state = redis.call('GET', KEYS[1])
if state == 'half-open' then
    redis.call('SET', KEYS[1], 'open', 'EX', tonumber(ARGV[2]))
end

return count
`
