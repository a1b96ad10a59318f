package redis

import "github.com/redis/go-redis/v9"

// addRowsScript inserts rows and appends them to the table's ordered id set.
// KEYS: seq, ids, row keys... ARGV: marker field, row count, then per row: id, field count, field/value pairs.
var addRowsScript = redis.NewScript(`
local marker = ARGV[1]
local n = tonumber(ARGV[2])
local a = 3
for i = 1, n do
	local id = ARGV[a]
	local nf = tonumber(ARGV[a + 1])
	a = a + 2
	local key = KEYS[2 + i]
	redis.call('HSET', key, marker, id)
	for j = 1, nf do
		redis.call('HSET', key, ARGV[a], ARGV[a + 1])
		a = a + 2
	end
	local seq = redis.call('INCR', KEYS[1])
	redis.call('ZADD', KEYS[2], seq, id)
end
return n
`)

// updateRowsScript merges fields into existing rows, all or none. It returns 0, or the 1-based
// index of the first row that does not exist.
// KEYS: row keys... ARGV: per row: field count, field/value pairs.
var updateRowsScript = redis.NewScript(`
for i = 1, #KEYS do
	if redis.call('EXISTS', KEYS[i]) == 0 then
		return i
	end
end
local a = 1
for i = 1, #KEYS do
	local nf = tonumber(ARGV[a])
	a = a + 1
	for j = 1, nf do
		redis.call('HSET', KEYS[i], ARGV[a], ARGV[a + 1])
		a = a + 2
	end
end
return 0
`)

// deleteAllScript removes every row of a table.
// KEYS: ids. ARGV: row key prefix.
var deleteAllScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)

// unlockScript deletes the lock only when still held by the given owner. Returns 1 when it did.
// KEYS: lock. ARGV: owner.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
