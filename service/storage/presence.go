package storage

import (
	"context"
	"errors"
	"strconv"

	"PChatGate/tools/errs"

	"github.com/redis/go-redis/v9"
)

// ===== Lua 脚本 =====
// presence:conns:<uid> 是 ZSET(member=connId, score=到期毫秒)，在线边沿以它为准；
// 过期成员在每次访问时清理，实例崩溃留下的连接到期后自愈。

// KEYS[1]=presence:conns:<uid> KEYS[2]=socket:user:<uid> KEYS[3]=socket:id:<conn>
// KEYS[4]=online:users KEYS[5]=presence:<uid>
// ARGV[1]=connId ARGV[2]=uid ARGV[3]=nowMs ARGV[4]=expAtMs ARGV[5]=ttlSec ARGV[6]=nodeId
// 返回：1=该用户由离线变为在线（首个连接），0=已有其他连接
const luaConnect = `
local zConns  = KEYS[1]
local sSocks  = KEYS[2]
local kSock   = KEYS[3]
local online  = KEYS[4]
local kPres   = KEYS[5]
local conn    = ARGV[1]
local uid     = ARGV[2]
local now     = tonumber(ARGV[3])
local expAt   = tonumber(ARGV[4])
local ttl     = tonumber(ARGV[5])

local stale = redis.call("ZRANGEBYSCORE", zConns, "-inf", now)
for _, v in ipairs(stale) do
  redis.call("ZREM", zConns, v)
  redis.call("SREM", sSocks, v)
end
local before = redis.call("ZCARD", zConns)

redis.call("ZADD", zConns, expAt, conn)
redis.call("EXPIRE", zConns, ttl)
redis.call("SADD", sSocks, conn)
redis.call("EXPIRE", sSocks, ttl)
redis.call("SET", kSock, uid, "EX", ttl)
redis.call("SET", kPres, ARGV[6], "EX", ttl)
redis.call("SADD", online, uid)

if before == 0 then
  return 1
end
return 0
`

// KEYS 同 luaConnect；ARGV[1]=connId ARGV[2]=uid ARGV[3]=nowMs
// 返回：1=该用户由在线变为离线（最后一个连接），0=仍有连接或已离线（幂等）
const luaDisconnect = `
local zConns  = KEYS[1]
local sSocks  = KEYS[2]
local kSock   = KEYS[3]
local online  = KEYS[4]
local kPres   = KEYS[5]
local conn    = ARGV[1]
local uid     = ARGV[2]
local now     = tonumber(ARGV[3])

redis.call("ZREM", zConns, conn)
redis.call("SREM", sSocks, conn)
redis.call("DEL", kSock)

local stale = redis.call("ZRANGEBYSCORE", zConns, "-inf", now)
for _, v in ipairs(stale) do
  redis.call("ZREM", zConns, v)
  redis.call("SREM", sSocks, v)
end

if redis.call("ZCARD", zConns) > 0 then
  return 0
end
redis.call("DEL", zConns)
redis.call("DEL", sSocks)
redis.call("DEL", kPres)
return redis.call("SREM", online, uid)
`

// 心跳续期；连接映射已不存在时返回 0
// KEYS 同 luaConnect；ARGV[1]=connId ARGV[2]=uid ARGV[3]=expAtMs ARGV[4]=ttlSec
const luaTouch = `
local zConns  = KEYS[1]
local sSocks  = KEYS[2]
local kSock   = KEYS[3]
local online  = KEYS[4]
local kPres   = KEYS[5]
local ttl     = tonumber(ARGV[4])

if redis.call("EXISTS", kSock) == 0 then
  return 0
end
redis.call("EXPIRE", kSock, ttl)
redis.call("ZADD", zConns, tonumber(ARGV[3]), ARGV[1])
redis.call("EXPIRE", zConns, ttl)
redis.call("SADD", sSocks, ARGV[1])
redis.call("EXPIRE", sSocks, ttl)
redis.call("EXPIRE", kPres, ttl)
redis.call("SADD", online, ARGV[2])
return 1
`

// 批量在线过滤，一次往返。集合里有但连接全部过期的用户顺手移除。
// KEYS[1]=online:users；ARGV[1]=nowMs，ARGV[2..]=uid
// 返回：在线的 uid（保持入参顺序）
const luaFilterOnline = `
local online = KEYS[1]
local out    = {}
for i = 2, #ARGV do
  local uid = ARGV[i]
  if redis.call("SISMEMBER", online, uid) == 1 then
    if redis.call("ZCOUNT", "presence:conns:" .. uid, "(" .. ARGV[1], "+inf") > 0 then
      table.insert(out, uid)
    else
      redis.call("SREM", online, uid)
    end
  end
end
return out
`

func (c *Cache) presenceKeys(userID, connID string) []string {
	return []string{
		presenceConnsKey(userID),
		userSocketsKey(userID),
		socketKey(connID),
		onlineUsersKey,
		presenceKey(userID),
	}
}

func (c *Cache) ttlSeconds() int64 {
	s := int64(c.conf.SessionTTL.Seconds())
	if s < 1 {
		s = 1
	}
	return s
}

// Connect records both socket mappings and marks the user online.
// first is true only for the connection that takes the user from offline to online.
func (c *Cache) Connect(ctx context.Context, userID, connID string) (first bool, err error) {
	now := c.now()
	rc, err := c.luaConnect.Run(ctx, c.rdb, c.presenceKeys(userID, connID),
		connID,
		userID,
		now.UnixMilli(),
		now.Add(c.conf.SessionTTL).UnixMilli(),
		c.ttlSeconds(),
		c.conf.NodeID,
	).Int64()
	if err != nil {
		return false, errs.Transient(err, "presence connect", "userId", userID)
	}
	return rc == 1, nil
}

// Disconnect removes the mappings. last is true exactly once per offline edge.
func (c *Cache) Disconnect(ctx context.Context, userID, connID string) (last bool, err error) {
	rc, err := c.luaDisconnect.Run(ctx, c.rdb, c.presenceKeys(userID, connID),
		connID,
		userID,
		c.now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, errs.Transient(err, "presence disconnect", "userId", userID)
	}
	return rc == 1, nil
}

// Touch 续期连接映射；返回 false 表示映射已丢失（需要重新 Connect）
func (c *Cache) Touch(ctx context.Context, userID, connID string) (bool, error) {
	rc, err := c.luaTouch.Run(ctx, c.rdb, c.presenceKeys(userID, connID),
		connID,
		userID,
		c.now().Add(c.conf.SessionTTL).UnixMilli(),
		c.ttlSeconds(),
	).Int64()
	if err != nil {
		return false, errs.Transient(err, "presence touch", "userId", userID)
	}
	return rc == 1, nil
}

func (c *Cache) IsOnline(ctx context.Context, userID string) (bool, error) {
	on, err := c.FilterOnline(ctx, []string{userID})
	if err != nil {
		return false, err
	}
	return len(on) == 1, nil
}

// FilterOnline returns the subset of ids that are online, in input order.
func (c *Cache) FilterOnline(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return []string{}, nil
	}
	args := make([]any, 0, len(userIDs)+1)
	args = append(args, c.now().UnixMilli())
	for _, id := range userIDs {
		args = append(args, id)
	}
	out, err := c.luaFilter.Run(ctx, c.rdb, []string{onlineUsersKey}, args...).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errs.Transient(err, "filter online", "count", len(userIDs))
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// UserOfConn resolves connectionId → userId; ok is false when unknown or expired.
func (c *Cache) UserOfConn(ctx context.Context, connID string) (string, bool, error) {
	uid, err := c.rdb.Get(ctx, socketKey(connID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Transient(err, "socket lookup", "connId", connID)
	}
	return uid, true, nil
}

// ConnsOfUser lists the user's live connection ids across all instances.
func (c *Cache) ConnsOfUser(ctx context.Context, userID string) ([]string, error) {
	out, err := c.rdb.ZRangeByScore(ctx, presenceConnsKey(userID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(c.now().UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errs.Transient(err, "user sockets", "userId", userID)
	}
	return out, nil
}
