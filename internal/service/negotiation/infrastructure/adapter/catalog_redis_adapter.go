package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"bidhub/internal/pkg/redis"
	"bidhub/internal/service/negotiation/domain/port"
)

const (
	commitScriptName  = "inventory_commit"
	releaseScriptName = "inventory_release"
	settleScriptName  = "inventory_settle"

	// 所有键共用一个 hash tag，保证脚本在集群模式下落在同一个 slot
	keyPrefix    = "inventory:{catalog}"
	committedKey = keyPrefix + ":committed"
)

func productKey(productID string) string { return keyPrefix + ":product:" + productID }
func reservationKey(id string) string    { return keyPrefix + ":reservation:" + id }

// CatalogRedisAdapter 是 port.ProductCatalog 的 Redis 实现。
// 版本校验、库存扣减和预占记录写入在一个 Lua 脚本里原子完成。
type CatalogRedisAdapter struct {
	redisClient *redis.Client
}

func NewCatalogRedisAdapter(redisClient *redis.Client) (*CatalogRedisAdapter, error) {
	scripts := map[string]string{
		commitScriptName:  commitScript,
		releaseScriptName: releaseScript,
		settleScriptName:  settleScript,
	}
	for name, src := range scripts {
		if err := redisClient.LoadScriptFromContent(name, src); err != nil {
			return nil, fmt.Errorf("failed to load critical inventory script: %w", err)
		}
	}
	return &CatalogRedisAdapter{redisClient: redisClient}, nil
}

func (a *CatalogRedisAdapter) GetAvailability(ctx context.Context, productID string) (*port.Availability, error) {
	fields, err := a.redisClient.GetClient().HGetAll(ctx, productKey(productID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read availability: %w", err)
	}
	if len(fields) == 0 {
		return nil, port.ErrProductNotFound
	}
	total, _ := strconv.Atoi(fields["total"])
	available, _ := strconv.Atoi(fields["available"])
	version, _ := strconv.ParseInt(fields["version"], 10, 64)
	return &port.Availability{
		ProductID:         productID,
		Active:            fields["active"] == "1",
		TotalQuantity:     total,
		AvailableQuantity: available,
		Version:           version,
	}, nil
}

func (a *CatalogRedisAdapter) TryCommit(ctx context.Context, res port.Reservation, expectedVersion int64) (int64, error) {
	keys := []string{productKey(res.ProductID), reservationKey(res.ID), committedKey}
	args := []interface{}{expectedVersion, res.Quantity, res.ID, res.BidID, res.ProductID, res.CreatedAt.UnixMilli()}

	result, err := a.redisClient.RunScript(ctx, commitScriptName, keys, args...)
	if err != nil {
		return 0, fmt.Errorf("inventory adapter failed to run commit script: %w", err)
	}
	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	switch {
	case code > 0:
		return code, nil
	case code == -1:
		return 0, port.ErrInventoryConflict
	case code == -2:
		return 0, port.ErrInsufficientStock
	case code == -3:
		return 0, port.ErrProductNotFound
	default:
		return 0, fmt.Errorf("unknown result code from commit script: %d", code)
	}
}

func (a *CatalogRedisAdapter) Release(ctx context.Context, reservationID string) error {
	// 预占所属商品不会变化，先读出来才能把商品键声明给脚本
	productID, err := a.redisClient.GetClient().HGet(ctx, reservationKey(reservationID), "product").Result()
	if err == goredis.Nil {
		return port.ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("read reservation: %w", err)
	}
	keys := []string{productKey(productID), reservationKey(reservationID), committedKey}
	return a.runStatusScript(ctx, releaseScriptName, keys, reservationID)
}

func (a *CatalogRedisAdapter) Settle(ctx context.Context, reservationID string) error {
	keys := []string{reservationKey(reservationID), committedKey}
	return a.runStatusScript(ctx, settleScriptName, keys, reservationID)
}

func (a *CatalogRedisAdapter) runStatusScript(ctx context.Context, name string, keys []string, reservationID string) error {
	result, err := a.redisClient.RunScript(ctx, name, keys, reservationID)
	if err != nil {
		return fmt.Errorf("inventory adapter failed to run %s: %w", name, err)
	}
	if code, _ := result.(int64); code == -4 {
		return port.ErrReservationNotFound
	}
	return nil
}

func (a *CatalogRedisAdapter) ListCommitted(ctx context.Context, before time.Time, limit int) ([]port.Reservation, error) {
	rdb := a.redisClient.GetClient()
	ids, err := rdb.ZRangeByScore(ctx, committedKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list committed reservations: %w", err)
	}
	if len(ids) == 0 {
		return []port.Reservation{}, nil
	}

	pipe := rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, reservationKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	out := make([]port.Reservation, 0, len(ids))
	for i, cmd := range cmds {
		f := cmd.Val()
		if len(f) == 0 {
			continue
		}
		qty, _ := strconv.Atoi(f["quantity"])
		created, _ := strconv.ParseInt(f["created"], 10, 64)
		out = append(out, port.Reservation{
			ID:        ids[i],
			BidID:     f["bid"],
			ProductID: f["product"],
			Quantity:  qty,
			Status:    port.ReservationStatus(f["status"]),
			CreatedAt: time.UnixMilli(created),
		})
	}
	return out, nil
}

// PutProduct (测试和管理用) 初始化商品库存
func (a *CatalogRedisAdapter) PutProduct(ctx context.Context, productID string, total int, active bool) error {
	flag := "0"
	if active {
		flag = "1"
	}
	pipe := a.redisClient.GetClient().TxPipeline()
	pipe.HSet(ctx, productKey(productID), "active", flag, "total", total, "available", total)
	pipe.HIncrBy(ctx, productKey(productID), "version", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to prepare product: %w", err)
	}
	return nil
}

var commitScript = `
-- KEYS[1]: 商品库存 hash (active / total / available / version)
-- KEYS[2]: 预占记录 hash
-- KEYS[3]: committed 预占的有序集合，score 为创建时间
-- ARGV: expectedVersion, quantity, reservationId, bidId, productId, createdAtMs

if redis.call('exists', KEYS[1]) == 0 then
    return -3
end
local version = tonumber(redis.call('hget', KEYS[1], 'version'))
if version ~= tonumber(ARGV[1]) then
    return -1
end
local qty = tonumber(ARGV[2])
local available = tonumber(redis.call('hget', KEYS[1], 'available'))
if redis.call('hget', KEYS[1], 'active') ~= '1' or available < qty then
    return -2
end

redis.call('hincrby', KEYS[1], 'available', -qty)
local newVersion = redis.call('hincrby', KEYS[1], 'version', 1)
redis.call('hset', KEYS[2], 'bid', ARGV[4], 'product', ARGV[5], 'quantity', qty, 'status', 'committed', 'created', ARGV[6])
redis.call('zadd', KEYS[3], ARGV[6], ARGV[3])
return newVersion
`

var releaseScript = `
-- KEYS[1]: 商品库存 hash, KEYS[2]: 预占记录 hash, KEYS[3]: committed 有序集合
-- ARGV[1]: reservationId
local status = redis.call('hget', KEYS[2], 'status')
if not status then
    return -4
end
if status ~= 'committed' then
    return 0
end
redis.call('hset', KEYS[2], 'status', 'released')
redis.call('zrem', KEYS[3], ARGV[1])
redis.call('hincrby', KEYS[1], 'available', tonumber(redis.call('hget', KEYS[2], 'quantity')))
redis.call('hincrby', KEYS[1], 'version', 1)
return 1
`

var settleScript = `
-- KEYS[1]: 预占记录 hash, KEYS[2]: committed 有序集合
-- ARGV[1]: reservationId
local status = redis.call('hget', KEYS[1], 'status')
if not status then
    return -4
end
if status ~= 'committed' then
    return 0
end
redis.call('hset', KEYS[1], 'status', 'settled')
redis.call('zrem', KEYS[2], ARGV[1])
return 1
`
