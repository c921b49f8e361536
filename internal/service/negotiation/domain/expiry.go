package domain

import (
	"context"
	"errors"
	"time"
)

// ExpireOverdue 把已过期的 pending 出价以 CAS 写为 Expired。
// 返回 true 表示本次调用完成了写入；出价未到期时返回 ErrNotOverdue。
// 版本冲突说明别人已经先动过这条记录，此时返回 (false, nil)，由调用方决定是否重读。
func ExpireOverdue(ctx context.Context, repo BidRepository, bid *Bid, now time.Time) (bool, error) {
	expected := bid.Version
	if err := bid.Expire(now); err != nil {
		return false, err
	}
	if err := repo.Update(ctx, bid, expected); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
