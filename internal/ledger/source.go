package ledger

import (
	"context"
	"time"
)

// OffsetSource lists an account's transactions in pages addressed by an
// opaque offset.
type OffsetSource interface {
	// FetchPage returns the page following offset; nil offset returns the
	// newest page. An empty page is not an error.
	FetchPage(ctx context.Context, account string, offset *int64) (*Page, error)

	// LatestPosition returns the newest known offset for the account.
	// ok is false when the account has no transactions.
	LatestPosition(ctx context.Context, account string) (offset int64, ok bool, err error)
}

// HeightSource exposes block metadata and event search by height.
type HeightSource interface {
	// LatestHeight returns the current chain height.
	LatestHeight(ctx context.Context) (int64, error)

	// BlockTime returns the block timestamp at height.
	BlockTime(ctx context.Context, height int64) (time.Time, error)

	// SearchTxs returns one page of transactions matching the query.
	SearchTxs(ctx context.Context, q SearchQuery) (*SearchPage, error)
}
