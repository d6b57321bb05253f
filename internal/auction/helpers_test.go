package auction

import (
	"time"

	"github.com/addisbid/auction-server/configs"
	"github.com/addisbid/auction-server/internal/database/databasetest"
)

func newMemStore() *databasetest.MemStore {
	return databasetest.New()
}

func testConfig() *configs.Config {
	cfg := &configs.Config{}
	cfg.Auction.MinBidIncrement = 1
	cfg.Auction.EndingSoonWindow = time.Hour
	cfg.Auction.ScanInterval = time.Second
	cfg.Auction.MaxBidRetries = 3
	return cfg
}
