package localcache

import (
	"sync"
	"testing"

	"subtrack/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// CacheTestSuite provides a test suite for local cache operations
type CacheTestSuite struct {
	suite.Suite
	cache *Cache
}

// SetupTest runs before each test
func (suite *CacheTestSuite) SetupTest() {
	cache, err := NewCache(":memory:")
	require.NoError(suite.T(), err, "failed to create test cache")
	suite.cache = cache
}

// TearDownTest runs after each test
func (suite *CacheTestSuite) TearDownTest() {
	if suite.cache != nil {
		suite.cache.Close()
	}
}

func (suite *CacheTestSuite) TestGetMissingKey() {
	_, ok, err := suite.cache.Get("subscriptions_nobody")
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok)
}

func (suite *CacheTestSuite) TestSetReplacesValue() {
	require.NoError(suite.T(), suite.cache.Set("k", []byte("one")))
	require.NoError(suite.T(), suite.cache.Set("k", []byte("two")))

	blob, ok, err := suite.cache.Get("k")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), []byte("two"), blob)
}

func (suite *CacheTestSuite) TestSubscriptionsRoundTrip() {
	subs := []models.Subscription{
		{ID: "a", UserID: "u1", Name: "Claude Pro", Price: 20, BillingCycle: models.CycleMonthly, Category: "ai"},
		{ID: "local-b", UserID: "u1", Name: "Midjourney", Price: 96, BillingCycle: models.CycleYearly, IsLocal: true},
	}
	require.NoError(suite.T(), suite.cache.SaveSubscriptions("u1", subs))

	got, ok, err := suite.cache.LoadSubscriptions("u1")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), subs, got)
}

func (suite *CacheTestSuite) TestCollectionsAreKeyedPerUser() {
	require.NoError(suite.T(), suite.cache.SaveSubscriptions("u1", []models.Subscription{{ID: "a"}}))
	require.NoError(suite.T(), suite.cache.SaveSubscriptions("u2", []models.Subscription{{ID: "b"}, {ID: "c"}}))

	u1, ok, err := suite.cache.LoadSubscriptions("u1")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)
	assert.Len(suite.T(), u1, 1)

	u2, ok, err := suite.cache.LoadSubscriptions("u2")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)
	assert.Len(suite.T(), u2, 2)

	_, ok, err = suite.cache.LoadSubscriptions("u3")
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok)
}

func (suite *CacheTestSuite) TestConcurrentWritersDoNotCorrupt() {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = suite.cache.SaveSubscriptions("u1", []models.Subscription{{ID: "a", UserID: "u1"}})
		}()
	}
	wg.Wait()

	got, ok, err := suite.cache.LoadSubscriptions("u1")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)
	assert.Len(suite.T(), got, 1)
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}
