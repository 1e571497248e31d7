package trigger

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeout = 5 * time.Second

func newTestRegistry() *Registry {
	return NewRegistry(zap.New(zapcore.NewNopCore()))
}

// registrySuite tests Registry.
type registrySuite struct {
	suite.Suite
	registry *Registry
}

func (suite *registrySuite) SetupTest() {
	suite.registry = newTestRegistry()
}

func (suite *registrySuite) TestGetSameChannelForSameKey() {
	id := uuid.New()
	first := suite.registry.Get(KindUser, id)
	second := suite.registry.Get(KindUser, id)
	suite.True(first == second, "should return the same signal for the same key")
}

func (suite *registrySuite) TestGetDifferentChannelsForDifferentKinds() {
	id := uuid.New()
	user := suite.registry.Get(KindUser, id)
	ticker := suite.registry.Get(KindTicker, id)
	suite.False(user == ticker, "should return different signals for different kinds")
}

func (suite *registrySuite) TestFireSignalsWaiter() {
	id := uuid.New()
	signal := suite.registry.Get(KindTicker, id)
	suite.registry.Fire(KindTicker, id)
	select {
	case <-signal:
	case <-time.After(timeout):
		suite.Fail("timeout", "signal should be fired")
	}
}

func (suite *registrySuite) TestFireWithoutWaiterIsNoOp() {
	suite.NotPanics(func() {
		suite.registry.Fire(KindUser, uuid.New())
	}, "firing with no subscriber should be a no-op")
}

// TestFireConsumesSignal assures that firing removes the signal so that the
// next Get returns a fresh, unsignaled channel.
func (suite *registrySuite) TestFireConsumesSignal() {
	id := uuid.New()
	old := suite.registry.Get(KindUser, id)
	suite.registry.Fire(KindUser, id)
	fresh := suite.registry.Get(KindUser, id)
	suite.False(old == fresh, "should create a fresh signal after fire")
	select {
	case <-fresh:
		suite.Fail("stale signal", "fresh signal should not be fired")
	default:
	}
}

func (suite *registrySuite) TestFireTwiceDoesNotPanic() {
	id := uuid.New()
	suite.registry.Get(KindUser, id)
	suite.registry.Fire(KindUser, id)
	suite.NotPanics(func() {
		suite.registry.Fire(KindUser, id)
	}, "second fire should hit a missing signal and do nothing")
}

func (suite *registrySuite) TestLenCountsHeldSignals() {
	suite.Equal(0, suite.registry.Len(), "fresh registry should hold no signals")
	id := uuid.New()
	suite.registry.Get(KindUser, id)
	suite.registry.Get(KindTicker, id)
	suite.Equal(2, suite.registry.Len(), "should count one signal per key")
	suite.registry.Fire(KindUser, id)
	suite.Equal(1, suite.registry.Len(), "fired signal should be removed")
}

func (suite *registrySuite) TestConcurrentGetAndFire() {
	id := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			suite.registry.Get(KindTicker, id)
		}()
		go func() {
			defer wg.Done()
			suite.registry.Fire(KindTicker, id)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		suite.Fail("timeout", "concurrent usage should not deadlock")
	}
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(registrySuite))
}

func TestRegistry_Schedule(t *testing.T) {
	registry := newTestRegistry()
	id := uuid.New()
	signal := registry.Get(KindUser, id)
	registry.Schedule(KindUser, id, 10*time.Millisecond)
	select {
	case <-signal:
	case <-time.After(timeout):
		t.Fatal("scheduled fire should run")
	}
	// The consumed signal must be replaced on next Get.
	fresh := registry.Get(KindUser, id)
	require.NotNil(t, fresh)
	select {
	case <-fresh:
		assert.Fail(t, "fresh signal should not be fired")
	default:
	}
}
