package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChange(restaurantID uuid.UUID, op ChangeOp) Change {
	return Change{
		RestaurantID: restaurantID,
		RatingID:     uuid.New(),
		Op:           op,
		At:           time.Now(),
	}
}

func TestChangeFeed_DeliversInPublishOrder(t *testing.T) {
	feed := NewChangeFeed()
	defer feed.Close()

	var got []Change
	feed.Subscribe(func(batch []Change) {
		got = append(got, batch...)
	})

	a := testChange(uuid.New(), ChangeCreate)
	b := testChange(uuid.New(), ChangeUpdate)
	c := testChange(uuid.New(), ChangeCreate)

	feed.Publish(a)
	feed.Publish(b, c)

	require.Len(t, got, 3)
	assert.Equal(t, a.RatingID, got[0].RatingID)
	assert.Equal(t, b.RatingID, got[1].RatingID)
	assert.Equal(t, c.RatingID, got[2].RatingID)
}

func TestChangeFeed_EmptyPublishIsNoOp(t *testing.T) {
	feed := NewChangeFeed()
	defer feed.Close()

	calls := 0
	feed.Subscribe(func([]Change) { calls++ })

	feed.Publish()
	assert.Equal(t, 0, calls)
}

func TestChangeFeed_UnsubscribeStopsDelivery(t *testing.T) {
	feed := NewChangeFeed()
	defer feed.Close()

	calls := 0
	unsub := feed.Subscribe(func([]Change) { calls++ })

	feed.Publish(testChange(uuid.New(), ChangeCreate))
	unsub()
	feed.Publish(testChange(uuid.New(), ChangeCreate))

	assert.Equal(t, 1, calls)
}

func TestChangeFeed_PanickingSubscriberIsolated(t *testing.T) {
	feed := NewChangeFeed()
	defer feed.Close()

	feed.Subscribe(func([]Change) { panic("subscriber bug") })

	calls := 0
	feed.Subscribe(func([]Change) { calls++ })

	feed.Publish(testChange(uuid.New(), ChangeCreate))
	assert.Equal(t, 1, calls)
}

func TestChangeFeed_CloseDropsSubscribers(t *testing.T) {
	feed := NewChangeFeed()

	calls := 0
	feed.Subscribe(func([]Change) { calls++ })

	feed.Close()
	feed.Publish(testChange(uuid.New(), ChangeCreate))

	assert.Equal(t, 0, calls)
}
