package mongo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

func TestWatchPipeline(t *testing.T) {
	assert.Empty(t, watchPipeline(nil))

	p := watchPipeline(map[string]any{"business_id": "b1", "active": true})
	require.Len(t, p, 1)

	stage := p[0]
	require.Equal(t, "$match", stage[0].Key)
	or := stage[0].Value.(bson.D)[0]
	require.Equal(t, "$or", or.Key)

	branches := or.Value.(bson.A)
	require.Len(t, branches, 2)
	assert.Equal(t, bson.D{
		{Key: "fullDocument.active", Value: true},
		{Key: "fullDocument.business_id", Value: "b1"},
	}, branches[0])
	assert.Equal(t, bson.D{{Key: "operationType", Value: "delete"}}, branches[1])
}

func TestFindOptions(t *testing.T) {
	opts := findOptions(ports.Query{SortBy: "created_at", Descending: true, Limit: 20})
	assert.Equal(t, bson.D{{Key: "created_at", Value: -1}}, opts.Sort)
	require.NotNil(t, opts.Limit)
	assert.Equal(t, int64(20), *opts.Limit)

	opts = findOptions(ports.Query{})
	assert.Nil(t, opts.Sort)
	assert.Nil(t, opts.Limit)
}

func TestFilterDoc(t *testing.T) {
	assert.Equal(t, bson.M{"customer_id": "u1"}, filterDoc(map[string]any{"customer_id": "u1"}))
	assert.Equal(t, bson.M{}, filterDoc(nil))
}

func TestPromotionDiscount(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		p        promotion
		subtotal domain.Money
		want     domain.Money
		wantErr  error
	}{
		{"fixed amount", promotion{Active: true, AmountOff: 1_000}, 20_000, 1_000, nil},
		{"percentage", promotion{Active: true, PercentBps: 1_000}, 20_000, 2_000, nil},
		{"combined", promotion{Active: true, AmountOff: 500, PercentBps: 500}, 10_000, 1_000, nil},
		{"capped at subtotal", promotion{Active: true, AmountOff: 50_000}, 20_000, 20_000, nil},
		{"inactive", promotion{AmountOff: 1_000}, 20_000, 0, domain.ErrPromotionNotApplicable},
		{"expired", promotion{Active: true, AmountOff: 1_000, ExpiresAt: &past}, 20_000, 0, domain.ErrPromotionNotApplicable},
		{"not yet expired", promotion{Active: true, AmountOff: 1_000, ExpiresAt: &future}, 20_000, 1_000, nil},
		{"below minimum", promotion{Active: true, AmountOff: 1_000, MinSubtotal: 30_000}, 20_000, 0, domain.ErrPromotionNotApplicable},
		{"empty cart", promotion{Active: true, AmountOff: 1_000}, 0, 0, domain.ErrPromotionNotApplicable},
		{"zero value", promotion{Active: true}, 20_000, 0, domain.ErrPromotionNotApplicable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.p.discount(tt.subtotal, now)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToAccount(t *testing.T) {
	acc := toAccount(mongoAccount{Email: "a@example.com", PasswordHash: "h", CreatedAt: 1_700_000_000})
	assert.Equal(t, "a@example.com", acc.Email)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), acc.CreatedAt)
	assert.True(t, acc.UpdatedAt.IsZero())
}

func TestReconnectBackOff(t *testing.T) {
	bo := reconnectBackOff(50*time.Millisecond, 400*time.Millisecond)
	assert.Equal(t, 2.0, bo.Multiplier)

	for i := 0; i < 15; i++ {
		d := bo.NextBackOff()
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, 480*time.Millisecond, "attempt %d", i)
	}

	// A max below the initial interval keeps the default cap.
	bo = reconnectBackOff(time.Second, time.Millisecond)
	assert.Equal(t, 30*time.Second, bo.MaxInterval)
}
