package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maelstrand/winetrade/internal/models"
)

func TestAcceptPartialSelection(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, events := newStoreAndEngine(db)

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		Title: "Piemonte selection",
		Lines: []LineInput{
			{SequenceNo: 1, Name: "Barolo DOCG", Vintage: 2019, Quantity: 6, UnitPriceCents: price(10000)},
			{SequenceNo: 2, Name: "Barbaresco DOCG", Vintage: 2020, Quantity: 6, UnitPriceCents: price(15000)},
		},
	})

	result, err := engine.Accept(restaurant, offer.ID, []int{1})
	require.NoError(t, err)
	assert.Equal(t, int64(60000), result.TotalCents)
	assert.True(t, result.Partial)
	assert.Equal(t, []int{1}, result.AcceptedSequences)
	assert.Equal(t, models.OfferAccepted, result.Offer.Status)
	require.NotNil(t, result.Offer.AcceptedAt)
	require.NotNil(t, result.Offer.LockedAt)

	require.Len(t, result.Offer.Lines, 2)
	require.NotNil(t, result.Offer.Lines[0].Accepted)
	assert.True(t, *result.Offer.Lines[0].Accepted)
	require.NotNil(t, result.Offer.Lines[1].Accepted)
	assert.False(t, *result.Offer.Lines[1].Accepted)

	snap, err := result.Offer.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(60000), snap.TotalCents)
	assert.True(t, snap.Partial)

	evs, err := events.ListByOffer(offer.ID)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	assert.Equal(t, models.EventAccepted, last.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, "partial", payload["mode"])
}

func TestAcceptFullClassification(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	// Line 3 has no price yet: it is implicitly excluded from a full
	// acceptance of the priced set.
	lines := []LineInput{
		{SequenceNo: 1, Name: "Chablis Premier Cru", Quantity: 12, UnitPriceCents: price(26500)},
		{SequenceNo: 2, Name: "Pouilly-Fumé", Quantity: 6, UnitPriceCents: price(34500)},
		{SequenceNo: 3, Name: "Sancerre (on request)", Quantity: 6},
	}

	t.Run("selection equal to priced set is full", func(t *testing.T) {
		offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{Lines: lines})
		result, err := engine.Accept(restaurant, offer.ID, []int{1, 2})
		require.NoError(t, err)
		assert.False(t, result.Partial)
		assert.Equal(t, int64(12*26500+6*34500), result.TotalCents)
	})

	t.Run("omitted selection means all priced lines", func(t *testing.T) {
		offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{Lines: lines})
		result, err := engine.Accept(restaurant, offer.ID, nil)
		require.NoError(t, err)
		assert.False(t, result.Partial)
		assert.Equal(t, []int{1, 2}, result.AcceptedSequences)
	})

	t.Run("strict subset of priced lines is partial", func(t *testing.T) {
		offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{Lines: lines})
		result, err := engine.Accept(restaurant, offer.ID, []int{2})
		require.NoError(t, err)
		assert.True(t, result.Partial)
	})
}

func TestAcceptMinimumQuantity(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	makeOffer := func() *models.Offer {
		return sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
			MinTotalQuantity: intp(12),
			Lines: []LineInput{
				{SequenceNo: 1, Name: "Rioja Reserva", Quantity: 6, UnitPriceCents: price(18500)},
				{SequenceNo: 2, Name: "Ribera del Duero", Quantity: 4, UnitPriceCents: price(21000)},
				{SequenceNo: 3, Name: "Albariño", Quantity: 2, UnitPriceCents: price(15500)},
			},
		})
	}

	t.Run("single short line reports shortfall", func(t *testing.T) {
		offer := makeOffer()
		_, err := engine.Accept(restaurant, offer.ID, []int{2})
		var moq *MoqNotMetError
		require.ErrorAs(t, err, &moq)
		assert.Equal(t, 12, moq.Minimum)
		assert.Equal(t, 4, moq.Selected)
		assert.Equal(t, 8, moq.Shortfall)
	})

	t.Run("two lines still short", func(t *testing.T) {
		offer := makeOffer()
		_, err := engine.Accept(restaurant, offer.ID, []int{1, 2})
		var moq *MoqNotMetError
		require.ErrorAs(t, err, &moq)
		assert.Equal(t, 2, moq.Shortfall)
	})

	t.Run("full selection meeting the minimum succeeds", func(t *testing.T) {
		offer := makeOffer()
		result, err := engine.Accept(restaurant, offer.ID, []int{1, 2, 3})
		require.NoError(t, err)
		assert.False(t, result.Partial)
	})
}

func TestAcceptMinimumQuantityAppliesToFullSelection(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	// The whole offer only carries 10 bottles: even taking everything cannot
	// reach the declared floor of 12.
	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		MinTotalQuantity: intp(12),
		Lines: []LineInput{
			{SequenceNo: 1, Name: "Bourgogne Rouge", Quantity: 6, UnitPriceCents: price(19500)},
			{SequenceNo: 2, Name: "Bourgogne Blanc", Quantity: 4, UnitPriceCents: price(18500)},
		},
	})

	for name, selection := range map[string][]int{
		"explicit full selection": {1, 2},
		"omitted selection":       nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Accept(restaurant, offer.ID, selection)
			var moq *MoqNotMetError
			require.ErrorAs(t, err, &moq)
			assert.Equal(t, 12, moq.Minimum)
			assert.Equal(t, 10, moq.Selected)
			assert.Equal(t, 2, moq.Shortfall)
		})
	}

	// Nothing committed.
	var reloaded models.Offer
	require.NoError(t, db.First(&reloaded, offer.ID).Error)
	assert.Equal(t, models.OfferSent, reloaded.Status)
	assert.Nil(t, reloaded.LockedAt)
}

func TestAcceptSelectionErrors(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		Lines: []LineInput{
			{SequenceNo: 1, Name: "Amarone", Quantity: 6, UnitPriceCents: price(42500)},
			{SequenceNo: 2, Name: "Valpolicella (price tbc)", Quantity: 6},
		},
	})

	t.Run("empty selection", func(t *testing.T) {
		_, err := engine.Accept(restaurant, offer.ID, []int{})
		var sel *InvalidSelectionError
		require.ErrorAs(t, err, &sel)
		assert.Equal(t, "empty_selection", sel.Reason)
	})

	t.Run("unknown line ids", func(t *testing.T) {
		_, err := engine.Accept(restaurant, offer.ID, []int{1, 99})
		var sel *InvalidSelectionError
		require.ErrorAs(t, err, &sel)
		assert.Equal(t, "unknown_lines", sel.Reason)
		assert.Equal(t, []uint{99}, sel.UnknownIDs)
	})

	t.Run("unpriced line selected", func(t *testing.T) {
		_, err := engine.Accept(restaurant, offer.ID, []int{1, 2})
		var inc *IncompleteLineError
		require.ErrorAs(t, err, &inc)
		assert.Equal(t, []int{2}, inc.Sequences)
	})
}

func TestAcceptIdempotentLock(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		Lines: []LineInput{{SequenceNo: 1, Name: "Chianti Classico", Quantity: 12, UnitPriceCents: price(21500)}},
	})

	first, err := engine.Accept(restaurant, offer.ID, nil)
	require.NoError(t, err)

	_, err = engine.Accept(restaurant, offer.ID, nil)
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.OfferAccepted, transition.Current)

	// accepted_at and the snapshot are untouched by the failed second call.
	var reloaded models.Offer
	require.NoError(t, db.First(&reloaded, offer.ID).Error)
	assert.Equal(t, first.Offer.AcceptedAt.Unix(), reloaded.AcceptedAt.Unix())
	assert.Equal(t, first.Offer.SnapshotRaw, reloaded.SnapshotRaw)
}

func TestAcceptRequiresSent(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	draft, err := store.Create(supplier, OfferInput{
		RestaurantID: restaurant.CompanyID,
		Lines:        []LineInput{{SequenceNo: 1, Name: "Riesling Kabinett", Quantity: 6, UnitPriceCents: price(14500)}},
	})
	require.NoError(t, err)

	_, err = engine.Accept(restaurant, draft.ID, nil)
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.OfferDraft, transition.Current)
}

func TestAcceptAllOrNothing(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, events := newStoreAndEngine(db)

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		MinTotalQuantity: intp(24),
		Lines: []LineInput{
			{SequenceNo: 1, Name: "Côtes du Rhône", Quantity: 6, UnitPriceCents: price(12500)},
			{SequenceNo: 2, Name: "Gigondas", Quantity: 6, UnitPriceCents: price(19500)},
		},
	})
	before, err := events.ListByOffer(offer.ID)
	require.NoError(t, err)

	// Partial below MOQ: nothing may change.
	_, err = engine.Accept(restaurant, offer.ID, []int{1})
	var moq *MoqNotMetError
	require.ErrorAs(t, err, &moq)

	var reloaded models.Offer
	require.NoError(t, db.Preload("Lines").First(&reloaded, offer.ID).Error)
	assert.Equal(t, models.OfferSent, reloaded.Status)
	assert.Nil(t, reloaded.AcceptedAt)
	assert.Nil(t, reloaded.LockedAt)
	assert.Empty(t, reloaded.SnapshotRaw)
	for _, l := range reloaded.Lines {
		assert.Nil(t, l.Accepted)
	}
	after, err := events.ListByOffer(offer.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "failed accept must not append events")
}

func TestSnapshotStability(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		Lines: []LineInput{{SequenceNo: 1, Name: "Barolo DOCG", Producer: "Marchesi di Barolo", Quantity: 6, UnitPriceCents: price(38500)}},
	})
	result, err := engine.Accept(restaurant, offer.ID, nil)
	require.NoError(t, err)

	// Simulate a later data-quality fix on the live row.
	require.NoError(t, db.Model(&models.OfferLine{}).
		Where("offer_id = ?", offer.ID).
		Updates(map[string]any{"producer": "Corrected Producer", "unit_price_cents": 1}).Error)

	var reloaded models.Offer
	require.NoError(t, db.First(&reloaded, offer.ID).Error)
	snap, err := reloaded.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "Marchesi di Barolo", snap.Lines[0].Producer)
	require.NotNil(t, snap.Lines[0].UnitPriceCents)
	assert.Equal(t, int64(38500), *snap.Lines[0].UnitPriceCents)
	assert.Equal(t, result.TotalCents, snap.TotalCents)
}

func TestIndependentMultiOfferAcceptance(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	second := models.Company{Name: "Vinimport Syd", Kind: models.CompanySupplier}
	require.NoError(t, db.Create(&second).Error)
	secondActor := Actor{CompanyID: second.ID, CompanyKind: models.CompanySupplier}

	agg := NewRequestAggregator(db)
	req, err := agg.CreateRequest(restaurant, "Husets röda", "", 24, nil)
	require.NoError(t, err)

	offerA := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		RequestID: &req.ID,
		Lines:     []LineInput{{SequenceNo: 1, Name: "Primitivo", Quantity: 24, UnitPriceCents: price(9900)}},
	})
	offerB := sentOffer(t, store, secondActor, restaurant.CompanyID, OfferInput{
		RequestID: &req.ID,
		Lines:     []LineInput{{SequenceNo: 1, Name: "Nero d'Avola", Quantity: 24, UnitPriceCents: price(10900)}},
	})

	_, err = engine.Accept(restaurant, offerA.ID, nil)
	require.NoError(t, err)

	// Accepting A never flips B.
	var b models.Offer
	require.NoError(t, db.First(&b, offerB.ID).Error)
	assert.Equal(t, models.OfferSent, b.Status)
	assert.Nil(t, b.LockedAt)

	_, err = engine.Accept(restaurant, offerB.ID, nil)
	require.NoError(t, err)

	var a models.Offer
	require.NoError(t, db.First(&a, offerA.ID).Error)
	assert.Equal(t, models.OfferAccepted, a.Status)

	// The legacy hint records the first acceptance only and is never a
	// source of truth.
	var reqRow models.Request
	require.NoError(t, db.First(&reqRow, req.ID).Error)
	require.NotNil(t, reqRow.AcceptedOfferID)
	assert.Equal(t, offerA.ID, *reqRow.AcceptedOfferID)
}

func TestAcceptTenantScope(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	other := models.Company{Name: "Annan Krog", Kind: models.CompanyRestaurant}
	require.NoError(t, db.Create(&other).Error)
	otherActor := Actor{CompanyID: other.ID, CompanyKind: models.CompanyRestaurant}

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		Lines: []LineInput{{SequenceNo: 1, Name: "Cava Brut", Quantity: 12, UnitPriceCents: price(11500)}},
	})

	_, err := engine.Accept(otherActor, offer.ID, nil)
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

func TestAcceptFlatShipping(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		ShippingTerms:    models.ShippingFlat,
		ShippingFeeCents: 5000,
		Lines:            []LineInput{{SequenceNo: 1, Name: "Grüner Veltliner", Quantity: 6, UnitPriceCents: price(13500)}},
	})
	result, err := engine.Accept(restaurant, offer.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6*13500+5000), result.TotalCents)
}

func TestRejectFlow(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, events := newStoreAndEngine(db)

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		Lines: []LineInput{{SequenceNo: 1, Name: "Beaujolais-Villages", Quantity: 12, UnitPriceCents: price(12000)}},
	})

	require.NoError(t, engine.Reject(restaurant, offer.ID, "budget cut"))

	var reloaded models.Offer
	require.NoError(t, db.First(&reloaded, offer.ID).Error)
	assert.Equal(t, models.OfferRejected, reloaded.Status)
	// Rejected offers are terminal but never snapshotted or locked.
	assert.Nil(t, reloaded.LockedAt)
	assert.Empty(t, reloaded.SnapshotRaw)

	evs, err := events.ListByOffer(offer.ID)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	assert.Equal(t, models.EventRejected, last.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, "budget cut", payload["reason"])

	// Terminal: neither reject nor accept may run again.
	err = engine.Reject(restaurant, offer.ID, "")
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.OfferRejected, transition.Current)

	_, err = engine.Accept(restaurant, offer.ID, nil)
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.OfferRejected, transition.Current)
}

func TestRejectRequiresSent(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, _ := newStoreAndEngine(db)

	draft, err := store.Create(supplier, OfferInput{
		RestaurantID: restaurant.CompanyID,
		Lines:        []LineInput{{SequenceNo: 1, Name: "Soave Classico", Quantity: 6, UnitPriceCents: price(9800)}},
	})
	require.NoError(t, err)

	err = engine.Reject(restaurant, draft.ID, "")
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.OfferDraft, transition.Current)
}

func TestAcceptedEventOrdering(t *testing.T) {
	db := setupTestDB(t)
	supplier, restaurant := seedMarketplace(t, db)
	store, engine, events := newStoreAndEngine(db)

	offer := sentOffer(t, store, supplier, restaurant.CompanyID, OfferInput{
		Lines: []LineInput{{SequenceNo: 1, Name: "Crozes-Hermitage", Quantity: 6, UnitPriceCents: price(17500)}},
	})
	_, err := engine.Accept(restaurant, offer.ID, nil)
	require.NoError(t, err)

	evs, err := events.ListByOffer(offer.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(evs), 3)
	assert.Equal(t, models.EventCreated, evs[0].Type)
	assert.Equal(t, models.EventAccepted, evs[len(evs)-1].Type)
	for i := 1; i < len(evs); i++ {
		assert.False(t, evs[i].CreatedAt.Before(evs[i-1].CreatedAt))
	}
}
