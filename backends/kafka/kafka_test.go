package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

func orderFields() *metadata.FieldList {
	return metadata.MustFieldList(
		metadata.NewField("id", metadata.Integer),
		metadata.NewField("item", metadata.String),
		metadata.NewField("price", metadata.Float),
		metadata.NewField("placed", metadata.Date),
	)
}

func TestRecordFromJSON(t *testing.T) {
	data := []byte(`{"id": 7, "item": "mug", "price": 4.5, "placed": "2024-03-01T12:00:00Z", "extra": true}`)
	rec, err := RecordFromJSON(orderFields(), data)
	assert.NoError(t, err)

	id, _ := rec.At(0).AsInt()
	assert.Equal(t, int64(7), id)
	item, _ := rec.At(1).AsString()
	assert.Equal(t, "mug", item)
	price, _ := rec.At(2).AsFloat()
	assert.Equal(t, 4.5, price)
	placed, _ := rec.At(3).AsDate()
	assert.True(t, placed.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestRecordFromJSONMissingAndNull(t *testing.T) {
	data := []byte(`{"id": 7, "price": null}`)
	rec, err := RecordFromJSON(orderFields(), data)
	assert.NoError(t, err)
	assert.True(t, rec.At(1).IsMissing())
	assert.True(t, rec.At(2).IsMissing())
}

func TestRecordFromJSONBadDate(t *testing.T) {
	data := []byte(`{"id": 7, "placed": "yesterday"}`)
	_, err := RecordFromJSON(orderFields(), data)
	assert.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	fields := orderFields()
	rec := metadata.MustRecord(fields,
		metadata.IntValue(7),
		metadata.StringValue("mug"),
		metadata.Missing,
		metadata.DateValue(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	)

	data, err := JSONFromRecord(rec)
	assert.NoError(t, err)

	var doc map[string]any
	assert.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, nil, doc["price"])

	back, err := RecordFromJSON(fields, data)
	assert.NoError(t, err)
	assert.True(t, back.Equal(rec))
}

func TestSourceValidation(t *testing.T) {
	s := NewSource()
	_, err := s.Open(nil)
	assert.Error(t, err)

	assert.NoError(t, s.SetAttribute("brokers", "localhost:9092"))
	assert.NoError(t, s.SetAttribute("topic", "orders"))
	_, err = s.Open(nil)
	assert.Error(t, err) // max_records missing

	assert.NoError(t, s.SetAttribute("max_records", 100))
	assert.NoError(t, s.SetAttribute("fields", []any{"id:integer"}))
	outs, err := s.Open(nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"id"}, outs[graph.DefaultOutput].Names())

	assert.IsError(t, s.SetAttribute("max_records", 0), graph.ErrBadAttribute)
}

func TestTargetValidation(t *testing.T) {
	tg := NewTarget()
	_, err := tg.Open(nil)
	assert.Error(t, err)

	assert.NoError(t, tg.SetAttribute("brokers", []any{"a:9092", "b:9092"}))
	assert.NoError(t, tg.SetAttribute("topic", "orders"))
	_, err = tg.Open(nil)
	assert.NoError(t, err)

	assert.IsError(t, tg.SetAttribute("nope", 1), graph.ErrUnknownAttribute)
}

func TestRegister(t *testing.T) {
	r := graph.NewRegistry()
	assert.NoError(t, Register(r))
	n, err := r.New("kafka_target")
	assert.NoError(t, err)
	assert.Equal(t, "kafka_target", n.Info().Type)
}

func TestTargetSurfacesDeliveryError(t *testing.T) {
	tg := NewTarget()
	lost := errors.New("broker gone")
	tg.onDelivery(nil, nil)
	tg.onDelivery(nil, lost)
	tg.onDelivery(nil, errors.New("later failure"))

	// The first failed delivery wins and comes back from Finalize.
	err := tg.Finalize(context.Background(), nil)
	assert.IsError(t, err, lost)
}
