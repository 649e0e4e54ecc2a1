// Package kafka provides topic source and target nodes. Records travel
// as JSON objects keyed by field name.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Register adds the Kafka node types to the registry.
func Register(r *graph.Registry) error {
	if err := r.Register("kafka_source", func() graph.Node { return NewSource() }); err != nil {
		return err
	}
	return r.Register("kafka_target", func() graph.Node { return NewTarget() })
}

// Source consumes JSON records from a topic. A pipeline run is finite,
// so the source is bounded: it stops after max_records, which is
// required.
type Source struct {
	brokers    []string
	topic      string
	group      string
	maxRecords int
	fields     *metadata.FieldList
}

func NewSource() *Source {
	return &Source{}
}

func (s *Source) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "kafka_source",
		Label:       "Kafka Source",
		Description: "Consumes JSON records from a topic",
		Attributes: []graph.AttrSpec{
			{Name: "brokers", Label: "Brokers", Description: "Seed broker addresses", Required: true},
			{Name: "topic", Label: "Topic", Required: true},
			{Name: "group", Label: "Consumer group"},
			{Name: "max_records", Label: "Max records", Description: "Stop after this many records", Required: true},
			{Name: "fields", Label: "Fields", Description: "Field shorthands selecting JSON keys", Required: true},
		},
	}
}

func (s *Source) InputSlots() []graph.SlotSpec { return nil }

func (s *Source) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput, Fields: s.fields}}
}

func (s *Source) SetAttribute(name string, value any) error {
	switch name {
	case "brokers":
		return setStrings(&s.brokers, name, value)
	case "topic":
		return setString(&s.topic, name, value)
	case "group":
		return setString(&s.group, name, value)
	case "max_records":
		n, ok := value.(int)
		if !ok || n < 1 {
			return fmt.Errorf("%w: max_records expects a positive integer", graph.ErrBadAttribute)
		}
		s.maxRecords = n
		return nil
	case "fields":
		return setFields(&s.fields, value)
	default:
		return fmt.Errorf("%w: kafka_source does not recognize %q", graph.ErrUnknownAttribute, name)
	}
}

func (s *Source) Open(map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if len(s.brokers) == 0 || s.topic == "" {
		return nil, fmt.Errorf("kafka source: brokers and topic are required")
	}
	if s.maxRecords < 1 {
		return nil, fmt.Errorf("kafka source: max_records is required")
	}
	if s.fields == nil {
		return nil, fmt.Errorf("kafka source: no fields set")
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: s.fields}, nil
}

func (s *Source) Produce(ctx context.Context, out graph.Emitter) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(s.topic),
	}
	if s.group != "" {
		opts = append(opts, kgo.ConsumerGroup(s.group))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka source: %w", err)
	}
	defer client.Close()

	remaining := s.maxRecords
	for remaining > 0 {
		fetches := client.PollFetches(ctx)
		if err := fetches.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka source: %w", err)
		}
		iter := fetches.RecordIter()
		for !iter.Done() && remaining > 0 {
			kr := iter.Next()
			rec, err := RecordFromJSON(s.fields, kr.Value)
			if err != nil {
				return fmt.Errorf("kafka source: offset %d: %w", kr.Offset, err)
			}
			if err := out.Emit(graph.DefaultOutput, rec); err != nil {
				return err
			}
			remaining--
		}
	}
	return nil
}

func (s *Source) Process(context.Context, string, metadata.Record, graph.Emitter) error {
	return nil
}

func (s *Source) Finalize(context.Context, graph.Emitter) error { return nil }

// RecordFromJSON decodes one JSON object onto the field list. Keys not
// listed are dropped; listed keys without a value yield Missing.
func RecordFromJSON(fields *metadata.FieldList, data []byte) (metadata.Record, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return metadata.Record{}, err
	}
	values := make([]metadata.Value, 0, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		f := fields.At(i)
		raw, ok := doc[f.Name]
		if !ok || raw == nil {
			values = append(values, metadata.Missing)
			continue
		}
		v, err := valueFromJSON(raw, f.StorageType)
		if err != nil {
			return metadata.Record{}, fmt.Errorf("key %q: %w", f.Name, err)
		}
		values = append(values, v)
	}
	return metadata.NewRecord(fields, values...)
}

// valueFromJSON converts a decoded JSON value, honoring the target
// storage type. JSON numbers always decode as float64, so integer
// fields coerce.
func valueFromJSON(raw any, t metadata.StorageType) (metadata.Value, error) {
	switch t {
	case metadata.Integer:
		if f, ok := raw.(float64); ok {
			return metadata.IntValue(int64(f)), nil
		}
	case metadata.Date:
		if s, ok := raw.(string); ok {
			d, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return metadata.Missing, err
			}
			return metadata.DateValue(d), nil
		}
	}
	return metadata.ValueOf(raw)
}

// JSONFromRecord renders a record as a JSON object. Missing values are
// encoded as null.
func JSONFromRecord(rec metadata.Record) ([]byte, error) {
	doc := make(map[string]any, rec.Len())
	fields := rec.Fields()
	for i := 0; i < rec.Len(); i++ {
		v := rec.At(i)
		if d, ok := v.AsDate(); ok {
			doc[fields.At(i).Name] = d.Format(time.RFC3339)
			continue
		}
		doc[fields.At(i).Name] = v.Any()
	}
	return json.Marshal(doc)
}

// Target produces records onto a topic as JSON, flushing on Finalize.
type Target struct {
	brokers []string
	topic   string

	client *kgo.Client

	mu          sync.Mutex
	deliveryErr error
}

func NewTarget() *Target {
	return &Target{}
}

func (t *Target) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "kafka_target",
		Label:       "Kafka Target",
		Description: "Produces JSON records onto a topic",
		Attributes: []graph.AttrSpec{
			{Name: "brokers", Label: "Brokers", Description: "Seed broker addresses", Required: true},
			{Name: "topic", Label: "Topic", Required: true},
		},
	}
}

func (t *Target) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (t *Target) OutputSlots() []graph.SlotSpec { return nil }

func (t *Target) SetAttribute(name string, value any) error {
	switch name {
	case "brokers":
		return setStrings(&t.brokers, name, value)
	case "topic":
		return setString(&t.topic, name, value)
	default:
		return fmt.Errorf("%w: kafka_target does not recognize %q", graph.ErrUnknownAttribute, name)
	}
}

func (t *Target) Open(map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if len(t.brokers) == 0 || t.topic == "" {
		return nil, fmt.Errorf("kafka target: brokers and topic are required")
	}
	return nil, nil
}

func (t *Target) Process(ctx context.Context, _ string, rec metadata.Record, _ graph.Emitter) error {
	if t.client == nil {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(t.brokers...),
			kgo.DefaultProduceTopic(t.topic),
		)
		if err != nil {
			return fmt.Errorf("kafka target: %w", err)
		}
		t.client = client
	}
	if err := t.delivery(); err != nil {
		return err
	}
	value, err := JSONFromRecord(rec)
	if err != nil {
		return fmt.Errorf("kafka target: %w", err)
	}
	t.client.Produce(ctx, &kgo.Record{Value: value}, t.onDelivery)
	return nil
}

// onDelivery is the produce promise; the first failed delivery is kept
// and surfaced from Process or Finalize.
func (t *Target) onDelivery(_ *kgo.Record, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	if t.deliveryErr == nil {
		t.deliveryErr = err
	}
	t.mu.Unlock()
}

func (t *Target) delivery() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deliveryErr != nil {
		return fmt.Errorf("kafka target: delivery: %w", t.deliveryErr)
	}
	return nil
}

func (t *Target) Finalize(ctx context.Context, _ graph.Emitter) error {
	if t.client != nil {
		err := t.client.Flush(ctx)
		t.client.Close()
		t.client = nil
		if err != nil {
			return fmt.Errorf("kafka target: %w", err)
		}
	}
	return t.delivery()
}

func setString(dst *string, name string, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: %q expects a string, got %T", graph.ErrBadAttribute, name, value)
	}
	*dst = s
	return nil
}

func setStrings(dst *[]string, name string, value any) error {
	switch x := value.(type) {
	case []string:
		*dst = x
		return nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("%w: %q expects strings, got %T", graph.ErrBadAttribute, name, e)
			}
			out = append(out, s)
		}
		*dst = out
		return nil
	case string:
		*dst = []string{x}
		return nil
	default:
		return fmt.Errorf("%w: %q expects a string list, got %T", graph.ErrBadAttribute, name, value)
	}
}

func setFields(dst **metadata.FieldList, value any) error {
	specs, err := stringList(value)
	if err != nil {
		return fmt.Errorf("%w: fields %v", graph.ErrBadAttribute, err)
	}
	fields, err := metadata.ParseFieldList(specs)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrBadAttribute, err)
	}
	*dst = fields
	return nil
}

func stringList(value any) ([]string, error) {
	switch x := value.(type) {
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expects strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expects a string list, got %T", value)
	}
}
