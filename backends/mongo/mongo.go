// Package mongo provides MongoDB collection source and target nodes.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// DefaultBatchSize is the number of buffered documents per InsertMany.
const DefaultBatchSize = 500

// Register adds the MongoDB node types to the registry.
func Register(r *graph.Registry) error {
	if err := r.Register("mongo_source", func() graph.Node { return NewSource() }); err != nil {
		return err
	}
	return r.Register("mongo_target", func() graph.Node { return NewTarget() })
}

// Source emits the documents of one collection as records. The record
// shape follows the declared fields; document keys not listed are
// ignored, listed keys absent from a document yield Missing.
type Source struct {
	uri        string
	database   string
	collection string
	fields     *metadata.FieldList
}

func NewSource() *Source {
	return &Source{}
}

func (s *Source) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "mongo_source",
		Label:       "MongoDB Source",
		Description: "Emits the documents of a collection",
		Attributes: []graph.AttrSpec{
			{Name: "uri", Label: "URI", Description: "Connection URI", Required: true},
			{Name: "database", Label: "Database", Required: true},
			{Name: "collection", Label: "Collection", Required: true},
			{Name: "fields", Label: "Fields", Description: "Field shorthands selecting document keys", Required: true},
		},
	}
}

func (s *Source) InputSlots() []graph.SlotSpec { return nil }

func (s *Source) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput, Fields: s.fields}}
}

func (s *Source) SetAttribute(name string, value any) error {
	switch name {
	case "uri":
		return setString(&s.uri, name, value)
	case "database":
		return setString(&s.database, name, value)
	case "collection":
		return setString(&s.collection, name, value)
	case "fields":
		return setFields(&s.fields, value)
	default:
		return fmt.Errorf("%w: mongo_source does not recognize %q", graph.ErrUnknownAttribute, name)
	}
}

func (s *Source) Open(map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if s.uri == "" || s.database == "" || s.collection == "" {
		return nil, fmt.Errorf("mongo source: uri, database and collection are required")
	}
	if s.fields == nil {
		return nil, fmt.Errorf("mongo source: no fields set")
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: s.fields}, nil
}

func (s *Source) Produce(ctx context.Context, out graph.Emitter) error {
	client, err := mongo.Connect(options.Client().ApplyURI(s.uri))
	if err != nil {
		return fmt.Errorf("mongo source: %w", err)
	}
	defer client.Disconnect(ctx)

	coll := client.Database(s.database).Collection(s.collection)
	cur, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("mongo source: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("mongo source: %w", err)
		}
		rec, err := RecordFromDocument(s.fields, doc)
		if err != nil {
			return fmt.Errorf("mongo source: %w", err)
		}
		if err := out.Emit(graph.DefaultOutput, rec); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("mongo source: %w", err)
	}
	return nil
}

func (s *Source) Process(context.Context, string, metadata.Record, graph.Emitter) error {
	return nil
}

func (s *Source) Finalize(context.Context, graph.Emitter) error { return nil }

// RecordFromDocument projects a BSON document onto the field list.
// Document keys without a field are dropped; fields without a document
// key get the Missing marker.
func RecordFromDocument(fields *metadata.FieldList, doc bson.M) (metadata.Record, error) {
	values := make([]metadata.Value, 0, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		name := fields.At(i).Name
		raw, ok := doc[name]
		if !ok {
			values = append(values, metadata.Missing)
			continue
		}
		v, err := valueFromBSON(raw)
		if err != nil {
			return metadata.Record{}, fmt.Errorf("key %q: %w", name, err)
		}
		values = append(values, v)
	}
	return metadata.NewRecord(fields, values...)
}

func valueFromBSON(raw any) (metadata.Value, error) {
	switch x := raw.(type) {
	case bson.DateTime:
		return metadata.DateValue(x.Time()), nil
	case bson.ObjectID:
		return metadata.StringValue(x.Hex()), nil
	case bson.Binary:
		return metadata.BinaryValue(x.Data), nil
	case time.Time:
		return metadata.DateValue(x), nil
	default:
		return metadata.ValueOf(raw)
	}
}

// DocumentFromRecord renders a record as a BSON document. Missing
// values are omitted rather than stored as null.
func DocumentFromRecord(rec metadata.Record) bson.M {
	doc := make(bson.M, rec.Len())
	fields := rec.Fields()
	for i := 0; i < rec.Len(); i++ {
		v := rec.At(i)
		if v.IsMissing() {
			continue
		}
		doc[fields.At(i).Name] = v.Any()
	}
	return doc
}

// Target inserts records into a collection as documents.
type Target struct {
	uri        string
	database   string
	collection string
	truncate   bool
	batchSize  int

	client *mongo.Client
	coll   *mongo.Collection
	batch  []any
}

func NewTarget() *Target {
	return &Target{batchSize: DefaultBatchSize}
}

func (t *Target) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "mongo_target",
		Label:       "MongoDB Target",
		Description: "Inserts records into a collection",
		Attributes: []graph.AttrSpec{
			{Name: "uri", Label: "URI", Description: "Connection URI", Required: true},
			{Name: "database", Label: "Database", Required: true},
			{Name: "collection", Label: "Collection", Required: true},
			{Name: "truncate", Label: "Truncate", Description: "Delete existing documents first"},
			{Name: "batch_size", Label: "Batch size", Description: "Documents per insert"},
		},
	}
}

func (t *Target) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (t *Target) OutputSlots() []graph.SlotSpec { return nil }

func (t *Target) SetAttribute(name string, value any) error {
	switch name {
	case "uri":
		return setString(&t.uri, name, value)
	case "database":
		return setString(&t.database, name, value)
	case "collection":
		return setString(&t.collection, name, value)
	case "truncate":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: truncate expects a boolean, got %T", graph.ErrBadAttribute, value)
		}
		t.truncate = b
		return nil
	case "batch_size":
		n, ok := value.(int)
		if !ok || n < 1 {
			return fmt.Errorf("%w: batch_size expects a positive integer", graph.ErrBadAttribute)
		}
		t.batchSize = n
		return nil
	default:
		return fmt.Errorf("%w: mongo_target does not recognize %q", graph.ErrUnknownAttribute, name)
	}
}

func (t *Target) Open(map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if t.uri == "" || t.database == "" || t.collection == "" {
		return nil, fmt.Errorf("mongo target: uri, database and collection are required")
	}
	return nil, nil
}

func (t *Target) connect(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(t.uri))
	if err != nil {
		return fmt.Errorf("mongo target: %w", err)
	}
	t.client = client
	t.coll = client.Database(t.database).Collection(t.collection)
	if t.truncate {
		if _, err := t.coll.DeleteMany(ctx, bson.D{}); err != nil {
			return fmt.Errorf("mongo target: truncating: %w", err)
		}
	}
	return nil
}

func (t *Target) Process(ctx context.Context, _ string, rec metadata.Record, _ graph.Emitter) error {
	if t.client == nil {
		if err := t.connect(ctx); err != nil {
			return err
		}
	}
	t.batch = append(t.batch, DocumentFromRecord(rec))
	if len(t.batch) >= t.batchSize {
		return t.flush(ctx)
	}
	return nil
}

func (t *Target) flush(ctx context.Context) error {
	if len(t.batch) == 0 {
		return nil
	}
	if _, err := t.coll.InsertMany(ctx, t.batch); err != nil {
		return fmt.Errorf("mongo target: %w", err)
	}
	t.batch = t.batch[:0]
	return nil
}

func (t *Target) Finalize(ctx context.Context, _ graph.Emitter) error {
	if t.client == nil {
		return nil
	}
	err := t.flush(ctx)
	if derr := t.client.Disconnect(ctx); derr != nil && err == nil {
		err = fmt.Errorf("mongo target: %w", derr)
	}
	t.client = nil
	t.coll = nil
	return err
}

func setString(dst *string, name string, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: %q expects a string, got %T", graph.ErrBadAttribute, name, value)
	}
	*dst = s
	return nil
}

func setFields(dst **metadata.FieldList, value any) error {
	var specs []string
	switch x := value.(type) {
	case []string:
		specs = x
	case []any:
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("%w: fields expects strings, got %T", graph.ErrBadAttribute, e)
			}
			specs = append(specs, s)
		}
	default:
		return fmt.Errorf("%w: fields expects a string list, got %T", graph.ErrBadAttribute, value)
	}
	fields, err := metadata.ParseFieldList(specs)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrBadAttribute, err)
	}
	*dst = fields
	return nil
}
